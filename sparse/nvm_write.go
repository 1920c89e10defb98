package sparse

import (
	"io"

	"go.viam.com/reconio/config"
	"go.viam.com/reconio/internal/textio"
	"go.viam.com/reconio/spatialmath"
)

const nvmPLYComment = `#the last part of NVM file points to the PLY files
#the first number is the number of associated PLY files
#each following number gives a model-index that has PLY`

// Write validates rec and writes it as a single model NVM file. The file is
// NVM_V3_R9T when the first camera holds a matrix rotation and NVM_V3
// otherwise. Nothing is written when validation fails.
func Write(w io.Writer, rec *Reconstruction, cfg *config.Config) error {
	f := &File{Models: []*Reconstruction{rec}}
	if len(rec.Cameras) > 0 {
		f.RotationForm = rec.Cameras[0].Rotation.Form()
	}
	return WriteFile(w, f, cfg)
}

// WriteFile validates f and writes it. Rotations are converted to the
// file's rotation form. Nothing is written when validation fails.
func WriteFile(w io.Writer, f *File, cfg *config.Config) error {
	cfg, err := config.Resolve(cfg)
	if err != nil {
		return err
	}
	if err := f.Validate(cfg); err != nil {
		return err
	}

	tw := textio.NewWriter(w, cfg.FloatPrecision)
	header := []string{nvmSignature + nvmVersion}
	if f.RotationForm == spatialmath.MatrixForm {
		header[0] += nvmMatrixTag
	}
	if k := f.Calibration; k != nil {
		header = append(header, nvmFixedK)
		header = append(header, tw.Floats(k.Fx, k.Cx, k.Fy, k.Cy, k.R)...)
	}
	tw.Line(header...)

	for _, m := range f.Models {
		tw.Line()
		writeModel(tw, m, f.RotationForm)
	}

	tw.Line()
	tw.Line("0")
	tw.Line()
	tw.Line(nvmPLYComment)
	tw.Line(textio.Join([]string{textio.Int(len(f.PLYModels))}, textio.Ints(f.PLYModels))...)
	return tw.Flush()
}

func writeModel(tw *textio.Writer, rec *Reconstruction, form spatialmath.RotationForm) {
	tw.Line(textio.Int(len(rec.Cameras)))
	for i := range rec.Cameras {
		cam := &rec.Cameras[i]
		name := cam.ImageName
		if name == "" {
			name = noImageName
		}
		var rot []string
		var pos []string
		if form == spatialmath.MatrixForm {
			m := cam.Rotation.RotationMatrix()
			rot = tw.Floats(m[:]...)
			t := spatialmath.MatrixMulVec(m, cam.Center).Mul(-1)
			pos = tw.Floats(t.X, t.Y, t.Z)
		} else {
			q := cam.Rotation.Quaternion().Components()
			rot = tw.Floats(q[:]...)
			pos = tw.Floats(cam.Center.X, cam.Center.Y, cam.Center.Z)
		}
		tw.Line(textio.Join(
			[]string{name, tw.Float(cam.FocalLength)},
			rot,
			pos,
			[]string{tw.Float(cam.RadialDistortion), "0"},
		)...)
	}

	tw.Line()
	tw.Line(textio.Int(len(rec.Points)))
	for i := range rec.Points {
		pt := &rec.Points[i]
		fields := make([]string, 0, 7+4*len(pt.Observations))
		fields = append(fields, tw.Floats(pt.Position.X, pt.Position.Y, pt.Position.Z)...)
		fields = append(fields,
			textio.Int(int(pt.Color.R)), textio.Int(int(pt.Color.G)), textio.Int(int(pt.Color.B)),
			textio.Int(len(pt.Observations)))
		for _, obs := range pt.Observations {
			fields = append(fields,
				textio.Int(obs.CameraIndex), textio.Int(obs.FeatureIndex),
				tw.Float(obs.Coord.X), tw.Float(obs.Coord.Y))
		}
		tw.Line(fields...)
	}
}
