// Package sparse defines a sparse structure-from-motion reconstruction
// (cameras, 3D points and their observation tracks) and reads and writes it
// in the VisualSFM NVM format.
package sparse

import (
	"image/color"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/reconio/config"
	"go.viam.com/reconio/formaterr"
	"go.viam.com/reconio/spatialmath"
)

// Camera is a calibrated, posed camera.
type Camera struct {
	// ImageName identifies the source image; empty when unknown.
	ImageName        string
	FocalLength      float64
	Rotation         spatialmath.Rotation
	Center           r3.Vector
	RadialDistortion float64
}

// Translation returns t = -R·c, the camera translation used by formats that
// store [R|t] instead of a center.
func (c *Camera) Translation() r3.Vector {
	return c.Rotation.Apply(c.Center).Mul(-1)
}

// CenterFromTranslation returns c = -Rᵀ·t.
func CenterFromTranslation(rot spatialmath.Rotation, t r3.Vector) r3.Vector {
	return spatialmath.MatrixMulVec(rot.RotationMatrix().Transpose(), t).Mul(-1)
}

// Observation is one appearance of a point in an image: a track entry.
type Observation struct {
	CameraIndex  int
	FeatureIndex int
	// Coord is the image measurement, relative to the image center.
	Coord r2.Point
}

// Point is a reconstructed 3D point and its track.
type Point struct {
	Position     r3.Vector
	Color        color.NRGBA
	Observations []Observation
}

// Reconstruction is one sparse model. Cameras are identified by their index.
type Reconstruction struct {
	Cameras []Camera
	Points  []Point
}

// NumCameras returns the number of cameras, so that a Reconstruction can
// serve as the camera universe of a dense reconstruction.
func (rec *Reconstruction) NumCameras() int {
	return len(rec.Cameras)
}

// FixedK is the shared calibration declared by an "NVM_V3 FixedK" header.
type FixedK struct {
	Fx, Cx, Fy, Cy, R float64
}

// File is the content of an NVM file: one or more models plus the optional
// list of models that have an associated dense PLY file.
type File struct {
	// RotationForm is QuaternionForm for NVM_V3 and MatrixForm for
	// NVM_V3_R9T files.
	RotationForm spatialmath.RotationForm
	Calibration  *FixedK
	Models       []*Reconstruction
	PLYModels    []int
}

// ValidateCamera checks a single camera.
func ValidateCamera(cam *Camera, idx int, cfg *config.Config) error {
	if err := cam.Rotation.Validate(cfg.Tolerance.Rotation); err != nil {
		return formaterr.E(formaterr.InvalidGeometry, formaterr.Index(idx), "camera rotation", err)
	}
	if !spatialmath.IsFinite(cam.FocalLength, cam.RadialDistortion) || !spatialmath.VectorIsFinite(cam.Center) {
		return formaterr.E(formaterr.InvalidGeometry, formaterr.Index(idx), "camera has non-finite parameters")
	}
	if strings.ContainsAny(cam.ImageName, " \t\r\n") {
		return formaterr.E(formaterr.InvalidGeometry, formaterr.Index(idx), "camera image name contains whitespace")
	}
	return nil
}

// ValidateObservation checks that obs references one of numCameras cameras.
func ValidateObservation(obs *Observation, numCameras int) error {
	if obs.CameraIndex < 0 || obs.CameraIndex >= numCameras {
		return formaterr.E(formaterr.DanglingReference, formaterr.Index(obs.CameraIndex),
			"observation references a camera that does not exist")
	}
	if !spatialmath.IsFinite(obs.Coord.X, obs.Coord.Y) {
		return formaterr.E(formaterr.InvalidGeometry, "observation has non-finite coordinates")
	}
	return nil
}

// ValidatePoint checks a point and its track against numCameras cameras.
func ValidatePoint(pt *Point, idx, numCameras int) error {
	if !spatialmath.VectorIsFinite(pt.Position) {
		return formaterr.E(formaterr.InvalidGeometry, formaterr.Index(idx), "point has non-finite position")
	}
	if len(pt.Observations) == 0 {
		return formaterr.E(formaterr.InvalidGeometry, formaterr.Index(idx), "point has no observations")
	}
	for i := range pt.Observations {
		if err := ValidateObservation(&pt.Observations[i], numCameras); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks every invariant of the reconstruction and returns the first
// violation found.
func (rec *Reconstruction) Validate(cfg *config.Config) error {
	cfg = config.OrDefault(cfg)
	for i := range rec.Cameras {
		if err := ValidateCamera(&rec.Cameras[i], i, cfg); err != nil {
			return err
		}
	}
	for i := range rec.Points {
		if err := ValidatePoint(&rec.Points[i], i, len(rec.Cameras)); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks every model of the file and the PLY model list.
func (f *File) Validate(cfg *config.Config) error {
	if len(f.Models) == 0 {
		return formaterr.E(formaterr.CountMismatch, "file has no models")
	}
	for _, m := range f.Models {
		if len(m.Cameras) == 0 {
			return formaterr.E(formaterr.CountMismatch, "model has no cameras")
		}
		if err := m.Validate(cfg); err != nil {
			return err
		}
	}
	for _, idx := range f.PLYModels {
		if idx < 0 || idx >= len(f.Models) {
			return formaterr.E(formaterr.DanglingReference, formaterr.Index(idx), "PLY entry references a model that does not exist")
		}
	}
	return nil
}

// AlmostEqual reports whether two reconstructions are equal within the
// configured absolute and relative tolerances.
func AlmostEqual(a, b *Reconstruction, cfg *config.Config) bool {
	cfg = config.OrDefault(cfg)
	abs, rel := cfg.Tolerance.Absolute, cfg.Tolerance.Relative
	if len(a.Cameras) != len(b.Cameras) || len(a.Points) != len(b.Points) {
		return false
	}
	for i := range a.Cameras {
		ca, cb := &a.Cameras[i], &b.Cameras[i]
		if ca.ImageName != cb.ImageName ||
			!spatialmath.AlmostEqual(ca.FocalLength, cb.FocalLength, abs, rel) ||
			!spatialmath.AlmostEqual(ca.RadialDistortion, cb.RadialDistortion, abs, rel) ||
			!spatialmath.VectorAlmostEqual(ca.Center, cb.Center, abs, rel) ||
			!spatialmath.RotationAlmostEqual(ca.Rotation, cb.Rotation, abs) {
			return false
		}
	}
	for i := range a.Points {
		pa, pb := &a.Points[i], &b.Points[i]
		if !sameRGB(pa.Color, pb.Color) ||
			len(pa.Observations) != len(pb.Observations) ||
			!spatialmath.VectorAlmostEqual(pa.Position, pb.Position, abs, rel) {
			return false
		}
		for j := range pa.Observations {
			oa, ob := &pa.Observations[j], &pb.Observations[j]
			if oa.CameraIndex != ob.CameraIndex || oa.FeatureIndex != ob.FeatureIndex ||
				!spatialmath.PointAlmostEqual(oa.Coord, ob.Coord, abs, rel) {
				return false
			}
		}
	}
	return true
}

// sameRGB ignores alpha, which the formats do not store.
func sameRGB(a, b color.NRGBA) bool {
	return a.R == b.R && a.G == b.G && a.B == b.B
}
