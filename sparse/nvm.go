package sparse

import (
	"io"
	"strings"

	"github.com/golang/geo/r3"

	"go.viam.com/reconio/config"
	"go.viam.com/reconio/formaterr"
	"go.viam.com/reconio/internal/textio"
	"go.viam.com/reconio/logging"
	"go.viam.com/reconio/spatialmath"
)

const (
	nvmSource = formaterr.Source("nvm")

	nvmSignature   = "NVM_V"
	nvmVersion     = "3"
	nvmMatrixTag   = "_R9T"
	nvmFixedK      = "FixedK"
	nvmComment     = "#"
	noImageName    = "-"
	maxPreallocate = 1 << 16
)

// Read parses the header and the first model of an NVM file. Any further
// models and the PLY section are left unread.
func Read(r io.Reader, cfg *config.Config, logger logging.Logger) (*Reconstruction, error) {
	p, err := newNVMParser(r, cfg, logger)
	if err != nil {
		return nil, err
	}
	rec, err := p.readModel()
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, formaterr.E(nvmSource, formaterr.CountMismatch, formaterr.Line(p.r.Line()), "file contains no models")
	}
	p.logModel(0, rec)
	return rec, nil
}

// ReadFile parses a whole NVM file: every model up to the terminating zero
// camera count (or end of input) and the optional PLY section.
func ReadFile(r io.Reader, cfg *config.Config, logger logging.Logger) (*File, error) {
	p, err := newNVMParser(r, cfg, logger)
	if err != nil {
		return nil, err
	}
	f := &File{RotationForm: p.form, Calibration: p.fixedK}
	for {
		if len(f.Models) > 0 && p.atEnd() {
			return f, nil
		}
		rec, err := p.readModel()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			break
		}
		p.logModel(len(f.Models), rec)
		f.Models = append(f.Models, rec)
	}
	if len(f.Models) == 0 {
		return nil, formaterr.E(nvmSource, formaterr.CountMismatch, formaterr.Line(p.r.Line()), "file contains no models")
	}
	plyModels, err := p.readPLYSection(len(f.Models))
	if err != nil {
		return nil, err
	}
	f.PLYModels = plyModels
	return f, nil
}

type nvmParser struct {
	r      *textio.Reader
	cfg    *config.Config
	logger logging.Logger

	form   spatialmath.RotationForm
	fixedK *FixedK
	peeked *textio.Record
}

func newNVMParser(r io.Reader, cfg *config.Config, logger logging.Logger) (*nvmParser, error) {
	cfg, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}
	p := &nvmParser{
		r:      textio.NewReader(r, nvmSource),
		cfg:    cfg,
		logger: logging.OrBlank(logger),
	}
	p.r.SetComment(nvmComment)
	if err := p.readHeader(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *nvmParser) next(what string) (*textio.Record, error) {
	if rec := p.peeked; rec != nil {
		p.peeked = nil
		return rec, nil
	}
	return p.r.MustNext(what)
}

// atEnd reports whether only blank lines and comments remain. A read failure
// is left for the next read to report.
func (p *nvmParser) atEnd() bool {
	if p.peeked != nil {
		return false
	}
	rec, err := p.r.Next()
	if err != nil {
		return err == io.EOF
	}
	p.peeked = rec
	return false
}

func (p *nvmParser) readHeader() error {
	rec, err := p.r.MustNext("NVM signature")
	if err != nil {
		return err
	}
	rec.Malformed = formaterr.MalformedHeader
	sig, err := rec.Token("signature")
	if err != nil {
		return err
	}
	if !strings.HasPrefix(sig, nvmSignature) {
		return rec.E(formaterr.MalformedHeader, "missing NVM signature, found "+sig)
	}
	switch strings.TrimPrefix(sig, nvmSignature) {
	case nvmVersion:
		p.form = spatialmath.QuaternionForm
	case nvmVersion + nvmMatrixTag:
		p.form = spatialmath.MatrixForm
	default:
		return rec.E(formaterr.UnsupportedVersion, "NVM version "+sig+" is not supported")
	}
	if rec.Remaining() == 0 {
		return nil
	}
	opt, err := rec.Token("header option")
	if err != nil {
		return err
	}
	if opt != nvmFixedK {
		return rec.E(formaterr.MalformedHeader, "unknown header option "+opt)
	}
	var k [5]float64
	if err := rec.Floats("FixedK parameter", k[:]); err != nil {
		if formaterr.Is(formaterr.CountMismatch, err) {
			return rec.E(formaterr.MalformedHeader, "FixedK needs 5 parameters")
		}
		return err
	}
	if !spatialmath.IsFinite(k[:]...) {
		return rec.E(formaterr.MalformedHeader, "FixedK parameters must be finite")
	}
	if rec.Remaining() != 0 {
		return rec.E(formaterr.MalformedHeader, "unexpected data after FixedK parameters")
	}
	p.fixedK = &FixedK{Fx: k[0], Cx: k[1], Fy: k[2], Cy: k[3], R: k[4]}
	return nil
}

// readModel reads one model. It returns nil without error when the camera
// count is zero, which terminates the model list.
func (p *nvmParser) readModel() (*Reconstruction, error) {
	numCams, err := p.readCount("camera count")
	if err != nil {
		return nil, err
	}
	if numCams == 0 {
		return nil, nil
	}
	rec := &Reconstruction{Cameras: make([]Camera, 0, min(numCams, maxPreallocate))}
	for i := 0; i < numCams; i++ {
		line, err := p.next("camera")
		if err != nil {
			return nil, err
		}
		cam, err := p.parseCamera(line, i)
		if err != nil {
			return nil, err
		}
		rec.Cameras = append(rec.Cameras, cam)
	}

	numPoints, err := p.readCount("point count")
	if err != nil {
		return nil, err
	}
	rec.Points = make([]Point, 0, min(numPoints, maxPreallocate))
	for i := 0; i < numPoints; i++ {
		line, err := p.next("point")
		if err != nil {
			return nil, err
		}
		pt, err := p.parsePoint(line, i, numCams)
		if err != nil {
			return nil, err
		}
		rec.Points = append(rec.Points, pt)
	}
	return rec, nil
}

func (p *nvmParser) readCount(what string) (int, error) {
	if p.peeked == nil {
		n, _, err := p.r.ReadCountLine(what)
		return n, err
	}
	rec := p.peeked
	p.peeked = nil
	rec.Malformed = formaterr.MalformedHeader
	n, err := rec.Count(what)
	if err != nil {
		return 0, err
	}
	if err := rec.Done(what); err != nil {
		return 0, err
	}
	return n, nil
}

func (p *nvmParser) parseCamera(rec *textio.Record, idx int) (Camera, error) {
	var cam Camera
	name, err := rec.Token("image name")
	if err != nil {
		return cam, err
	}
	if name != noImageName {
		cam.ImageName = name
	}
	if cam.FocalLength, err = rec.Float("focal length"); err != nil {
		return cam, err
	}

	var pos [3]float64
	switch p.form {
	case spatialmath.MatrixForm:
		var m spatialmath.RotationMatrix
		if err := rec.Floats("rotation", m[:]); err != nil {
			return cam, err
		}
		cam.Rotation = spatialmath.NewMatrixRotation(m)
	default:
		var q [4]float64
		if err := rec.Floats("rotation", q[:]); err != nil {
			return cam, err
		}
		cam.Rotation = spatialmath.NewQuaternionRotation(spatialmath.NewQuaternion(q[0], q[1], q[2], q[3]))
	}
	if err := rec.Floats("camera position", pos[:]); err != nil {
		return cam, err
	}
	if cam.RadialDistortion, err = rec.Float("radial distortion"); err != nil {
		return cam, err
	}
	// Trailing zero, unused.
	if _, err := rec.Float("camera terminator"); err != nil {
		return cam, err
	}
	if err := rec.Done("camera"); err != nil {
		return cam, err
	}

	cam.Center = r3.Vector{X: pos[0], Y: pos[1], Z: pos[2]}
	if p.form == spatialmath.MatrixForm {
		cam.Center = CenterFromTranslation(cam.Rotation, cam.Center)
	}
	if err := ValidateCamera(&cam, idx, p.cfg); err != nil {
		return cam, rec.Locate(err)
	}
	return cam, nil
}

func (p *nvmParser) parsePoint(rec *textio.Record, idx, numCams int) (Point, error) {
	var pt Point
	var pos [3]float64
	if err := rec.Floats("point position", pos[:]); err != nil {
		return pt, err
	}
	pt.Position = r3.Vector{X: pos[0], Y: pos[1], Z: pos[2]}
	var rgb [3]int
	for i := range rgb {
		v, err := rec.Int("point color")
		if err != nil {
			return pt, err
		}
		if v < 0 || v > 255 {
			return pt, rec.E(formaterr.InvalidGeometry, formaterr.Index(idx), "point color component out of range")
		}
		rgb[i] = v
	}
	pt.Color.R, pt.Color.G, pt.Color.B, pt.Color.A = uint8(rgb[0]), uint8(rgb[1]), uint8(rgb[2]), 255

	m, err := rec.Int("observation count")
	if err != nil {
		return pt, err
	}
	if m <= 0 {
		return pt, rec.E(formaterr.InvalidGeometry, formaterr.Index(idx), "point has no observations")
	}
	if rec.Remaining()%4 != 0 || rec.Remaining()/4 != m {
		return pt, rec.E(formaterr.CountMismatch, formaterr.Index(idx),
			"point declares "+textio.Int(m)+" observations but has "+textio.Int(rec.Remaining())+" observation fields")
	}
	pt.Observations = make([]Observation, m)
	for i := range pt.Observations {
		obs := &pt.Observations[i]
		if obs.CameraIndex, err = rec.Int("observation camera"); err != nil {
			return pt, err
		}
		if obs.FeatureIndex, err = rec.Int("observation feature"); err != nil {
			return pt, err
		}
		if obs.Coord.X, err = rec.Float("observation x"); err != nil {
			return pt, err
		}
		if obs.Coord.Y, err = rec.Float("observation y"); err != nil {
			return pt, err
		}
	}
	if err := ValidatePoint(&pt, idx, numCams); err != nil {
		return pt, rec.Locate(err)
	}
	return pt, nil
}

// readPLYSection reads "<n> <model indices...>"; the indices may span lines.
func (p *nvmParser) readPLYSection(numModels int) ([]int, error) {
	if p.atEnd() {
		return nil, nil
	}
	rec, err := p.next("PLY section")
	if err != nil {
		return nil, err
	}
	rec.Malformed = formaterr.MalformedHeader
	n, err := rec.Count("PLY file count")
	if err != nil {
		return nil, err
	}
	rec.Malformed = 0
	out := make([]int, 0, min(n, maxPreallocate))
	for {
		for rec.Remaining() > 0 && len(out) < n {
			idx, err := rec.Int("PLY model index")
			if err != nil {
				return nil, err
			}
			if idx < 0 || idx >= numModels {
				return nil, rec.E(formaterr.DanglingReference, formaterr.Index(idx), "PLY entry references a model that does not exist")
			}
			out = append(out, idx)
		}
		if err := rec.Done("PLY section"); err != nil {
			return nil, err
		}
		if len(out) == n {
			break
		}
		if rec, err = p.next("PLY model index"); err != nil {
			return nil, err
		}
	}
	if err := p.r.ExpectEnd("PLY section"); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *nvmParser) logModel(model int, rec *Reconstruction) {
	s := Summarize(rec)
	p.logger.Debugw("read NVM model",
		"model", model,
		"cameras", s.Cameras,
		"points", s.Points,
		"observations", s.Observations,
		"mean_track_length", s.MeanTrackLength)
}
