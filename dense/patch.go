package dense

import (
	"io"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/reconio/config"
	"go.viam.com/reconio/formaterr"
	"go.viam.com/reconio/internal/textio"
	"go.viam.com/reconio/logging"
)

const (
	patchSource = formaterr.Source("patch")

	patchFileSignature = "PATCHES"
	patchSignature     = "PATCHS"
	maxPreallocate     = 1 << 16
)

// ReadPatches parses a PMVS patch file. Every camera index must be below
// cameras.NumCameras().
func ReadPatches(r io.Reader, cameras CameraUniverse, cfg *config.Config, logger logging.Logger) ([]Patch, error) {
	if cameras == nil {
		return nil, errors.New("a camera universe is required to read patches")
	}
	cfg, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}
	logger = logging.OrBlank(logger)
	numCameras := cameras.NumCameras()

	in := textio.NewReader(r, patchSource)
	rec, err := in.MustNext(patchFileSignature)
	if err != nil {
		return nil, err
	}
	if rec.Len() != 1 || rec.Fields[0] != patchFileSignature {
		return nil, rec.E(formaterr.MalformedHeader, "missing "+patchFileSignature+" signature")
	}
	n, _, err := in.ReadCountLine("patch count")
	if err != nil {
		return nil, err
	}

	patches := make([]Patch, 0, min(n, maxPreallocate))
	for i := 0; i < n; i++ {
		p, err := readPatch(in, i, numCameras, cfg)
		if err != nil {
			return nil, err
		}
		patches = append(patches, p)
	}
	if err := in.ExpectEnd("patches"); err != nil {
		return nil, err
	}
	logger.Debugw("read PMVS patches", "patches", len(patches), "cameras", numCameras)
	return patches, nil
}

func readPatch(in *textio.Reader, idx, numCameras int, cfg *config.Config) (Patch, error) {
	var p Patch
	rec, err := in.MustNext(patchSignature)
	if err != nil {
		return p, err
	}
	if rec.Len() != 1 || rec.Fields[0] != patchSignature {
		return p, rec.E(formaterr.CountMismatch, formaterr.Index(idx), "expected "+patchSignature+" record")
	}
	head := rec

	center, err := readHomogeneous(in, "patch center", 1, cfg)
	if err != nil {
		return p, err
	}
	p.Center = center
	normal, err := readHomogeneous(in, "patch normal", 0, cfg)
	if err != nil {
		return p, err
	}
	p.Normal = normal

	rec, err = in.MustNext("patch score")
	if err != nil {
		return p, err
	}
	var score [3]float64
	if err := rec.Floats("patch score", score[:]); err != nil {
		return p, err
	}
	if err := rec.Done("patch score"); err != nil {
		return p, err
	}
	p.Score, p.Debug = score[0], [2]float64{score[1], score[2]}

	if p.VisibleCameras, err = readIndexList(in, "visible camera"); err != nil {
		return p, err
	}
	if p.TexturedCameras, err = readIndexList(in, "textured camera"); err != nil {
		return p, err
	}
	if len(p.VisibleCameras) > 0 {
		p.ReferenceCamera = p.VisibleCameras[0]
	}
	if err := ValidatePatch(&p, idx, numCameras, cfg); err != nil {
		return p, head.Locate(err)
	}
	return p, nil
}

// readHomogeneous reads "x y z w" and checks w against want.
func readHomogeneous(in *textio.Reader, what string, want float64, cfg *config.Config) (r3.Vector, error) {
	rec, err := in.MustNext(what)
	if err != nil {
		return r3.Vector{}, err
	}
	var v [4]float64
	if err := rec.Floats(what, v[:]); err != nil {
		return r3.Vector{}, err
	}
	if err := rec.Done(what); err != nil {
		return r3.Vector{}, err
	}
	if math.Abs(v[3]-want) > cfg.Tolerance.Absolute {
		return r3.Vector{}, rec.E(formaterr.InvalidGeometry, what+" has homogeneous coordinate "+textio.FormatFloat(v[3], -1))
	}
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}, nil
}

// readIndexList reads a count line followed, when the count is positive, by a
// line of exactly that many indices.
func readIndexList(in *textio.Reader, what string) ([]int, error) {
	n, _, err := in.ReadCountLine(what + " count")
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	rec, err := in.MustNext(what + " list")
	if err != nil {
		return nil, err
	}
	if rec.Len() != n {
		return nil, rec.E(formaterr.CountMismatch,
			"declared "+textio.Int(n)+" "+what+"s but found "+textio.Int(rec.Len()))
	}
	out := make([]int, n)
	for i := range out {
		if out[i], err = rec.Int(what); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// WritePatches validates patches against cameras and writes them as a PMVS
// patch file. Nothing is written when validation fails.
func WritePatches(w io.Writer, patches []Patch, cameras CameraUniverse, cfg *config.Config) error {
	if cameras == nil {
		return errors.New("a camera universe is required to write patches")
	}
	cfg, err := config.Resolve(cfg)
	if err != nil {
		return err
	}
	if err := validatePatches(patches, cameras.NumCameras(), cfg); err != nil {
		return err
	}
	return writePatches(w, patches, cfg)
}

func writePatches(w io.Writer, patches []Patch, cfg *config.Config) error {
	tw := textio.NewWriter(w, cfg.FloatPrecision)
	tw.Line(patchFileSignature)
	tw.Line(textio.Int(len(patches)))
	for i := range patches {
		p := &patches[i]
		tw.Line(patchSignature)
		tw.Line(textio.Join(tw.Floats(p.Center.X, p.Center.Y, p.Center.Z), []string{"1"})...)
		tw.Line(textio.Join(tw.Floats(p.Normal.X, p.Normal.Y, p.Normal.Z), []string{"0"})...)
		tw.Line(tw.Floats(p.Score, p.Debug[0], p.Debug[1])...)
		tw.Line(textio.Int(len(p.VisibleCameras)))
		tw.Line(textio.Ints(p.VisibleCameras)...)
		tw.Line(textio.Int(len(p.TexturedCameras)))
		tw.Line(textio.Ints(p.TexturedCameras)...)
		tw.Line()
	}
	return tw.Flush()
}
