// Package dense defines a dense multi-view stereo reconstruction (oriented
// patches plus a PLY point cloud or mesh) and reads and writes it in the PMVS
// patch and PLY formats.
package dense

import (
	"image/color"
	"slices"
	"strconv"

	"github.com/golang/geo/r3"
	"github.com/samber/lo"

	"go.viam.com/reconio/config"
	"go.viam.com/reconio/formaterr"
	"go.viam.com/reconio/pointcloud"
	"go.viam.com/reconio/spatialmath"
)

// CameraUniverse is the set of cameras patches may reference, identified by
// index. *sparse.Reconstruction satisfies it.
type CameraUniverse interface {
	NumCameras() int
}

// CameraCount is a CameraUniverse of the given size.
type CameraCount int

// NumCameras returns n.
func (n CameraCount) NumCameras() int {
	return int(n)
}

// Patch is an oriented surface patch seen by one or more cameras.
type Patch struct {
	Center r3.Vector
	// Normal is a unit vector.
	Normal          r3.Vector
	ReferenceCamera int
	Score           float64
	// Debug holds the two diagnostic values PMVS writes after the score.
	Debug [2]float64
	// VisibleCameras lists the cameras the patch is visible in, reference
	// camera first.
	VisibleCameras []int
	// TexturedCameras lists cameras whose images are textured at the patch
	// but were not accepted as visible.
	TexturedCameras []int
}

// Vertex is a PLY vertex.
type Vertex struct {
	Position  r3.Vector
	Normal    r3.Vector
	HasNormal bool
	Color     color.NRGBA
	HasColor  bool
}

// Face is a polygon given by vertex indices.
type Face []int

// Mesh is the content of a PLY file.
type Mesh struct {
	Vertices []Vertex
	Faces    []Face
	Comments []string
}

// Reconstruction is a dense model: patches plus a point cloud or mesh, valid
// against a camera universe of NumCameras cameras.
type Reconstruction struct {
	Patches    []Patch
	Vertices   []Vertex
	Faces      []Face
	Comments   []string
	NumCameras int
}

func checkCamera(idx, numCameras int, what string, patch int) error {
	if idx < 0 || idx >= numCameras {
		return formaterr.E(formaterr.DanglingReference, formaterr.Index(idx),
			what+" of patch "+strconv.Itoa(patch)+" references a camera that does not exist")
	}
	return nil
}

// ValidatePatch checks a single patch against numCameras cameras.
func ValidatePatch(p *Patch, idx, numCameras int, cfg *config.Config) error {
	if !spatialmath.VectorIsFinite(p.Center) || !spatialmath.VectorIsFinite(p.Normal) ||
		!spatialmath.IsFinite(p.Score, p.Debug[0], p.Debug[1]) {
		return formaterr.E(formaterr.InvalidGeometry, formaterr.Index(idx), "patch has non-finite values")
	}
	if !spatialmath.IsUnit(p.Normal, cfg.Tolerance.Normal) {
		return formaterr.E(formaterr.InvalidGeometry, formaterr.Index(idx), "patch normal is not a unit vector")
	}
	if len(p.VisibleCameras) == 0 {
		return formaterr.E(formaterr.InvalidGeometry, formaterr.Index(idx), "patch is not visible in any camera")
	}
	if p.VisibleCameras[0] != p.ReferenceCamera {
		return formaterr.E(formaterr.InvalidGeometry, formaterr.Index(idx), "patch reference camera is not its first visible camera")
	}
	for _, c := range p.VisibleCameras {
		if err := checkCamera(c, numCameras, "visible camera", idx); err != nil {
			return err
		}
	}
	for _, c := range p.TexturedCameras {
		if err := checkCamera(c, numCameras, "textured camera", idx); err != nil {
			return err
		}
	}
	return nil
}

// ValidateVertex checks that a vertex has finite values.
func ValidateVertex(v *Vertex, idx int) error {
	if !spatialmath.VectorIsFinite(v.Position) || (v.HasNormal && !spatialmath.VectorIsFinite(v.Normal)) {
		return formaterr.E(formaterr.InvalidGeometry, formaterr.Index(idx), "vertex has non-finite values")
	}
	return nil
}

// ValidateFace checks that a face has at least three vertices, all of which
// exist.
func ValidateFace(f Face, idx, numVertices int) error {
	if len(f) < 3 {
		return formaterr.E(formaterr.InvalidGeometry, formaterr.Index(idx), "face has fewer than 3 vertices")
	}
	for _, v := range f {
		if v < 0 || v >= numVertices {
			return formaterr.E(formaterr.DanglingReference, formaterr.Index(v),
				"face "+strconv.Itoa(idx)+" references a vertex that does not exist")
		}
	}
	return nil
}

// Validate checks the vertices and faces of the mesh. All vertices must share
// the attribute layout of the first.
func (m *Mesh) Validate() error {
	for i := range m.Vertices {
		v := &m.Vertices[i]
		if v.HasNormal != m.Vertices[0].HasNormal || v.HasColor != m.Vertices[0].HasColor {
			return formaterr.E(formaterr.InvalidGeometry, formaterr.Index(i), "vertex attributes differ from the first vertex")
		}
		if err := ValidateVertex(v, i); err != nil {
			return err
		}
	}
	for i, f := range m.Faces {
		if err := ValidateFace(f, i, len(m.Vertices)); err != nil {
			return err
		}
	}
	return nil
}

// Mesh returns the PLY part of the reconstruction.
func (rec *Reconstruction) Mesh() *Mesh {
	return &Mesh{Vertices: rec.Vertices, Faces: rec.Faces, Comments: rec.Comments}
}

// Validate checks every invariant of the reconstruction against its own
// NumCameras and returns the first violation found.
func (rec *Reconstruction) Validate(cfg *config.Config) error {
	cfg = config.OrDefault(cfg)
	if err := validatePatches(rec.Patches, rec.NumCameras, cfg); err != nil {
		return err
	}
	return rec.Mesh().Validate()
}

func validatePatches(patches []Patch, numCameras int, cfg *config.Config) error {
	for i := range patches {
		if err := ValidatePatch(&patches[i], i, numCameras, cfg); err != nil {
			return err
		}
	}
	return nil
}

// ReferencedCameras returns the sorted indices of every camera some patch
// references.
func (rec *Reconstruction) ReferencedCameras() []int {
	cams := lo.Uniq(lo.FlatMap(rec.Patches, func(p Patch, _ int) []int {
		return append(append([]int{p.ReferenceCamera}, p.VisibleCameras...), p.TexturedCameras...)
	}))
	slices.Sort(cams)
	return cams
}

// ToPointCloud returns the vertices as a point cloud carrying their normals
// and colors. Vertices at the same position collapse into one point.
func (rec *Reconstruction) ToPointCloud() (pointcloud.PointCloud, error) {
	pc := pointcloud.NewWithPrealloc(len(rec.Vertices))
	for i := range rec.Vertices {
		v := &rec.Vertices[i]
		d := pointcloud.NewBasicData()
		if v.HasNormal {
			d.SetNormal(v.Normal)
		}
		if v.HasColor {
			d.SetColor(v.Color)
		}
		if err := pc.Set(v.Position, d); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

// AlmostEqual reports whether two reconstructions are equal within the
// configured tolerances.
func AlmostEqual(a, b *Reconstruction, cfg *config.Config) bool {
	cfg = config.OrDefault(cfg)
	abs, rel := cfg.Tolerance.Absolute, cfg.Tolerance.Relative
	if a.NumCameras != b.NumCameras || len(a.Patches) != len(b.Patches) ||
		len(a.Vertices) != len(b.Vertices) || !slices.Equal(a.Comments, b.Comments) ||
		!slices.EqualFunc(a.Faces, b.Faces, func(x, y Face) bool { return slices.Equal(x, y) }) {
		return false
	}
	for i := range a.Patches {
		pa, pb := &a.Patches[i], &b.Patches[i]
		if pa.ReferenceCamera != pb.ReferenceCamera ||
			!slices.Equal(pa.VisibleCameras, pb.VisibleCameras) ||
			!slices.Equal(pa.TexturedCameras, pb.TexturedCameras) ||
			!spatialmath.VectorAlmostEqual(pa.Center, pb.Center, abs, rel) ||
			!spatialmath.VectorAlmostEqual(pa.Normal, pb.Normal, abs, rel) ||
			!spatialmath.AlmostEqual(pa.Score, pb.Score, abs, rel) ||
			!spatialmath.AlmostEqual(pa.Debug[0], pb.Debug[0], abs, rel) ||
			!spatialmath.AlmostEqual(pa.Debug[1], pb.Debug[1], abs, rel) {
			return false
		}
	}
	for i := range a.Vertices {
		va, vb := &a.Vertices[i], &b.Vertices[i]
		if va.HasNormal != vb.HasNormal || va.HasColor != vb.HasColor ||
			!spatialmath.VectorAlmostEqual(va.Position, vb.Position, abs, rel) {
			return false
		}
		if va.HasNormal && !spatialmath.VectorAlmostEqual(va.Normal, vb.Normal, abs, rel) {
			return false
		}
		if va.HasColor && (va.Color.R != vb.Color.R || va.Color.G != vb.Color.G || va.Color.B != vb.Color.B) {
			return false
		}
	}
	return true
}
