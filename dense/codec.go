package dense

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/reconio/config"
	"go.viam.com/reconio/logging"
)

// Read parses a dense reconstruction from a PMVS patch source followed by a
// PLY source. The mesh source is not read when the patches fail to parse.
func Read(patchSrc, meshSrc io.Reader, cameras CameraUniverse, cfg *config.Config, logger logging.Logger) (*Reconstruction, error) {
	if cameras == nil {
		return nil, errors.New("a camera universe is required to read a dense reconstruction")
	}
	cfg, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}
	logger = logging.OrBlank(logger)

	patches, err := ReadPatches(patchSrc, cameras, cfg, logger)
	if err != nil {
		return nil, err
	}
	mesh, err := ReadMesh(meshSrc, cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Reconstruction{
		Patches:    patches,
		Vertices:   mesh.Vertices,
		Faces:      mesh.Faces,
		Comments:   mesh.Comments,
		NumCameras: cameras.NumCameras(),
	}, nil
}

// Write validates rec and writes its patches to patchSink and its vertices
// and faces to meshSink. Nothing is written to either sink when validation
// fails. Both files are rendered before either sink is written to, so a
// failure to render one leaves both sinks untouched.
func Write(patchSink, meshSink io.Writer, rec *Reconstruction, cfg *config.Config) error {
	cfg, err := config.Resolve(cfg)
	if err != nil {
		return err
	}
	if err := validatePatches(rec.Patches, rec.NumCameras, cfg); err != nil {
		return err
	}
	mesh := rec.Mesh()
	if err := validateForWrite(mesh, cfg); err != nil {
		return err
	}

	var patchBuf, meshBuf bytes.Buffer
	if err := multierr.Combine(
		writePatches(&patchBuf, rec.Patches, cfg),
		writeMesh(&meshBuf, mesh, cfg),
	); err != nil {
		return err
	}
	_, patchErr := patchBuf.WriteTo(patchSink)
	_, meshErr := meshBuf.WriteTo(meshSink)
	return multierr.Combine(
		errors.Wrap(patchErr, "writing patches"),
		errors.Wrap(meshErr, "writing mesh"),
	)
}
