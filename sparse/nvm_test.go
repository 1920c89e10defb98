package sparse

import (
	"bytes"
	"image/color"
	"math"
	"strings"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/reconio/config"
	"go.viam.com/reconio/formaterr"
	"go.viam.com/reconio/logging"
	"go.viam.com/reconio/spatialmath"
)

const twoCameras = `NVM_V3

2
img0.jpg 1000 1 0 0 0 0 0 0 0 0
img1.jpg 1000 1 0 0 0 1 0 0 0 0

1
0.5 0.5 5 255 0 0 2 0 0 10 20 1 0 -10 20
`

var rotationComparer = cmp.Comparer(func(a, b spatialmath.Rotation) bool {
	return spatialmath.RotationAlmostEqual(a, b, 1e-9)
})

func testReconstruction() *Reconstruction {
	return &Reconstruction{
		Cameras: []Camera{
			{
				ImageName:        "frame_0001.jpg",
				FocalLength:      1234.5678,
				Rotation:         spatialmath.R4AA{Theta: 0.3, RX: 0, RY: 1, RZ: 0}.Rotation(),
				Center:           r3.Vector{X: 0.1, Y: -2.25, Z: 3.125},
				RadialDistortion: -0.0123,
			},
			{
				FocalLength: 987.654321,
				Rotation:    spatialmath.R4AA{Theta: 1.1, RX: 1, RY: 1, RZ: 0}.Rotation(),
				Center:      r3.Vector{X: 1.0 / 3, Y: 2.0 / 3, Z: -1},
			},
		},
		Points: []Point{
			{
				Position: r3.Vector{X: 1.5, Y: math.Pi, Z: -7.25},
				Color:    color.NRGBA{R: 10, G: 20, B: 30, A: 255},
				Observations: []Observation{
					{CameraIndex: 0, FeatureIndex: 12, Coord: r2.Point{X: 100.25, Y: -40.5}},
					{CameraIndex: 1, FeatureIndex: 7, Coord: r2.Point{X: -3.75, Y: 8}},
				},
			},
			{
				Position: r3.Vector{X: 1e-7, Y: 2e6, Z: 0},
				Color:    color.NRGBA{R: 255, G: 255, B: 255, A: 255},
				Observations: []Observation{
					{CameraIndex: 1, FeatureIndex: 0, Coord: r2.Point{X: 0.001, Y: 0.002}},
				},
			},
		},
	}
}

func TestReadTwoCameras(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	rec, err := Read(strings.NewReader(twoCameras), nil, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rec.Cameras, test.ShouldHaveLength, 2)
	test.That(t, rec.Points, test.ShouldHaveLength, 1)

	test.That(t, rec.Cameras[0].ImageName, test.ShouldEqual, "img0.jpg")
	test.That(t, rec.Cameras[0].FocalLength, test.ShouldEqual, 1000.)
	test.That(t, rec.Cameras[1].Center, test.ShouldResemble, r3.Vector{X: 1})
	test.That(t, rec.Cameras[1].Rotation.Form(), test.ShouldEqual, spatialmath.QuaternionForm)

	pt := rec.Points[0]
	test.That(t, pt.Position, test.ShouldResemble, r3.Vector{X: 0.5, Y: 0.5, Z: 5})
	test.That(t, pt.Color, test.ShouldResemble, color.NRGBA{R: 255, A: 255})
	test.That(t, pt.Observations, test.ShouldResemble, []Observation{
		{CameraIndex: 0, FeatureIndex: 0, Coord: r2.Point{X: 10, Y: 20}},
		{CameraIndex: 1, FeatureIndex: 0, Coord: r2.Point{X: -10, Y: 20}},
	})

	test.That(t, logs.FilterMessage("read NVM model").Len(), test.ShouldEqual, 1)
}

func TestReadDanglingCamera(t *testing.T) {
	in := strings.Replace(twoCameras, "2 0 0 10 20 1 0", "2 0 0 10 20 5 0", 1)
	_, err := Read(strings.NewReader(in), nil, nil)
	test.That(t, formaterr.Is(formaterr.DanglingReference, err), test.ShouldBeTrue)
	idx, ok := formaterr.IndexOf(err)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, idx, test.ShouldEqual, 5)
	e, ok := formaterr.As(err)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, e.Line, test.ShouldEqual, 8)
	test.That(t, e.Source, test.ShouldEqual, formaterr.Source("nvm"))
}

func TestReadErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   string
		kind formaterr.Kind
	}{
		{"empty", "", formaterr.TruncatedFile},
		{"only comments", "# nothing here\n\n", formaterr.TruncatedFile},
		{"wrong signature", "PLY\n1\n", formaterr.MalformedHeader},
		{"unsupported version", "NVM_V4\n1\n", formaterr.UnsupportedVersion},
		{"unknown option", "NVM_V3 Foo\n1\n", formaterr.MalformedHeader},
		{"short FixedK", "NVM_V3 FixedK 1 2\n1\n", formaterr.MalformedHeader},
		{"garbled FixedK", "NVM_V3 FixedK 1 2 x 4 5\n1\n", formaterr.MalformedHeader},
		{"garbled camera count", "NVM_V3\ntwo\n", formaterr.MalformedHeader},
		{"no models", "NVM_V3\n0\n", formaterr.CountMismatch},
		{"missing cameras", "NVM_V3\n2\nimg0.jpg 1000 1 0 0 0 0 0 0 0 0\n", formaterr.TruncatedFile},
		{"missing points", strings.Replace(twoCameras, "\n1\n", "\n2\n", 1), formaterr.TruncatedFile},
		{"missing point count", "NVM_V3\n1\nimg0.jpg 1000 1 0 0 0 0 0 0 0 0\n", formaterr.TruncatedFile},
		{"garbled focal length", strings.Replace(twoCameras, "img1.jpg 1000", "img1.jpg f", 1), formaterr.TruncatedFile},
		{"short camera", strings.Replace(twoCameras, "img1.jpg 1000 1 0 0 0 1 0 0 0 0", "img1.jpg 1000 1 0 0 0 1 0 0", 1), formaterr.CountMismatch},
		{"long camera", strings.Replace(twoCameras, "img1.jpg 1000 1 0 0 0 1 0 0 0 0", "img1.jpg 1000 1 0 0 0 1 0 0 0 0 9", 1), formaterr.CountMismatch},
		{"non-unit quaternion", strings.Replace(twoCameras, "img1.jpg 1000 1 0 0 0", "img1.jpg 1000 2 0 0 0", 1), formaterr.InvalidGeometry},
		{"non-finite center", strings.Replace(twoCameras, "img1.jpg 1000 1 0 0 0 1", "img1.jpg 1000 1 0 0 0 NaN", 1), formaterr.InvalidGeometry},
		{"color out of range", strings.Replace(twoCameras, "5 255 0 0", "5 256 0 0", 1), formaterr.InvalidGeometry},
		{"no observations", strings.Replace(twoCameras, "255 0 0 2 0 0 10 20 1 0 -10 20", "255 0 0 0", 1), formaterr.InvalidGeometry},
		{"observation count too large", strings.Replace(twoCameras, "255 0 0 2", "255 0 0 3", 1), formaterr.CountMismatch},
		{"observation count too small", strings.Replace(twoCameras, "255 0 0 2", "255 0 0 1", 1), formaterr.CountMismatch},
		{
			"observation count overflows",
			"NVM_V3\n1\n- 1 1 0 0 0 0 0 0 0 0\n1\n0 0 0 0 0 0 4611686018427387905 0 0 1 1\n",
			formaterr.CountMismatch,
		},
		{
			"observation count far beyond the record",
			"NVM_V3\n1\n- 1 1 0 0 0 0 0 0 0 0\n1\n0 0 0 0 0 0 9223372036854775807 0 0 1 1\n",
			formaterr.CountMismatch,
		},
		{"garbled observation", strings.Replace(twoCameras, "1 0 -10 20", "1 0 -10 y", 1), formaterr.TruncatedFile},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tc.in), nil, logging.NewTestLogger(t))
			test.That(t, err, test.ShouldNotBeNil)
			e, ok := formaterr.As(err)
			test.That(t, ok, test.ShouldBeTrue)
			test.That(t, e.Kind, test.ShouldEqual, tc.kind)
			test.That(t, e.Temporary(), test.ShouldBeFalse)
		})
	}
}

func TestReadBadRotationNamesCamera(t *testing.T) {
	in := strings.Replace(twoCameras, "img1.jpg 1000 1 0 0 0", "img1.jpg 1000 0.5 0 0 0", 1)
	_, err := Read(strings.NewReader(in), nil, nil)
	test.That(t, formaterr.Is(formaterr.InvalidGeometry, err), test.ShouldBeTrue)
	idx, ok := formaterr.IndexOf(err)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, idx, test.ShouldEqual, 1)
	test.That(t, err.Error(), test.ShouldContainSubstring, "line 5")
}

func TestRoundTrip(t *testing.T) {
	rec := testReconstruction()
	var buf bytes.Buffer
	test.That(t, Write(&buf, rec, nil), test.ShouldBeNil)
	first := buf.String()

	got, err := Read(strings.NewReader(first), nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, AlmostEqual(rec, got, nil), test.ShouldBeTrue)
	test.That(t, got.Cameras[1].ImageName, test.ShouldEqual, "")

	// Writing what was read reproduces the same bytes.
	buf.Reset()
	test.That(t, Write(&buf, got, nil), test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldEqual, first)
}

func TestRoundTripLowPrecision(t *testing.T) {
	cfg := config.Default()
	cfg.FloatPrecision = 9
	rec := testReconstruction()
	var buf bytes.Buffer
	test.That(t, Write(&buf, rec, cfg), test.ShouldBeNil)
	got, err := Read(&buf, cfg, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, AlmostEqual(rec, got, cfg), test.ShouldBeTrue)
}

func TestParseIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	test.That(t, Write(&buf, testReconstruction(), nil), test.ShouldBeNil)
	a, err := Read(bytes.NewReader(buf.Bytes()), nil, nil)
	test.That(t, err, test.ShouldBeNil)
	b, err := Read(bytes.NewReader(buf.Bytes()), nil, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmp.Diff(a, b, rotationComparer), test.ShouldBeEmpty)
	test.That(t, cmp.Diff(testReconstruction(), a, rotationComparer, cmpopts.EquateApprox(1e-6, 1e-5)), test.ShouldBeEmpty)
}

func TestReadMatrixForm(t *testing.T) {
	in := `NVM_V3_R9T
1
cam.png 800 0 -1 0 1 0 0 0 0 1 1 2 3 0 0
1
0 0 0 1 2 3 1 0 4 5 6
`
	f, err := ReadFile(strings.NewReader(in), nil, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.RotationForm, test.ShouldEqual, spatialmath.MatrixForm)
	test.That(t, f.Models, test.ShouldHaveLength, 1)
	cam := f.Models[0].Cameras[0]
	test.That(t, cam.Rotation.Form(), test.ShouldEqual, spatialmath.MatrixForm)
	test.That(t, spatialmath.VectorAlmostEqual(cam.Center, r3.Vector{X: -2, Y: 1, Z: -3}, 1e-12, 0), test.ShouldBeTrue)
	test.That(t, spatialmath.VectorAlmostEqual(cam.Translation(), r3.Vector{X: 1, Y: 2, Z: 3}, 1e-12, 0), test.ShouldBeTrue)

	var buf bytes.Buffer
	test.That(t, WriteFile(&buf, f, nil), test.ShouldBeNil)
	out := buf.String()
	test.That(t, out, test.ShouldStartWith, "NVM_V3_R9T\n")
	test.That(t, out, test.ShouldContainSubstring, "cam.png 800 0 -1 0 1 0 0 0 0 1 1 2 3 0 0\n")

	again, err := ReadFile(strings.NewReader(out), nil, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, AlmostEqual(f.Models[0], again.Models[0], nil), test.ShouldBeTrue)
}

func TestReadMatrixFormNotOrthonormal(t *testing.T) {
	in := "NVM_V3_R9T\n1\ncam.png 800 2 0 0 0 1 0 0 0 1 1 2 3 0 0\n0\n"
	_, err := Read(strings.NewReader(in), nil, nil)
	test.That(t, formaterr.Is(formaterr.InvalidGeometry, err), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "orthonormal")
}

func TestReadFileModelsAndPLY(t *testing.T) {
	in := `NVM_V3 FixedK 1000 320 1001 240 0
# first model
1
a.jpg 1000 1 0 0 0 0 0 0 0 0
1
1 2 3 4 5 6 1 0 7 1.5 2.5

1
b.jpg 900 1 0 0 0 0 0 1 0 0
0

0

#the last part of NVM file points to the PLY files
2 1
0
`
	f, err := ReadFile(strings.NewReader(in), nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Calibration, test.ShouldResemble, &FixedK{Fx: 1000, Cx: 320, Fy: 1001, Cy: 240})
	test.That(t, f.Models, test.ShouldHaveLength, 2)
	test.That(t, f.Models[1].Points, test.ShouldBeEmpty)
	test.That(t, f.PLYModels, test.ShouldResemble, []int{1, 0})

	var buf bytes.Buffer
	test.That(t, WriteFile(&buf, f, nil), test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldStartWith, "NVM_V3 FixedK 1000 320 1001 240 0\n")
	again, err := ReadFile(&buf, nil, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again.Calibration, test.ShouldResemble, f.Calibration)
	test.That(t, again.PLYModels, test.ShouldResemble, f.PLYModels)
	for i := range f.Models {
		test.That(t, AlmostEqual(f.Models[i], again.Models[i], nil), test.ShouldBeTrue)
	}
}

func TestReadFileWithoutTerminator(t *testing.T) {
	f, err := ReadFile(strings.NewReader(twoCameras), nil, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Models, test.ShouldHaveLength, 1)
	test.That(t, f.PLYModels, test.ShouldBeEmpty)
}

func TestReadFilePLYErrors(t *testing.T) {
	base := twoCameras + "0\n"
	_, err := ReadFile(strings.NewReader(base+"1 3\n"), nil, nil)
	test.That(t, formaterr.Is(formaterr.DanglingReference, err), test.ShouldBeTrue)

	_, err = ReadFile(strings.NewReader(base+"2 0\n"), nil, nil)
	test.That(t, formaterr.Is(formaterr.TruncatedFile, err), test.ShouldBeTrue)

	_, err = ReadFile(strings.NewReader(base+"1 0 0\n"), nil, nil)
	test.That(t, formaterr.Is(formaterr.CountMismatch, err), test.ShouldBeTrue)

	_, err = ReadFile(strings.NewReader(base+"0\nextra\n"), nil, nil)
	test.That(t, formaterr.Is(formaterr.CountMismatch, err), test.ShouldBeTrue)
}

func TestWriteValidatesFirst(t *testing.T) {
	rec := &Reconstruction{
		Cameras: []Camera{{ImageName: "a.jpg", FocalLength: 1}},
		Points:  []Point{{Position: r3.Vector{X: 1}}},
	}
	var buf bytes.Buffer
	err := Write(&buf, rec, nil)
	test.That(t, formaterr.Is(formaterr.InvalidGeometry, err), test.ShouldBeTrue)
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	rec.Points[0].Observations = []Observation{{CameraIndex: 3}}
	err = Write(&buf, rec, nil)
	test.That(t, formaterr.Is(formaterr.DanglingReference, err), test.ShouldBeTrue)
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	rec.Points[0].Observations[0].CameraIndex = 0
	rec.Cameras[0].ImageName = "has space.jpg"
	err = Write(&buf, rec, nil)
	test.That(t, formaterr.Is(formaterr.InvalidGeometry, err), test.ShouldBeTrue)
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	err = Write(&buf, &Reconstruction{}, nil)
	test.That(t, formaterr.Is(formaterr.CountMismatch, err), test.ShouldBeTrue)
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	err = WriteFile(&buf, &File{Models: []*Reconstruction{testReconstruction()}, PLYModels: []int{1}}, nil)
	test.That(t, formaterr.Is(formaterr.DanglingReference, err), test.ShouldBeTrue)
	test.That(t, buf.Len(), test.ShouldEqual, 0)
}

func TestInvalidConfigRejected(t *testing.T) {
	cfg := &config.Config{Tolerance: config.Default().Tolerance}
	var buf bytes.Buffer
	err := Write(&buf, testReconstruction(), cfg)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "float_precision")
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	err = WriteFile(&buf, &File{Models: []*Reconstruction{testReconstruction()}}, cfg)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	got, err := Read(strings.NewReader(twoCameras), cfg, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, got, test.ShouldBeNil)
	_, ok := formaterr.As(err)
	test.That(t, ok, test.ShouldBeFalse)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("sink closed")
}

func TestWriteSinkFailure(t *testing.T) {
	err := Write(failingWriter{}, testReconstruction(), nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "sink closed")
}

func TestWriteMatrixRotationFromQuaternion(t *testing.T) {
	f := &File{RotationForm: spatialmath.MatrixForm, Models: []*Reconstruction{testReconstruction()}}
	var buf bytes.Buffer
	test.That(t, WriteFile(&buf, f, nil), test.ShouldBeNil)
	got, err := Read(&buf, nil, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Cameras[0].Rotation.Form(), test.ShouldEqual, spatialmath.MatrixForm)
	test.That(t, AlmostEqual(testReconstruction(), got, nil), test.ShouldBeTrue)
}
