package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/reconio/formaterr"
	"go.viam.com/reconio/internal/textio"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed binary format for pcd.
	PCDCompressed PCDType = 2
)

const pcdSource = formaterr.Source("pcd")

func colorToPCDInt(pt Data) uint32 {
	if pt == nil || !pt.HasColor() {
		return 0
	}
	r, g, b := pt.RGB255()
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

func pcdIntToColor(c uint32) color.NRGBA {
	r := uint8(0xFF & (c >> 16))
	g := uint8(0xFF & (c >> 8))
	b := uint8(0xFF & (c >> 0))
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

// pcdLayout is the set of optional fields following x y z.
type pcdLayout struct {
	normals bool
	color   bool
}

func (l pcdLayout) fields() []string {
	fields := []string{"x", "y", "z"}
	if l.normals {
		fields = append(fields, "normal_x", "normal_y", "normal_z")
	}
	if l.color {
		fields = append(fields, "rgb")
	}
	return fields
}

func (l pcdLayout) types() []string {
	types := []string{"F", "F", "F"}
	if l.normals {
		types = append(types, "F", "F", "F")
	}
	if l.color {
		types = append(types, "U")
	}
	return types
}

func layoutFromFields(value string) (pcdLayout, bool) {
	for _, l := range []pcdLayout{{}, {color: true}, {normals: true}, {normals: true, color: true}} {
		if strings.Join(l.fields(), " ") == value {
			return l, true
		}
	}
	return pcdLayout{}, false
}

// ToPCD writes the cloud as PCD with 32-bit float fields. Normals and colors
// are written when the cloud's meta data has them.
func ToPCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	meta := cloud.MetaData()
	layout := pcdLayout{normals: meta.HasNormal, color: meta.HasColor}
	fields := layout.fields()

	var data string
	switch outputType {
	case PCDAscii:
		data = "ascii"
	case PCDBinary:
		data = "binary"
	case PCDCompressed:
		return errors.New("compressed PCD not yet implemented")
	default:
		return errors.Errorf("unknown PCD type %d", outputType)
	}

	w := bufio.NewWriter(out)
	sizes := strings.TrimSpace(strings.Repeat("4 ", len(fields)))
	counts := strings.TrimSpace(strings.Repeat("1 ", len(fields)))
	if _, err := fmt.Fprintf(w, "VERSION .7\n"+
		"FIELDS %s\n"+
		"SIZE %s\n"+
		"TYPE %s\n"+
		"COUNT %s\n"+
		"WIDTH %d\n"+
		"HEIGHT 1\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n"+
		"DATA %s\n",
		strings.Join(fields, " "), sizes, strings.Join(layout.types(), " "), counts,
		cloud.Size(), cloud.Size(), data); err != nil {
		return err
	}

	var err error
	buf := make([]byte, 4*len(fields))
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		vals := []float64{pos.X, pos.Y, pos.Z}
		if layout.normals {
			var n r3.Vector
			if d != nil && d.HasNormal() {
				n = d.Normal()
			}
			vals = append(vals, n.X, n.Y, n.Z)
		}
		switch outputType {
		case PCDBinary:
			for i, v := range vals {
				binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(v)))
			}
			if layout.color {
				binary.LittleEndian.PutUint32(buf[4*len(vals):], colorToPCDInt(d))
			}
			_, err = w.Write(buf)
		default:
			tokens := make([]string, 0, len(fields))
			for _, v := range vals {
				tokens = append(tokens, strconv.FormatFloat(float64(float32(v)), 'g', -1, 32))
			}
			if layout.color {
				tokens = append(tokens, strconv.FormatUint(uint64(colorToPCDInt(d)), 10))
			}
			_, err = fmt.Fprintln(w, strings.Join(tokens, " "))
		}
		return err == nil
	})
	if err != nil {
		return err
	}
	return w.Flush()
}

type pcdHeader struct {
	layout pcdLayout
	width  int
	height int
	points int
	data   PCDType
}

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func parsePCDHeaderLine(rec *textio.Record, index int, header *pcdHeader) error {
	name := pcdHeaderFields[index]
	field := rec.Fields[0]
	tokens := rec.Fields[1:]
	value := strings.Join(tokens, " ")
	if field != name {
		return rec.E(formaterr.MalformedHeader, fmt.Sprintf("line is supposed to start with %s but is %s", name, field))
	}
	rec.Malformed = formaterr.MalformedHeader
	if _, err := rec.Token(name); err != nil {
		return err
	}

	numFields := len(header.layout.fields())
	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return rec.E(formaterr.UnsupportedVersion, "unsupported pcd version "+value)
		}
		return nil
	case "FIELDS":
		layout, ok := layoutFromFields(value)
		if !ok {
			return rec.E(formaterr.UnsupportedVersion, "unsupported pcd fields "+value)
		}
		header.layout = layout
		return nil
	case "SIZE", "COUNT":
		if len(tokens) != numFields {
			return rec.E(formaterr.CountMismatch, "unexpected number of fields in "+name+" line")
		}
		want := map[string]string{"SIZE": "4", "COUNT": "1"}[name]
		for _, tok := range tokens {
			if tok != want {
				return rec.E(formaterr.UnsupportedVersion, "unsupported pcd "+name+" "+value)
			}
		}
		return nil
	case "TYPE":
		if len(tokens) != numFields {
			return rec.E(formaterr.CountMismatch, "unexpected number of fields in TYPE line")
		}
		for i, tok := range tokens {
			if want := header.layout.types()[i]; tok != want && !(want == "U" && tok == "I") {
				return rec.E(formaterr.UnsupportedVersion, "unsupported pcd type "+tok)
			}
		}
		return nil
	case "WIDTH":
		n, err := rec.Count("WIDTH")
		if err != nil {
			return err
		}
		header.width = n
		return rec.Done("WIDTH")
	case "HEIGHT":
		n, err := rec.Count("HEIGHT")
		if err != nil {
			return err
		}
		header.height = n
		return rec.Done("HEIGHT")
	case "VIEWPOINT":
		var viewpoint [7]float64
		if err := rec.Floats("VIEWPOINT", viewpoint[:]); err != nil {
			return err
		}
		return rec.Done("VIEWPOINT")
	case "POINTS":
		n, err := rec.Count("POINTS")
		if err != nil {
			return err
		}
		if err := rec.Done("POINTS"); err != nil {
			return err
		}
		if n != header.width*header.height {
			return rec.E(formaterr.CountMismatch,
				fmt.Sprintf("POINTS field %d does not match WIDTH*HEIGHT %d", n, header.width*header.height))
		}
		header.points = n
		return nil
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		default:
			return rec.E(formaterr.UnsupportedVersion, "unsupported pcd data type "+value)
		}
		return nil
	}
	return nil
}

// ReadPCD reads an ascii or binary PCD file written with 32-bit fields.
func ReadPCD(inRaw io.Reader) (PointCloud, error) {
	header := pcdHeader{}
	in := textio.NewReader(inRaw, pcdSource)
	in.SetComment("#")
	for i := range pcdHeaderFields {
		rec, err := in.MustNext(pcdHeaderFields[i] + " line")
		if err != nil {
			return nil, err
		}
		if err := parsePCDHeaderLine(rec, i, &header); err != nil {
			return nil, err
		}
	}
	switch header.data {
	case PCDAscii:
		return readPCDAscii(in, header)
	default:
		return readPCDBinary(in, header)
	}
}

func readPCDAscii(in *textio.Reader, header pcdHeader) (PointCloud, error) {
	pc := NewWithPrealloc(min(header.points, 1<<16))
	vals := make([]float64, len(header.layout.fields()))
	for i := 0; i < header.points; i++ {
		rec, err := in.MustNext("point")
		if err != nil {
			return nil, err
		}
		if rec.Len() != len(vals) {
			return nil, rec.E(formaterr.CountMismatch, formaterr.Index(i), "unexpected number of fields in point")
		}
		if err := rec.Floats("point field", vals); err != nil {
			return nil, err
		}
		if err := setPCDPoint(pc, vals, header.layout, i); err != nil {
			return nil, rec.Locate(err)
		}
	}
	if err := in.ExpectEnd("points"); err != nil {
		return nil, err
	}
	return pc, nil
}

func readPCDBinary(in *textio.Reader, header pcdHeader) (PointCloud, error) {
	r := in.Buffered()
	pc := NewWithPrealloc(min(header.points, 1<<16))
	numFields := len(header.layout.fields())
	buf := make([]byte, 4*numFields)
	vals := make([]float64, numFields)
	for i := 0; i < header.points; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, formaterr.FromRead(err, pcdSource, formaterr.Index(i), "reading point")
		}
		for j := range vals {
			bits := binary.LittleEndian.Uint32(buf[4*j:])
			if header.layout.color && j == numFields-1 {
				vals[j] = float64(bits)
			} else {
				vals[j] = float64(math.Float32frombits(bits))
			}
		}
		if err := setPCDPoint(pc, vals, header.layout, i); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func setPCDPoint(pc PointCloud, vals []float64, layout pcdLayout, idx int) error {
	pos := r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]}
	data := NewBasicData()
	if layout.normals {
		data.SetNormal(r3.Vector{X: vals[3], Y: vals[4], Z: vals[5]})
	}
	if layout.color {
		data.SetColor(pcdIntToColor(uint32(vals[len(vals)-1])))
	}
	if err := pc.Set(pos, data); err != nil {
		return formaterr.E(pcdSource, formaterr.InvalidGeometry, formaterr.Index(idx), err)
	}
	return nil
}
