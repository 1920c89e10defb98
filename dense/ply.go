package dense

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"strings"

	"go.viam.com/reconio/config"
	"go.viam.com/reconio/formaterr"
	"go.viam.com/reconio/internal/textio"
	"go.viam.com/reconio/logging"
)

const (
	plySource  = formaterr.Source("ply")
	plyMagic   = "ply"
	plyVersion = "1.0"

	plyVertexElement = "vertex"
	plyFaceElement   = "face"
)

// plyType is a PLY scalar type.
type plyType int

const (
	plyInt8 plyType = iota + 1
	plyUint8
	plyInt16
	plyUint16
	plyInt32
	plyUint32
	plyFloat32
	plyFloat64
)

var plyTypeNames = map[string]plyType{
	"char": plyInt8, "int8": plyInt8,
	"uchar": plyUint8, "uint8": plyUint8,
	"short": plyInt16, "int16": plyInt16,
	"ushort": plyUint16, "uint16": plyUint16,
	"int": plyInt32, "int32": plyInt32,
	"uint": plyUint32, "uint32": plyUint32,
	"float": plyFloat32, "float32": plyFloat32,
	"double": plyFloat64, "float64": plyFloat64,
}

func (t plyType) String() string {
	switch t {
	case plyInt8:
		return "char"
	case plyUint8:
		return "uchar"
	case plyInt16:
		return "short"
	case plyUint16:
		return "ushort"
	case plyInt32:
		return "int"
	case plyUint32:
		return "uint"
	case plyFloat32:
		return "float"
	case plyFloat64:
		return "double"
	default:
		return "unknown"
	}
}

func (t plyType) size() int {
	switch t {
	case plyInt8, plyUint8:
		return 1
	case plyInt16, plyUint16:
		return 2
	case plyInt32, plyUint32, plyFloat32:
		return 4
	default:
		return 8
	}
}

func (t plyType) isFloat() bool {
	return t == plyFloat32 || t == plyFloat64
}

type plyProperty struct {
	name      string
	typ       plyType
	list      bool
	countType plyType
}

type plyElement struct {
	name  string
	count int
	props []plyProperty
}

type plyHeader struct {
	format   config.PLYFormat
	comments []string
	elements []plyElement
}

func parsePLYType(rec *textio.Record, what string) (plyType, error) {
	tok, err := rec.Token(what)
	if err != nil {
		return 0, err
	}
	t, ok := plyTypeNames[tok]
	if !ok {
		return 0, rec.E(formaterr.MalformedHeader, "unknown PLY type "+tok)
	}
	return t, nil
}

func readPLYHeader(in *textio.Reader) (*plyHeader, error) {
	magic, err := in.ReadLine()
	if err != nil {
		return nil, in.ReadError(err, "expected PLY signature")
	}
	if strings.TrimSpace(magic) != plyMagic {
		return nil, formaterr.E(plySource, formaterr.MalformedHeader, formaterr.Line(1), formaterr.Offset(0), "missing PLY signature")
	}

	var header plyHeader
	for {
		rec, err := in.MustNext("end_header")
		if err != nil {
			return nil, err
		}
		// Short header lines are malformed rather than count mismatches.
		rec.Malformed = formaterr.MalformedHeader
		keyword := rec.Fields[0]
		rec.Token(keyword) //nolint:errcheck
		switch keyword {
		case "format":
			if rec.Len() != 3 {
				return nil, rec.E(formaterr.MalformedHeader, "format line needs a format and a version")
			}
			format := config.PLYFormat(rec.Fields[1])
			if !format.Valid() {
				return nil, rec.E(formaterr.UnsupportedVersion, "unsupported PLY format "+rec.Fields[1])
			}
			if rec.Fields[2] != plyVersion {
				return nil, rec.E(formaterr.UnsupportedVersion, "unsupported PLY version "+rec.Fields[2])
			}
			header.format = format
		case "comment":
			header.comments = append(header.comments, strings.Join(rec.Fields[1:], " "))
		case "obj_info":
		case "element":
			if header.format == "" {
				return nil, rec.E(formaterr.MalformedHeader, "element declared before format")
			}
			name, err := rec.Token("element name")
			if err != nil {
				return nil, rec.E(formaterr.MalformedHeader, "element line needs a name and a count")
			}
			count, err := rec.Count("element count")
			if err != nil {
				return nil, err
			}
			if rec.Remaining() != 0 {
				return nil, rec.E(formaterr.MalformedHeader, "unexpected data after element count")
			}
			for _, e := range header.elements {
				if e.name == name {
					return nil, rec.E(formaterr.MalformedHeader, "duplicate element "+name)
				}
			}
			header.elements = append(header.elements, plyElement{name: name, count: count})
		case "property":
			if len(header.elements) == 0 {
				return nil, rec.E(formaterr.MalformedHeader, "property declared before any element")
			}
			var prop plyProperty
			if rec.Len() > 1 && rec.Fields[1] == "list" {
				rec.Token("list") //nolint:errcheck
				prop.list = true
				if prop.countType, err = parsePLYType(rec, "list count type"); err != nil {
					return nil, err
				}
				if prop.countType.isFloat() {
					return nil, rec.E(formaterr.MalformedHeader, "PLY list count type must be an integer")
				}
			}
			if prop.typ, err = parsePLYType(rec, "property type"); err != nil {
				return nil, err
			}
			if prop.name, err = rec.Token("property name"); err != nil {
				return nil, err
			}
			if rec.Remaining() != 0 {
				return nil, rec.E(formaterr.MalformedHeader, "unexpected data after property name")
			}
			elem := &header.elements[len(header.elements)-1]
			elem.props = append(elem.props, prop)
		case "end_header":
			if header.format == "" {
				return nil, rec.E(formaterr.MalformedHeader, "PLY header has no format line")
			}
			return &header, nil
		default:
			return nil, rec.E(formaterr.MalformedHeader, "unknown PLY header keyword "+keyword)
		}
	}
}

// Roles a property can play when reading vertices and faces.
const (
	roleSkip = iota
	roleX
	roleY
	roleZ
	roleNX
	roleNY
	roleNZ
	roleRed
	roleGreen
	roleBlue
	roleIndices
)

var vertexRoles = map[string]int{
	"x": roleX, "y": roleY, "z": roleZ,
	"nx": roleNX, "ny": roleNY, "nz": roleNZ,
	"red": roleRed, "green": roleGreen, "blue": roleBlue,
	"diffuse_red": roleRed, "diffuse_green": roleGreen, "diffuse_blue": roleBlue,
}

// elementRoles assigns a role to every property of e and reports which
// optional vertex attributes are present.
func elementRoles(e *plyElement, logger logging.Logger) (roles []int, hasNormal, hasColor bool, err error) {
	roles = make([]int, len(e.props))
	seen := map[int]bool{}
	for i, p := range e.props {
		role := roleSkip
		switch e.name {
		case plyVertexElement:
			if r, ok := vertexRoles[p.name]; ok && !p.list {
				role = r
			}
		case plyFaceElement:
			if (p.name == "vertex_indices" || p.name == "vertex_index") && p.list && !p.typ.isFloat() {
				role = roleIndices
			}
		}
		if role != roleSkip && seen[role] {
			return nil, false, false, formaterr.E(plySource, formaterr.MalformedHeader,
				"duplicate "+e.name+" property "+p.name)
		}
		if role == roleSkip && (e.name == plyVertexElement || e.name == plyFaceElement) {
			logger.Warnw("skipping unsupported PLY property", "element", e.name, "property", p.name)
		}
		seen[role] = true
		roles[i] = role
	}
	switch e.name {
	case plyVertexElement:
		if !seen[roleX] || !seen[roleY] || !seen[roleZ] {
			return nil, false, false, formaterr.E(plySource, formaterr.MalformedHeader, "vertex element needs x, y and z properties")
		}
		hasNormal = seen[roleNX] || seen[roleNY] || seen[roleNZ]
		if hasNormal && !(seen[roleNX] && seen[roleNY] && seen[roleNZ]) {
			return nil, false, false, formaterr.E(plySource, formaterr.MalformedHeader, "vertex element needs all of nx, ny and nz")
		}
		hasColor = seen[roleRed] || seen[roleGreen] || seen[roleBlue]
		if hasColor && !(seen[roleRed] && seen[roleGreen] && seen[roleBlue]) {
			return nil, false, false, formaterr.E(plySource, formaterr.MalformedHeader, "vertex element needs all of red, green and blue")
		}
	case plyFaceElement:
		if !seen[roleIndices] {
			return nil, false, false, formaterr.E(plySource, formaterr.MalformedHeader, "face element needs a vertex_indices list")
		}
	}
	return roles, hasNormal, hasColor, nil
}

// plyRows reads element rows value by value.
type plyRows interface {
	beginRow(what string, idx int) error
	scalar(t plyType, what string) (float64, error)
	endRow(what string) error
	end() error
}

type asciiRows struct {
	in  *textio.Reader
	rec *textio.Record
}

func (r *asciiRows) beginRow(what string, idx int) error {
	rec, err := r.in.MustNext(what)
	if err != nil {
		return err
	}
	r.rec = rec
	return nil
}

func (r *asciiRows) scalar(t plyType, what string) (float64, error) {
	if t.isFloat() {
		return r.rec.Float(what)
	}
	v, err := r.rec.Int(what)
	return float64(v), err
}

func (r *asciiRows) endRow(what string) error {
	return r.rec.Done(what)
}

func (r *asciiRows) end() error {
	return r.in.ExpectEnd("PLY elements")
}

type binaryRows struct {
	r     *bufio.Reader
	order binary.ByteOrder
	buf   [8]byte
	idx   int
}

func (r *binaryRows) beginRow(what string, idx int) error {
	r.idx = idx
	return nil
}

func (r *binaryRows) scalar(t plyType, what string) (float64, error) {
	b := r.buf[:t.size()]
	if _, err := io.ReadFull(r.r, b); err != nil {
		return 0, formaterr.FromRead(err, plySource, formaterr.Index(r.idx), "reading "+what)
	}
	switch t {
	case plyInt8:
		return float64(int8(b[0])), nil
	case plyUint8:
		return float64(b[0]), nil
	case plyInt16:
		return float64(int16(r.order.Uint16(b))), nil
	case plyUint16:
		return float64(r.order.Uint16(b)), nil
	case plyInt32:
		return float64(int32(r.order.Uint32(b))), nil
	case plyUint32:
		return float64(r.order.Uint32(b)), nil
	case plyFloat32:
		return float64(math.Float32frombits(r.order.Uint32(b))), nil
	default:
		return math.Float64frombits(r.order.Uint64(b)), nil
	}
}

func (r *binaryRows) endRow(what string) error {
	return nil
}

func (r *binaryRows) end() error {
	if _, err := r.r.ReadByte(); err == nil {
		return formaterr.E(plySource, formaterr.CountMismatch, "unexpected data after the declared PLY elements")
	} else if err != io.EOF {
		return formaterr.FromRead(err, plySource)
	}
	return nil
}

// plyByteOrder decodes and appends binary values.
type plyByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

func byteOrder(format config.PLYFormat) plyByteOrder {
	if format == config.PLYBinaryBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// ReadMesh parses a PLY file holding vertices and, optionally, faces.
// Properties and elements other than those are skipped with a warning.
func ReadMesh(r io.Reader, cfg *config.Config, logger logging.Logger) (*Mesh, error) {
	if _, err := config.Resolve(cfg); err != nil {
		return nil, err
	}
	logger = logging.OrBlank(logger)
	in := textio.NewReader(r, plySource)
	header, err := readPLYHeader(in)
	if err != nil {
		return nil, err
	}

	var rows plyRows
	if header.format == config.PLYAscii {
		rows = &asciiRows{in: in}
	} else {
		rows = &binaryRows{r: in.Buffered(), order: byteOrder(header.format)}
	}

	mesh := &Mesh{Comments: header.comments}
	for i := range header.elements {
		e := &header.elements[i]
		roles, hasNormal, hasColor, err := elementRoles(e, logger)
		if err != nil {
			return nil, err
		}
		switch e.name {
		case plyVertexElement:
			mesh.Vertices = make([]Vertex, 0, min(e.count, maxPreallocate))
		case plyFaceElement:
			mesh.Faces = make([]Face, 0, min(e.count, maxPreallocate))
		default:
			logger.Warnw("skipping unsupported PLY element", "element", e.name, "count", e.count)
		}
		for j := 0; j < e.count; j++ {
			v := Vertex{HasNormal: hasNormal, HasColor: hasColor}
			var face Face
			if err := readPLYRow(rows, e, roles, j, &v, &face); err != nil {
				return nil, err
			}
			switch e.name {
			case plyVertexElement:
				mesh.Vertices = append(mesh.Vertices, v)
			case plyFaceElement:
				mesh.Faces = append(mesh.Faces, face)
			}
		}
	}
	if err := rows.end(); err != nil {
		return nil, err
	}
	if err := mesh.Validate(); err != nil {
		return nil, formaterr.Locate(err, plySource, 0, -1)
	}
	logger.Debugw("read PLY mesh",
		"format", header.format, "vertices", len(mesh.Vertices), "faces", len(mesh.Faces))
	return mesh, nil
}

func readPLYRow(rows plyRows, e *plyElement, roles []int, idx int, v *Vertex, face *Face) error {
	what := e.name
	if err := rows.beginRow(what, idx); err != nil {
		return err
	}
	for k, p := range e.props {
		if p.list {
			n, err := rows.scalar(p.countType, what+" list count")
			if err != nil {
				return err
			}
			if n < 0 || n != math.Trunc(n) || n > math.MaxUint32 {
				return formaterr.E(plySource, formaterr.CountMismatch, formaterr.Index(idx), "invalid "+what+" list count")
			}
			if roles[k] == roleIndices {
				*face = make(Face, 0, min(int(n), maxPreallocate))
			}
			for l := 0; l < int(n); l++ {
				val, err := rows.scalar(p.typ, what+" list entry")
				if err != nil {
					return err
				}
				if roles[k] == roleIndices {
					if val != math.Trunc(val) {
						return formaterr.E(plySource, formaterr.DanglingReference, formaterr.Index(idx), "face has a non-integer vertex index")
					}
					*face = append(*face, int(val))
				}
			}
			continue
		}
		val, err := rows.scalar(p.typ, what+" "+p.name)
		if err != nil {
			return err
		}
		if err := assignVertex(v, roles[k], val, p.typ, idx); err != nil {
			return err
		}
	}
	return rows.endRow(what)
}

func assignVertex(v *Vertex, role int, val float64, t plyType, idx int) error {
	switch role {
	case roleX:
		v.Position.X = val
	case roleY:
		v.Position.Y = val
	case roleZ:
		v.Position.Z = val
	case roleNX:
		v.Normal.X = val
	case roleNY:
		v.Normal.Y = val
	case roleNZ:
		v.Normal.Z = val
	case roleRed, roleGreen, roleBlue:
		if t.isFloat() {
			val = math.Round(val * 255)
		}
		if val < 0 || val > 255 || val != math.Trunc(val) {
			return formaterr.E(plySource, formaterr.InvalidGeometry, formaterr.Index(idx), "vertex color component out of range")
		}
		switch role {
		case roleRed:
			v.Color.R = uint8(val)
		case roleGreen:
			v.Color.G = uint8(val)
		default:
			v.Color.B = uint8(val)
		}
		v.Color.A = 255
	}
	return nil
}

// WriteMesh validates m and writes it as PLY with the encoding and position
// type selected by cfg. Nothing is written when validation fails.
func WriteMesh(w io.Writer, m *Mesh, cfg *config.Config) error {
	cfg, err := config.Resolve(cfg)
	if err != nil {
		return err
	}
	if err := validateForWrite(m, cfg); err != nil {
		return err
	}
	return writeMesh(w, m, cfg)
}

func validateForWrite(m *Mesh, cfg *config.Config) error {
	for _, c := range m.Comments {
		if strings.ContainsAny(c, "\r\n") {
			return formaterr.E(plySource, formaterr.MalformedHeader, "PLY comment contains a line break")
		}
	}
	return m.Validate()
}

func writeMesh(w io.Writer, m *Mesh, cfg *config.Config) error {
	scalar := plyFloat32
	if cfg.PLYScalar == "double" {
		scalar = plyFloat64
	}
	var hasNormal, hasColor bool
	if len(m.Vertices) > 0 {
		hasNormal, hasColor = m.Vertices[0].HasNormal, m.Vertices[0].HasColor
	}
	countType := plyUint8
	for _, f := range m.Faces {
		if len(f) > math.MaxUint8 {
			countType = plyInt32
			break
		}
	}

	tw := textio.NewWriter(w, cfg.FloatPrecision)
	tw.Line(plyMagic)
	tw.Line("format", string(cfg.PLYFormat), plyVersion)
	for _, c := range m.Comments {
		tw.Line("comment", c)
	}
	tw.Line("element", plyVertexElement, textio.Int(len(m.Vertices)))
	props := []string{"x", "y", "z"}
	if hasNormal {
		props = append(props, "nx", "ny", "nz")
	}
	for _, p := range props {
		tw.Line("property", scalar.String(), p)
	}
	if hasColor {
		for _, p := range []string{"red", "green", "blue"} {
			tw.Line("property", plyUint8.String(), p)
		}
	}
	if len(m.Faces) > 0 {
		tw.Line("element", plyFaceElement, textio.Int(len(m.Faces)))
		tw.Line("property", "list", countType.String(), plyInt32.String(), "vertex_indices")
	}
	tw.Line("end_header")

	if cfg.PLYFormat == config.PLYAscii {
		formatScalar := tw.Float32
		if scalar == plyFloat64 {
			formatScalar = tw.Float
		}
		for i := range m.Vertices {
			v := &m.Vertices[i]
			fields := []string{formatScalar(v.Position.X), formatScalar(v.Position.Y), formatScalar(v.Position.Z)}
			if hasNormal {
				fields = append(fields, formatScalar(v.Normal.X), formatScalar(v.Normal.Y), formatScalar(v.Normal.Z))
			}
			if hasColor {
				fields = append(fields, textio.Int(int(v.Color.R)), textio.Int(int(v.Color.G)), textio.Int(int(v.Color.B)))
			}
			tw.Line(fields...)
		}
		for _, f := range m.Faces {
			tw.Line(textio.Join([]string{textio.Int(len(f))}, textio.Ints(f))...)
		}
		return tw.Flush()
	}

	order := byteOrder(cfg.PLYFormat)
	var buf []byte
	for i := range m.Vertices {
		v := &m.Vertices[i]
		buf = buf[:0]
		buf = appendScalar(buf, order, scalar, v.Position.X, v.Position.Y, v.Position.Z)
		if hasNormal {
			buf = appendScalar(buf, order, scalar, v.Normal.X, v.Normal.Y, v.Normal.Z)
		}
		if hasColor {
			buf = append(buf, v.Color.R, v.Color.G, v.Color.B)
		}
		tw.Write(buf) //nolint:errcheck
	}
	for _, f := range m.Faces {
		buf = appendScalar(buf[:0], order, countType, float64(len(f)))
		for _, idx := range f {
			buf = appendScalar(buf, order, plyInt32, float64(idx))
		}
		tw.Write(buf) //nolint:errcheck
	}
	return tw.Flush()
}

func appendScalar(buf []byte, order plyByteOrder, t plyType, vals ...float64) []byte {
	for _, v := range vals {
		switch t {
		case plyUint8:
			buf = append(buf, uint8(v))
		case plyInt32:
			buf = order.AppendUint32(buf, uint32(int32(v)))
		case plyFloat32:
			buf = order.AppendUint32(buf, math.Float32bits(float32(v)))
		case plyFloat64:
			buf = order.AppendUint64(buf, math.Float64bits(v))
		default:
			panic("unsupported PLY output type " + t.String())
		}
	}
	return buf
}
