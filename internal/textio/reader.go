// Package textio reads and writes the whitespace separated, line oriented
// records used by the NVM, PMVS patch and ASCII PLY formats. Input is
// consumed one line at a time so memory use is bounded by the longest record.
package textio

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"go.viam.com/reconio/formaterr"
)

// Reader yields non-blank records from a line oriented source and tracks the
// line number and byte offset of each.
type Reader struct {
	r       *bufio.Reader
	source  formaterr.Source
	comment string

	line   int
	offset int64
	next   int64
	eof    bool
}

// NewReader returns a Reader over r. Errors it builds are attributed to
// source.
func NewReader(r io.Reader, source formaterr.Source) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Reader{r: br, source: source}
}

// SetComment makes lines whose first non-blank characters are prefix be
// skipped like blank lines.
func (r *Reader) SetComment(prefix string) {
	r.comment = prefix
}

// Source returns the source name errors are attributed to.
func (r *Reader) Source() formaterr.Source {
	return r.source
}

// Line returns the line number of the last record returned.
func (r *Reader) Line() int {
	return r.line
}

// Offset returns the byte offset of the next unread byte.
func (r *Reader) Offset() int64 {
	return r.next
}

// ReadLine returns the next raw line without its line terminator, blank or
// not. It returns io.EOF only when no bytes remain.
func (r *Reader) ReadLine() (string, error) {
	if r.eof {
		return "", io.EOF
	}
	s, err := r.r.ReadString('\n')
	if err != nil {
		if err != io.EOF {
			return "", err
		}
		r.eof = true
		if s == "" {
			return "", io.EOF
		}
	}
	r.offset = r.next
	r.next += int64(len(s))
	r.line++
	return strings.TrimRight(s, "\r\n"), nil
}

// Next returns the next record, skipping blank and comment lines. It
// returns io.EOF at the end of input and the source's error otherwise.
func (r *Reader) Next() (*Record, error) {
	for {
		s, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		trimmed := strings.TrimSpace(s)
		if trimmed == "" || (r.comment != "" && strings.HasPrefix(trimmed, r.comment)) {
			continue
		}
		return &Record{
			Fields: strings.Fields(trimmed),
			Line:   r.line,
			Offset: r.offset,
			source: r.source,
		}, nil
	}
}

// MustNext is Next with end of input and read failures converted to a
// TruncatedFile error describing what was expected.
func (r *Reader) MustNext(what string) (*Record, error) {
	rec, err := r.Next()
	if err != nil {
		return nil, r.ReadError(err, "expected "+what)
	}
	return rec, nil
}

// ReadError converts an error from the source into a format error positioned
// at the reader's current location.
func (r *Reader) ReadError(err error, args ...interface{}) error {
	return formaterr.FromRead(err, append([]interface{}{
		r.source, formaterr.Line(r.line + 1), formaterr.Offset(r.next),
	}, args...)...)
}

// ExpectEnd fails with CountMismatch if any non-blank record remains.
func (r *Reader) ExpectEnd(what string) error {
	rec, err := r.Next()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return r.ReadError(err)
	}
	return rec.E(formaterr.CountMismatch, "unexpected data after the declared "+what)
}

// Buffered returns the underlying buffered reader, for formats that switch to
// binary data after a text header. Offsets are no longer tracked after that.
func (r *Reader) Buffered() *bufio.Reader {
	return r.r
}

// Record is one line of whitespace separated fields, consumed left to right.
type Record struct {
	Fields []string
	Line   int
	Offset int64

	// Malformed is the kind reported for a field that does not parse. Zero
	// means TruncatedFile: the record cannot be read in full.
	Malformed formaterr.Kind

	source formaterr.Source
	pos    int
}

// E builds a format error positioned at this record.
func (rec *Record) E(args ...interface{}) error {
	return formaterr.E(append([]interface{}{
		rec.source, formaterr.Line(rec.Line), formaterr.Offset(rec.Offset),
	}, args...)...)
}

// Locate attributes a format error without a position to this record.
func (rec *Record) Locate(err error) error {
	return formaterr.Locate(err, rec.source, rec.Line, rec.Offset)
}

// Len returns the number of fields.
func (rec *Record) Len() int {
	return len(rec.Fields)
}

// Remaining returns the number of unconsumed fields.
func (rec *Record) Remaining() int {
	return len(rec.Fields) - rec.pos
}

func (rec *Record) malformed() formaterr.Kind {
	if rec.Malformed == 0 {
		return formaterr.TruncatedFile
	}
	return rec.Malformed
}

// Token consumes the next field.
func (rec *Record) Token(what string) (string, error) {
	if rec.pos >= len(rec.Fields) {
		return "", rec.E(formaterr.CountMismatch, "record ends before "+what)
	}
	tok := rec.Fields[rec.pos]
	rec.pos++
	return tok, nil
}

// Float consumes the next field as a float64.
func (rec *Record) Float(what string) (float64, error) {
	tok, err := rec.Token(what)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, rec.E(rec.malformed(), "malformed "+what+" "+strconv.Quote(tok))
	}
	return v, nil
}

// Floats consumes len(dst) fields as float64s.
func (rec *Record) Floats(what string, dst []float64) error {
	for i := range dst {
		v, err := rec.Float(what)
		if err != nil {
			return err
		}
		dst[i] = v
	}
	return nil
}

// Int consumes the next field as an int.
func (rec *Record) Int(what string) (int, error) {
	tok, err := rec.Token(what)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(tok)
	if err != nil {
		return 0, rec.E(rec.malformed(), "malformed "+what+" "+strconv.Quote(tok))
	}
	return v, nil
}

// Count consumes the next field as a non-negative count.
func (rec *Record) Count(what string) (int, error) {
	n, err := rec.Int(what)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, rec.E(rec.malformed(), "negative "+what+" "+strconv.Itoa(n))
	}
	return n, nil
}

// Done fails with CountMismatch if fields remain unconsumed.
func (rec *Record) Done(what string) error {
	if rec.pos != len(rec.Fields) {
		return rec.E(formaterr.CountMismatch,
			"expected "+strconv.Itoa(rec.pos)+" fields in "+what+", found "+strconv.Itoa(len(rec.Fields)))
	}
	return nil
}

// ReadCountLine reads a record holding exactly one count, as used for the
// element counts of NVM and PMVS files.
func (r *Reader) ReadCountLine(what string) (int, *Record, error) {
	rec, err := r.MustNext(what)
	if err != nil {
		return 0, nil, err
	}
	rec.Malformed = formaterr.MalformedHeader
	n, err := rec.Count(what)
	if err != nil {
		return 0, nil, err
	}
	if err := rec.Done(what); err != nil {
		return 0, nil, err
	}
	return n, rec, nil
}
