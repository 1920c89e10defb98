package textio

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Writer writes space separated records. The first write error is sticky:
// later writes are dropped and Flush returns it.
type Writer struct {
	w         *bufio.Writer
	precision int
	err       error
}

// NewWriter returns a Writer that formats floats with the given number of
// significant digits; -1 selects the shortest representation that parses
// back to the identical float64.
func NewWriter(w io.Writer, precision int) *Writer {
	return &Writer{w: bufio.NewWriter(w), precision: precision}
}

// FormatFloat formats v with the given precision as NewWriter does.
func FormatFloat(v float64, precision int) string {
	return strconv.FormatFloat(v, 'g', precision, 64)
}

// Float formats v with the writer's precision.
func (w *Writer) Float(v float64) string {
	return FormatFloat(v, w.precision)
}

// Float32 formats v as a 32-bit float. A precision of -1 selects the shortest
// representation that parses back to the identical float32.
func (w *Writer) Float32(v float64) string {
	return strconv.FormatFloat(float64(float32(v)), 'g', w.precision, 32)
}

// Floats formats each value with the writer's precision.
func (w *Writer) Floats(vs ...float64) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = w.Float(v)
	}
	return out
}

// Int formats v in base 10.
func Int(v int) string {
	return strconv.Itoa(v)
}

// Ints formats each value in base 10.
func Ints(vs []int) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = strconv.Itoa(v)
	}
	return out
}

// Line writes the fields separated by single spaces and ends the line.
func (w *Writer) Line(fields ...string) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.WriteString(strings.Join(fields, " "))
	if w.err == nil {
		w.err = w.w.WriteByte('\n')
	}
}

// Join concatenates groups of fields for Line.
func Join(groups ...[]string) []string {
	var n int
	for _, g := range groups {
		n += len(g)
	}
	out := make([]string, 0, n)
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// Write writes raw bytes, for binary sections.
func (w *Writer) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	var n int
	n, w.err = w.w.Write(p)
	return n, w.err
}

// Err returns the first write error, if any.
func (w *Writer) Err() error {
	return w.err
}

// Flush flushes buffered output and returns the first error encountered.
func (w *Writer) Flush() error {
	if w.err != nil {
		return errors.Wrap(w.err, "write failed")
	}
	if err := w.w.Flush(); err != nil {
		return errors.Wrap(err, "flush failed")
	}
	return nil
}
