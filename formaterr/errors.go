// Package formaterr defines the error taxonomy shared by the sparse and dense
// reconstruction codecs. Every format failure carries a Kind from a closed
// set together with the position of the offending record and, where one is
// involved, the offending index.
//
// Errors caused by a failing source or sink (as opposed to bad content) carry
// the Temporary severity so that callers can tell a transient I/O failure,
// which may succeed on retry, from malformed input, which never will.
package formaterr

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Kind is the class of a format error.
type Kind int

const (
	// MalformedHeader indicates a missing or garbled signature, or an
	// unreadable header or count line.
	MalformedHeader Kind = iota + 1
	// UnsupportedVersion indicates a recognized signature with a version or
	// encoding the codec does not implement.
	UnsupportedVersion
	// CountMismatch indicates a record whose contents disagree with a count
	// declared in the file.
	CountMismatch
	// TruncatedFile indicates the input ended, or could not be read, before a
	// declared record was complete.
	TruncatedFile
	// DanglingReference indicates an index that does not resolve to an
	// existing camera or vertex.
	DanglingReference
	// InvalidGeometry indicates a value outside its domain, such as a
	// non-unit rotation or normal, or a point without observations.
	InvalidGeometry
)

var kinds = map[Kind]string{
	MalformedHeader:    "malformed header",
	UnsupportedVersion: "unsupported version",
	CountMismatch:      "count mismatch",
	TruncatedFile:      "truncated file",
	DanglingReference:  "dangling reference",
	InvalidGeometry:    "invalid geometry",
}

// String returns a human-readable name of the kind.
func (k Kind) String() string {
	if s, ok := kinds[k]; ok {
		return s
	}
	return fmt.Sprintf("unknown kind %d", int(k))
}

// Severity tells whether an operation that failed with an Error may be
// retried.
type Severity int

const (
	// Fatal errors come from the content itself; retrying cannot help.
	Fatal Severity = iota
	// Temporary errors come from a failing source or sink.
	Temporary
)

// String returns a human-readable name of the severity.
func (s Severity) String() string {
	if s == Temporary {
		return "temporary"
	}
	return "fatal"
}

// Source names the format an error was raised for, e.g. "nvm" or "ply".
type Source string

// Line is a 1-based line number in the input.
type Line int

// Offset is a byte offset in the input.
type Offset int64

// Index is the offending camera, point, patch, vertex or face index.
type Index int

// Error is a format error. Errors should be constructed with E.
type Error struct {
	Kind     Kind
	Severity Severity
	Source   Source
	// Line is 0 when unknown.
	Line int
	// Offset is -1 when unknown.
	Offset int64
	// Index is meaningful only when HasIndex is set.
	Index    int
	HasIndex bool
	Message  string
	// Err is the underlying cause, if any.
	Err error
}

// E constructs an *Error from the provided arguments, interpreted by type:
//
//   - Kind: sets the kind
//   - Severity: sets the severity
//   - Source, Line, Offset, Index: set the position context
//   - string: appended to the message, space separated
//   - error: sets the cause
//
// E panics on any other argument type or when no Kind is given; both are
// programming errors.
func E(args ...interface{}) error {
	e := &Error{Offset: -1}
	var msg strings.Builder
	for _, arg := range args {
		switch arg := arg.(type) {
		case Kind:
			e.Kind = arg
		case Severity:
			e.Severity = arg
		case Source:
			e.Source = arg
		case Line:
			e.Line = int(arg)
		case Offset:
			e.Offset = int64(arg)
		case Index:
			e.Index = int(arg)
			e.HasIndex = true
		case string:
			if msg.Len() > 0 {
				msg.WriteByte(' ')
			}
			msg.WriteString(arg)
		case error:
			e.Err = arg
		default:
			panic(fmt.Sprintf("formaterr.E: unexpected argument %T", arg))
		}
	}
	if e.Kind == 0 {
		panic("formaterr.E: no kind")
	}
	e.Message = msg.String()
	return e
}

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Source != "" {
		b.WriteString(string(e.Source))
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Line > 0 {
		fmt.Fprintf(&b, " at line %d", e.Line)
	}
	if e.Offset >= 0 {
		fmt.Fprintf(&b, " (byte %d)", e.Offset)
	}
	if e.HasIndex {
		fmt.Fprintf(&b, " [index %d]", e.Index)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Temporary reports whether the error was caused by a failing source or sink.
func (e *Error) Temporary() bool {
	return e.Severity == Temporary
}

// Locate fills in the source and position of a format error that does not
// carry them yet. Other errors are returned unchanged.
func Locate(err error, source Source, line int, offset int64) error {
	e, ok := As(err)
	if !ok {
		return err
	}
	if e.Source == "" {
		e.Source = source
	}
	if e.Line == 0 {
		e.Line = line
		e.Offset = offset
	}
	return err
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err is a format error of the given kind.
func Is(kind Kind, err error) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// IsTemporary reports whether err is a format error caused by an I/O failure.
func IsTemporary(err error) bool {
	e, ok := As(err)
	return ok && e.Temporary()
}

// IndexOf returns the offending index carried by err.
func IndexOf(err error) (int, bool) {
	e, ok := As(err)
	if !ok || !e.HasIndex {
		return 0, false
	}
	return e.Index, true
}

// FromRead converts an error returned by a source into a format error. End of
// input is a truncation; anything else is a temporary I/O failure which is
// still reported as TruncatedFile because the record could not be read.
func FromRead(err error, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return E(append([]interface{}{TruncatedFile, "unexpected end of input"}, args...)...)
	}
	return E(append([]interface{}{TruncatedFile, Temporary, err}, args...)...)
}
