// Package atrepoerr defines the typed error taxonomy shared by the
// byteseq, cid, dagcbor, car, mst and repo packages. Every decode failure
// in those packages is one of the Kind values below, wrapped with the
// byte offset or CID key that triggered it where one is available.
package atrepoerr

import "fmt"

// Kind identifies one of the error categories a repository read can fail
// with. Callers that need to branch on failure type should compare Kind,
// not the formatted message.
type Kind int

const (
	_ Kind = iota
	UnexpectedEOF
	VarintTooLong
	InvalidUTF8
	InvalidCBORStructure
	InvalidCID
	InvalidCARHeader
	UnsupportedCARVersion
	InvalidMSTNode
	InvalidMSTPrefix
	InvalidMSTOrdering
	InvalidMSTKey
	AmbiguousMSTRoot
	MissingBlock
	MSTRecordDesync
)

func (k Kind) String() string {
	switch k {
	case UnexpectedEOF:
		return "UnexpectedEOF"
	case VarintTooLong:
		return "VarintTooLong"
	case InvalidUTF8:
		return "InvalidUTF8"
	case InvalidCBORStructure:
		return "InvalidCBORStructure"
	case InvalidCID:
		return "InvalidCID"
	case InvalidCARHeader:
		return "InvalidCARHeader"
	case UnsupportedCARVersion:
		return "UnsupportedCARVersion"
	case InvalidMSTNode:
		return "InvalidMSTNode"
	case InvalidMSTPrefix:
		return "InvalidMSTPrefix"
	case InvalidMSTOrdering:
		return "InvalidMSTOrdering"
	case InvalidMSTKey:
		return "InvalidMSTKey"
	case AmbiguousMSTRoot:
		return "AmbiguousMSTRoot"
	case MissingBlock:
		return "MissingBlock"
	case MSTRecordDesync:
		return "MSTRecordDesync"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned throughout this module. It
// carries the Kind, a human-readable message, an optional byte offset
// (-1 if not applicable) and an optional CID key (empty if not
// applicable), plus an optional wrapped cause.
type Error struct {
	Kind   Kind
	Msg    string
	Offset int
	CIDKey string
	Cause  error
}

func (e *Error) Error() string {
	switch {
	case e.CIDKey != "" && e.Offset >= 0:
		return fmt.Sprintf("%s: %s (offset %d, cid %x)", e.Kind, e.Msg, e.Offset, e.CIDKey)
	case e.CIDKey != "":
		return fmt.Sprintf("%s: %s (cid %x)", e.Kind, e.Msg, e.CIDKey)
	case e.Offset >= 0:
		return fmt.Sprintf("%s: %s (offset %d)", e.Kind, e.Msg, e.Offset)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, which lets
// callers write errors.Is(err, atrepoerr.New(atrepoerr.MissingBlock, "")).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// New builds an *Error with no offset or CID context.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Offset: -1}
}

// At builds an *Error carrying the byte offset it was detected at.
func At(kind Kind, msg string, offset int) *Error {
	return &Error{Kind: kind, Msg: msg, Offset: offset}
}

// WithCID builds an *Error carrying the canonical CID key it relates to.
func WithCID(kind Kind, msg string, cidKey string) *Error {
	return &Error{Kind: kind, Msg: msg, Offset: -1, CIDKey: cidKey}
}

// Wrap builds an *Error that wraps a lower-level cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Offset: -1, Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !asError(err, &e) {
		return false
	}
	return e.Kind == kind
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
