// Package scribeerr defines the structured error taxonomy the engine uses to
// report corruption and protocol violations back to its caller, instead of
// hiding them. See the KindOf function for branching on the reported error.
package scribeerr

import "github.com/pkg/errors"

// Kind identifies one of the fatal or reportable conditions the core can
// hit while decoding wire bytes, applying a message, or restoring state.
type Kind int

const (
	// Unknown is the zero value, used when an error did not originate
	// from one of the sentinels below.
	Unknown Kind = iota

	// IndexMismatch: persisted peer order does not match the order
	// reconstructed while replaying the message log. Fatal for Load.
	IndexMismatch

	// UnknownPeerIndex: a decoded operation references a peerIndex for
	// which the sender never declared a mapping. Fatal for the message.
	UnknownPeerIndex

	// OutOfOrderSeqNo: sender sequence number is not exactly last+1.
	// Reported to the transport, which should resubscribe from the
	// last-known offset.
	OutOfOrderSeqNo

	// ClockRegression: a lastSeqNo in a clock update decreased, or
	// nextTS <= previous logicalTS. Fatal for the message.
	ClockRegression

	// UnknownOperationVariant: a decoded operation does not match any
	// known tag. Fatal for the message.
	UnknownOperationVariant

	// SealOpen: decryption/authentication failure on a sealed payload.
	// The message is discarded; not fatal to the engine.
	SealOpen
)

func (k Kind) String() string {
	switch k {
	case IndexMismatch:
		return "IndexMismatch"
	case UnknownPeerIndex:
		return "UnknownPeerIndex"
	case OutOfOrderSeqNo:
		return "OutOfOrderSeqNo"
	case ClockRegression:
		return "ClockRegression"
	case UnknownOperationVariant:
		return "UnknownOperationVariant"
	case SealOpen:
		return "SealOpen"
	default:
		return "Unknown"
	}
}

// kindError pairs a Kind with an underlying, stack-annotated cause.
type kindError struct {
	kind  Kind
	cause error
}

func (e *kindError) Error() string {
	return e.kind.String() + ": " + e.cause.Error()
}

func (e *kindError) Cause() error { return e.cause }

func (e *kindError) Unwrap() error { return e.cause }

// New wraps msg as a new error of the given kind, attaching a stack trace.
func New(kind Kind, msg string) error {
	return &kindError{kind: kind, cause: errors.New(msg)}
}

// Wrap annotates err with the given kind and msg, attaching a stack trace
// taken at the point Wrap is called.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, cause: errors.Wrap(err, msg)}
}

// KindOf extracts the Kind carried by err, walking wrapped causes. Returns
// Unknown if err (or nothing in its chain) was produced by this package.
func KindOf(err error) Kind {
	for err != nil {
		if ke, ok := err.(*kindError); ok {
			return ke.kind
		}
		cause, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = cause.Unwrap()
	}
	return Unknown
}

// Is reports whether err's Kind equals kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
