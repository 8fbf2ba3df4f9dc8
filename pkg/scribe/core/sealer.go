package core

import "github.com/jabolina/go-scribe/pkg/scribe/scribeerr"

// Sealer is the opaque symmetric-encryption boundary the specification
// deliberately keeps out of THE CORE: the engine calls Seal on bytes it is
// about to hand to the transport, and Open on bytes the transport just
// handed it, and never looks inside either operation. A production Sealer
// is an authenticated construction that fails closed on tamper; this module
// ships only NoopSealer, and internal/transport carries sealed bytes without
// sealing or opening them.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// NoopSealer treats payloads as already in the clear. It exists for tests
// and for embedding the engine in contexts (e.g. a trusted loopback) where
// sealing is handled by a layer above the engine.
type NoopSealer struct{}

func (NoopSealer) Seal(plaintext []byte) ([]byte, error) { return plaintext, nil }
func (NoopSealer) Open(sealed []byte) ([]byte, error)    { return sealed, nil }

// sealOpenErr wraps a Sealer.Open failure as the SealOpen error kind the
// specification requires engines to report (and discard the message for),
// rather than silently hiding the corruption.
func sealOpenErr(err error) error {
	return scribeerr.Wrap(scribeerr.SealOpen, err, "opening sealed payload")
}
