// Package codec converts synthesized speech between its three
// representations: the base64 text the synthesis service sends over the wire,
// raw 16-bit little-endian PCM, and self-contained playable containers (WAV
// and, for compact export, Ogg Opus).
//
// Every function is a synchronous, pure transform over in-memory buffers and
// is safe to call from any goroutine.
package codec

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrDecode matches every [*DecodeError] via [errors.Is].
var ErrDecode = errors.New("codec: decode failed")

// DecodeError reports malformed transport or container input.
type DecodeError struct {
	// Op names the failing operation ("transport", "wav header", ...).
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return "codec: " + e.Op + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDecode) hold for any DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// DecodeTransport decodes the standard base64 payload returned by the
// synthesis service into raw PCM bytes. Surrounding whitespace is ignored.
func DecodeTransport(payload string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, &DecodeError{Op: "transport", Err: err}
	}
	return raw, nil
}

// EncodeTransport is the inverse of [DecodeTransport].
func EncodeTransport(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}
