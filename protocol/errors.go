package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected      = errors.New("protocol: not connected")
	ErrAlreadyConnected  = errors.New("protocol: already connected")
	ErrFrameLength       = errors.New("protocol: unexpected frame length")
	ErrCRCMismatch       = errors.New("protocol: crc mismatch")
	ErrSignatureMismatch = errors.New("protocol: signature mismatch")
	ErrUnknownCommand    = errors.New("protocol: unknown command template")
	ErrBadTemplate       = errors.New("protocol: malformed command template")
	ErrMissingParam      = errors.New("protocol: command template references a parameter that was not supplied")
	ErrClosing           = errors.New("protocol: connection closing")

	// ErrBadStatus wraps the non-zero status byte a CRC-framed response
	// reports (spec §4.3.3/§7 Protocol::BadStatus(u8)). Use errors.As with
	// *BadStatusError to recover the byte.
	ErrBadStatus = errors.New("protocol: ECU reported non-zero status")
)

// BadStatusError carries the actual status byte a CRC-framed response
// reported, alongside ErrBadStatus so callers can still errors.Is it.
type BadStatusError struct {
	Status byte
}

func (e *BadStatusError) Error() string {
	return fmt.Sprintf("protocol: ECU reported status 0x%02X", e.Status)
}

func (e *BadStatusError) Unwrap() error { return ErrBadStatus }
