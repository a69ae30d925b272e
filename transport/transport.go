// Package transport provides the byte-pipe abstraction the protocol layer
// is built on: something that can write a full command and read back an
// exact number of bytes within a deadline, regardless of whether the other
// end is a serial port or a TCP socket. This mirrors the teacher's own
// split between framing (cs104/apci.go) and the underlying net.Conn it is
// handed — except here this module owns both sides, since neither a serial
// port nor an ECU-emulator TCP socket is a stdlib net.Conn by default.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
)

// ErrClosed is returned by any operation on a Channel that has already been
// closed.
var ErrClosed = errors.New("transport: channel closed")

// ErrTimeout is returned when a read does not complete within its deadline.
var ErrTimeout = errors.New("transport: read timeout")

// Channel is the minimal contract the protocol layer needs from a
// transport: write the whole buffer or fail, read exactly n bytes or fail
// (no short reads leak to the caller), and report how many bytes are
// currently buffered and ready without blocking.
type Channel interface {
	// WriteAll writes the entire buffer, blocking until done or ctx is
	// canceled.
	WriteAll(ctx context.Context, p []byte) error

	// ReadExact reads exactly len(p) bytes into p, blocking (subject to ctx
	// and the channel's configured inter-byte timeout) until either all
	// bytes have arrived or the timeout/ctx fires. A partial read is always
	// an error; the caller never has to distinguish a short read from a
	// full one.
	ReadExact(ctx context.Context, p []byte) error

	// Available reports the number of bytes currently buffered and
	// readable without blocking. SerialChannel and TCPChannel cannot query
	// this and always report 0.
	Available() (int, error)

	// Discard reads and drops up to n bytes and reports how many it
	// dropped.
	Discard(n int) (int, error)

	Close() error
}

// readExactFrom is the shared ReadExact implementation used by both the
// serial and TCP channels: loop on the underlying io.Reader until p is
// full, translating io.EOF (which a still-open port reports after its
// configured read timeout with no data) into ErrTimeout rather than letting
// it look like the link closed. The underlying reader is expected to have
// its own per-Read timeout already configured (SetReadTimeout for serial,
// SetReadDeadline for TCP), so ctx only needs checking between reads.
func readExactFrom(ctx context.Context, r io.Reader, p []byte) error {
	got := 0
	for got < len(p) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := r.Read(p[got:])
		got += n
		if err != nil {
			if errors.Is(err, io.EOF) || isTimeout(err) {
				if got < len(p) {
					return ErrTimeout
				}
				continue
			}
			return err
		}
	}
	return nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
