// Package protocol implements the framed command/response connection to a
// live ECU: command synthesis from definition-supplied templates, Raw or
// CRC-framed (msEnvelope_1.0) wire encoding, a verify-before-trust
// connection handshake, and the read/write/burn/runtime operation set used
// by the tune cache and real-time stream. Its state-machine shape (a
// handshake that must complete before ordinary traffic flows, with
// explicit Draining/Closing teardown states) is grounded on the teacher's
// cs104 connection lifecycle; its command framing is grounded on
// other_examples' goefidash Speeduino provider.
package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tunecraft/ecucore/clog"
	"github.com/tunecraft/ecucore/definition"
	"github.com/tunecraft/ecucore/transport"
)

// FastPathFn is an optional hook for family-C ECUs that expose a faster
// text-console transport alongside the standard command protocol. Spec §9
// leaves the exact framing of this path an open question; this module
// commits only to the hook shape — if set, SendConsoleCommand tries it
// first and falls back to the standard envelope path transparently on any
// error, never surfacing the fast path's failure to the caller directly.
type FastPathFn func(ctx context.Context, cmd string) (string, error)

// Config configures a Conn. The default is applied for each unspecified
// value (cs104/config.go's Config.Valid() convention).
type Config struct {
	Channel transport.Channel
	Def     *definition.Definition
	CANID   byte
	Mode    EnvelopeMode

	RuntimeMode RuntimePacketMode

	// CommandTimeout bounds a single command round trip.
	CommandTimeout time.Duration
	// MaxRetries bounds the retry/backoff.Retry attempts for one command.
	MaxRetries uint64

	FastPath FastPathFn
}

func (c *Config) Valid() error {
	if c.Channel == nil {
		return fmt.Errorf("protocol: Channel required")
	}
	if c.Def == nil {
		return fmt.Errorf("protocol: Def required")
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = 2 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	return nil
}

// Conn is a live, stateful connection to one ECU. It is not safe for
// concurrent operation calls (the session package serializes access, as a
// single ECU has no concept of concurrent commands); Close may be called
// concurrently with an in-flight operation to request teardown.
type Conn struct {
	cfg Config
	log clog.Clog

	state    State
	sig      string
	sigMatch SignatureMatch

	// ochFailed latches permanently once an Auto-mode OCH fetch fails, so
	// the connection demotes to the legacy burst command for the rest of its
	// lifetime instead of retrying a path already known to be unsupported
	// (spec §4.3.7).
	ochFailed bool
}

// NewConn validates cfg and returns a not-yet-connected Conn.
func NewConn(cfg Config) (*Conn, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	return &Conn{cfg: cfg, log: clog.New("[protocol] "), state: StateDisconnected}, nil
}

func (c *Conn) State() State               { return c.state }
func (c *Conn) Signature() string          { return c.sig }
func (c *Conn) SignatureMatch() SignatureMatch { return c.sigMatch }

// Connect performs the verify-before-trust handshake: query the live ECU's
// signature and classify it against the loaded definition's expected
// signature before transitioning to Connected. A Mismatch does not error;
// the caller (session) decides whether to proceed, refuse, or prompt for a
// different definition, matching spec §4.3's verification semantics.
func (c *Conn) Connect(ctx context.Context) error {
	if c.state != StateDisconnected {
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.state = StateVerifying

	sig, err := c.QuerySignature(ctx)
	if err != nil {
		c.state = StateDisconnected
		return err
	}
	c.sig = sig
	c.sigMatch = classifySignature(c.cfg.Def.Signature, sig)
	c.state = StateConnected
	c.log.Debug("connected: signature=%q match=%v", sig, c.sigMatch)
	return nil
}

// QuerySignature sends the definition's "signaturecommand" template and
// returns the ECU's reported signature string.
func (c *Conn) QuerySignature(ctx context.Context) (string, error) {
	tmpl, ok := c.cfg.Def.Commands["signaturecommand"]
	if !ok {
		return "", fmt.Errorf("%w: signaturecommand", ErrUnknownCommand)
	}
	resp, err := c.roundTrip(ctx, tmpl, CommandParams{}, 64)
	if err != nil {
		return "", err
	}
	return trimNulls(resp), nil
}

// ReadPage reads the full contents of one tune page.
func (c *Conn) ReadPage(ctx context.Context, page int) ([]byte, error) {
	if err := c.requireConnected(); err != nil {
		return nil, err
	}
	if page < 0 || page >= len(c.cfg.Def.PageSizes) {
		return nil, fmt.Errorf("protocol: page %d out of range", page)
	}
	size := c.cfg.Def.PageSizes[page]
	tmpl, ok := c.cfg.Def.Commands["readcommand"]
	if !ok {
		return nil, fmt.Errorf("%w: readcommand", ErrUnknownCommand)
	}
	params := CommandParams{Page: intPtr(page), Offset: intPtr(0), Count: intPtr(size)}
	return c.roundTrip(ctx, tmpl, params, size)
}

// WriteRange writes data into page at the given byte offset, chunked to
// the definition's OCHBlockSize (one chunk holding all of data when that
// is 0) with InterWriteDelay after each chunk — large single writes risk overrunning the ECU's RAM
// staging buffer, so every real tuning tool chunks.
func (c *Conn) WriteRange(ctx context.Context, page, offset int, data []byte) error {
	if err := c.requireConnected(); err != nil {
		return err
	}
	tmpl, ok := c.cfg.Def.Commands["writecommand"]
	if !ok {
		return fmt.Errorf("%w: writecommand", ErrUnknownCommand)
	}
	chunk := c.cfg.Def.Timing.OCHBlockSize
	if chunk <= 0 {
		chunk = len(data)
	}
	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		part := data[off:end]
		if _, err := c.roundTripWrite(ctx, tmpl, page, offset+off, part); err != nil {
			return fmt.Errorf("protocol: write page %d offset %d: %w", page, offset+off, err)
		}
		if d := c.cfg.Def.Timing.InterWriteDelayMS; d > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(d) * time.Millisecond):
			}
		}
	}
	return nil
}

// Burn commits the currently-written page to non-volatile storage.
func (c *Conn) Burn(ctx context.Context, page int) error {
	if err := c.requireConnected(); err != nil {
		return err
	}
	tmpl, ok := c.cfg.Def.Commands["burncommand"]
	if !ok {
		return fmt.Errorf("%w: burncommand", ErrUnknownCommand)
	}
	_, err := c.roundTrip(ctx, tmpl, CommandParams{Page: intPtr(page)}, 1)
	if d := c.cfg.Def.Timing.PageActivationDelayMS; d > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(d) * time.Millisecond):
		}
	}
	return err
}

// FetchRuntime retrieves one telemetry sample block, honoring the
// configured RuntimePacketMode (spec §4.3.7): ForceOCH always uses the
// windowed "ochgetcommand"; ForceBurst, and Disabled (which falls back to
// Burst rather than erroring — a caller that wants "never fetch" skips
// calling FetchRuntime at all), always use the legacy "realtimecommand";
// Auto prefers OCH but permanently demotes to Burst for the rest of the
// connection's lifetime after the first OCH failure.
func (c *Conn) FetchRuntime(ctx context.Context) ([]byte, error) {
	if err := c.requireConnected(); err != nil {
		return nil, err
	}
	size := c.cfg.Def.Timing.OCHBlockSize
	params := CommandParams{Offset: intPtr(0), Count: intPtr(size)}

	useBurst := c.cfg.RuntimeMode == RuntimeForceBurst || c.cfg.RuntimeMode == RuntimeDisabled ||
		(c.cfg.RuntimeMode == RuntimeAuto && c.ochFailed)
	if useBurst {
		return c.fetchBurst(ctx, params, size)
	}

	data, err := c.fetchOCH(ctx, params, size)
	if err != nil && c.cfg.RuntimeMode == RuntimeAuto {
		c.ochFailed = true
		c.log.Debug("och fetch failed, demoting to burst for remainder of connection: %v", err)
		return c.fetchBurst(ctx, params, size)
	}
	return data, err
}

func (c *Conn) fetchOCH(ctx context.Context, params CommandParams, size int) ([]byte, error) {
	tmpl, ok := c.cfg.Def.Commands["ochgetcommand"]
	if !ok {
		return nil, fmt.Errorf("%w: ochgetcommand", ErrUnknownCommand)
	}
	return c.roundTrip(ctx, tmpl, params, size)
}

func (c *Conn) fetchBurst(ctx context.Context, params CommandParams, size int) ([]byte, error) {
	tmpl, ok := c.cfg.Def.Commands["realtimecommand"]
	if !ok {
		return nil, fmt.Errorf("%w: realtimecommand", ErrUnknownCommand)
	}
	return c.roundTrip(ctx, tmpl, params, size)
}

// SendConsoleCommand sends a free-form console command. On family-C ECUs
// with a FastPath hook configured it tries that first; any error there
// (including an absent fast path) falls back to the standard command
// protocol via the definition's "consolecommand" template, with cmd's text
// bound to the template's %v token, per the spec §9 Open Question decision
// to keep the fast path fully optional.
func (c *Conn) SendConsoleCommand(ctx context.Context, cmd string) (string, error) {
	if c.cfg.FastPath != nil {
		if resp, err := c.cfg.FastPath(ctx, cmd); err == nil {
			return resp, nil
		}
		c.log.Debug("fast path console command failed, falling back: %q", cmd)
	}
	tmpl, ok := c.cfg.Def.Commands["consolecommand"]
	if !ok {
		return "", fmt.Errorf("%w: consolecommand", ErrUnknownCommand)
	}
	resp, err := c.roundTrip(ctx, tmpl, CommandParams{Value: []byte(cmd)}, 128)
	if err != nil {
		return "", err
	}
	return trimNulls(resp), nil
}

// SyncAllPages reads every page the definition declares, retrying each
// individually and continuing past a failed page rather than aborting the
// whole sync — a single noisy page on a long serial run shouldn't cost the
// tuner the rest of a working connection.
func (c *Conn) SyncAllPages(ctx context.Context) (map[int][]byte, map[int]error) {
	out := make(map[int][]byte, c.cfg.Def.NPages())
	errs := make(map[int]error)
	for p := 0; p < c.cfg.Def.NPages(); p++ {
		data, err := c.ReadPage(ctx, p)
		if err != nil {
			errs[p] = err
			continue
		}
		out[p] = data
	}
	return out, errs
}

// Close transitions through Draining/Closing and releases the transport.
func (c *Conn) Close() error {
	if c.state == StateDisconnected {
		return nil
	}
	c.state = StateDraining
	c.state = StateClosing
	err := c.cfg.Channel.Close()
	c.state = StateDisconnected
	return err
}

func (c *Conn) requireConnected() error {
	if c.state != StateConnected {
		return ErrNotConnected
	}
	return nil
}

// roundTrip synthesizes tmpl against params, writes it, reads back a
// respLen-byte frame (accounting for the envelope trailer, and in CRC mode
// first reading the 2-byte length header), and decodes
// it — retrying the whole exchange under exponential backoff, since a
// single dropped or garbled byte on a serial link is far more likely than
// a persistent fault.
func (c *Conn) roundTrip(ctx context.Context, tmpl string, params CommandParams, respLen int) ([]byte, error) {
	req, err := Synthesize(tmpl, c.cfg.CANID, c.cfg.Def.Endianness.ByteOrder(), params)
	if err != nil {
		return nil, err
	}
	wire := EncodeRequest(c.cfg.Mode, req)
	frameLen := ResponseFrameLen(c.cfg.Mode, respLen)

	var data []byte
	op := func() error {
		cctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
		defer cancel()
		if err := c.cfg.Channel.WriteAll(cctx, wire); err != nil {
			return err
		}
		if c.cfg.Mode == EnvelopeCRC {
			var hdr [2]byte
			if err := c.cfg.Channel.ReadExact(cctx, hdr[:]); err != nil {
				return err
			}
		}
		frame := make([]byte, frameLen)
		if err := c.cfg.Channel.ReadExact(cctx, frame); err != nil {
			return err
		}
		d, err := DecodeResponse(c.cfg.Mode, frame, respLen)
		if err != nil {
			return err
		}
		data = d
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.cfg.MaxRetries)
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("protocol: command failed after retries: %w", err)
	}
	return data, nil
}

// roundTripWrite synthesizes the write template with the value payload
// bound to its %v token (spec §4.3.2) rather than appending data after
// Synthesize returns, so a template can place the value anywhere, not just
// at the end.
func (c *Conn) roundTripWrite(ctx context.Context, tmpl string, page, offset int, data []byte) ([]byte, error) {
	params := CommandParams{Page: intPtr(page), Offset: intPtr(offset), Count: intPtr(len(data)), Value: data}
	req, err := Synthesize(tmpl, c.cfg.CANID, c.cfg.Def.Endianness.ByteOrder(), params)
	if err != nil {
		return nil, err
	}
	wire := EncodeRequest(c.cfg.Mode, req)
	ackLen := ResponseFrameLen(c.cfg.Mode, 1)

	var ack []byte
	op := func() error {
		cctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
		defer cancel()
		if err := c.cfg.Channel.WriteAll(cctx, wire); err != nil {
			return err
		}
		if c.cfg.Mode == EnvelopeCRC {
			var hdr [2]byte
			if err := c.cfg.Channel.ReadExact(cctx, hdr[:]); err != nil {
				return err
			}
		}
		frame := make([]byte, ackLen)
		if err := c.cfg.Channel.ReadExact(cctx, frame); err != nil {
			return err
		}
		d, err := DecodeResponse(c.cfg.Mode, frame, 1)
		if err != nil {
			return err
		}
		ack = d
		return nil
	}
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.cfg.MaxRetries)
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("protocol: write failed after retries: %w", err)
	}
	return ack, nil
}

func trimNulls(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}
