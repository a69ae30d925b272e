// Package realtime runs the periodic telemetry fetch/decode/publish loop
// (spec §4.5): a single cooperative task wakes on a fixed period, asks the
// protocol connection for one runtime block, decodes it into named output
// channels, and publishes the result to a lossy broadcast of subscribers.
// There is no teacher analogue for a "tick and publish" task — the teacher
// is a request/response master station with no periodic push — so this
// loop follows spec §9's own design note (a cooperative task with an
// explicit stop flag, not a thread) directly, using stdlib time.Ticker and
// context cancellation the way every other blocking operation in this
// module does.
package realtime

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/tunecraft/ecucore/clog"
	"github.com/tunecraft/ecucore/definition"
	"github.com/tunecraft/ecucore/protocol"
)

// Sample is one decoded telemetry snapshot: every output-channel value by
// name, plus a wall-clock timestamp used for attribution (§4.6.2) and for
// the "monotonic timestamp order" guarantee subscribers observe (§5).
type Sample struct {
	Timestamp time.Time
	Values    map[string]float64
}

// Config controls the stream's cadence and optional derived channels.
type Config struct {
	Period time.Duration // default 100ms per spec §4.5

	// DeriveLambda/DeriveDutyCycle add computed fields the wire payload
	// never carries directly, mirroring the goefidash Speeduino provider's
	// ParseOutputChannels calculated-fields tail. Both are opt-in per
	// definition/ECU family, not assumed present.
	DeriveLambda    bool
	Stoich          float64 // e.g. 14.7; zero means 14.7
	DeriveDutyCycle bool
}

func (c *Config) valid() {
	if c.Period <= 0 {
		c.Period = 100 * time.Millisecond
	}
	if c.Stoich == 0 {
		c.Stoich = 14.7
	}
}

// SampleSink receives every published sample; used by the correction engine
// to stay fed without subscribing through the broadcast queue (spec §4.5
// step 5: "if a correction session is active, feed the sample into it").
type SampleSink interface {
	Feed(Sample)
}

// Stream owns the periodic fetch loop and the subscriber broadcast.
type Stream struct {
	conn *protocol.Conn
	def  *definition.Definition
	cfg  Config
	log  clog.Clog

	mu          sync.Mutex
	subscribers map[int]chan Sample
	nextID      int
	sink        SampleSink

	warnedOnce map[string]bool
}

// New creates a Stream against an already-connected protocol.Conn.
func New(conn *protocol.Conn, def *definition.Definition, cfg Config) *Stream {
	cfg.valid()
	return &Stream{
		conn:        conn,
		def:         def,
		cfg:         cfg,
		log:         clog.New("[realtime] "),
		subscribers: make(map[int]chan Sample),
		warnedOnce:  make(map[string]bool),
	}
}

// SetSink installs (or clears, with nil) the correction-engine feed.
func (s *Stream) SetSink(sink SampleSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// Subscribe registers a new consumer. The returned channel is buffered to
// depth 1 and lossy: a slow consumer that hasn't drained the previous
// sample has it silently replaced by the newest one rather than blocking
// the publisher (spec §5: "overflow drops oldest"). Call the returned
// cancel func to unsubscribe.
func (s *Stream) Subscribe() (<-chan Sample, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan Sample, 1)
	s.subscribers[id] = ch
	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existing, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(existing)
		}
	}
	return ch, cancel
}

func (s *Stream) publish(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- sample:
		default:
			// drop the stale sample, then retry once so the consumer
			// always sees the newest publish rather than nothing.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- sample:
			default:
			}
		}
	}
	if s.sink != nil {
		s.sink.Feed(sample)
	}
}

// Run blocks, ticking every Config.Period, until ctx is canceled. A stop
// request (ctx cancellation) is honored only at the next wake — no partial
// sample is ever published (spec §5 cancellation policy).
func (s *Stream) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sample, err := s.tick(ctx)
			if err != nil {
				s.log.Warn("realtime: tick failed: %v", err)
				continue // one missed sample never stops the task (spec §7)
			}
			s.publish(sample)
		}
	}
}

func (s *Stream) tick(ctx context.Context) (Sample, error) {
	raw, err := s.conn.FetchRuntime(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("realtime: fetch: %w", err)
	}
	values := s.decode(raw)
	s.applyDerived(values)
	return Sample{Timestamp: timeNow(), Values: values}, nil
}

func (s *Stream) decode(raw []byte) map[string]float64 {
	out := make(map[string]float64, len(s.def.OutputChan))
	for name, ch := range s.def.OutputChan {
		size := ch.Kind.ByteSize()
		if ch.Offset < 0 || ch.Offset+size > len(raw) {
			s.warnOnce(name, fmt.Sprintf("channel %q offset %d+%d exceeds payload length %d", name, ch.Offset, size, len(raw)))
			continue
		}
		raw8 := raw[ch.Offset : ch.Offset+size]
		v, err := decodeChannel(raw8, ch.Kind, s.def.Endianness.ByteOrder())
		if err != nil {
			s.warnOnce(name, fmt.Sprintf("channel %q: %v", name, err))
			continue
		}
		out[name] = v*ch.Scale + ch.Translate
	}
	return out
}

func (s *Stream) warnOnce(key, msg string) {
	s.mu.Lock()
	already := s.warnedOnce[key]
	s.warnedOnce[key] = true
	s.mu.Unlock()
	if !already {
		s.log.Warn("realtime: %s", msg)
	}
}

// applyDerived adds Lambda/DutyCycle when the definition's channel names
// supply the inputs, mirroring Speeduino.parseOutputChannels's tail:
// Lambda = AFR/stoich; DutyCycle = PulseWidth1 / cycleTime(rpm) * 100,
// cycleTime assuming a 4-stroke engine (one injection event per two
// crank revolutions).
func (s *Stream) applyDerived(values map[string]float64) {
	if s.cfg.DeriveLambda {
		if afr, ok := values["afr"]; ok {
			values["lambda"] = afr / s.cfg.Stoich
		}
	}
	if s.cfg.DeriveDutyCycle {
		rpm, hasRPM := values["rpm"]
		pw, hasPW := values["pulseWidth1"]
		if hasRPM && hasPW && rpm > 0 {
			cycleTimeMs := 60000.0 / rpm * 2
			values["dutyCycle"] = (pw / cycleTimeMs) * 100
		}
	}
}

func decodeChannel(b []byte, kind definition.DataKind, order binary.ByteOrder) (float64, error) {
	switch kind {
	case definition.KindU8:
		return float64(b[0]), nil
	case definition.KindS8:
		return float64(int8(b[0])), nil
	case definition.KindU16:
		return float64(order.Uint16(b)), nil
	case definition.KindS16:
		return float64(int16(order.Uint16(b))), nil
	case definition.KindU32:
		return float64(order.Uint32(b)), nil
	case definition.KindS32:
		return float64(int32(order.Uint32(b))), nil
	}
	return 0, fmt.Errorf("unsupported output channel kind %v", kind)
}

// timeNow is overridden in tests to make Sample.Timestamp deterministic.
var timeNow = time.Now
