// Package session implements the single process-wide owner of the tuning
// core's live state: the loaded definition, the tune cache, the ECU
// connection, the real-time stream task, and the correction engine. Every
// mutation the host UI can ask for goes through a *Session method; nothing
// outside this package holds a writable reference to the cache or the
// connection, so the copy-on-read snapshots cache.Cache already provides
// are the only view a concurrent reader ever sees.
//
// There is no single teacher file that plays this exact role — the
// teacher's closest analogue is its top-level client/station type that
// owns one cs104 connection's lifecycle end to end, already folded into
// protocol.Conn's Connect/Close state machine. Session builds on top of
// that the same way the teacher's own session-level code would: one
// struct, one mutex, explicit lifecycle methods, an event feed for
// observers instead of callbacks.
package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tunecraft/ecucore/cache"
	"github.com/tunecraft/ecucore/clog"
	"github.com/tunecraft/ecucore/correction"
	"github.com/tunecraft/ecucore/definition"
	"github.com/tunecraft/ecucore/protocol"
	"github.com/tunecraft/ecucore/realtime"
	"github.com/tunecraft/ecucore/transport"
)

// EventKind identifies one of the host-facing events spec §6.4 names.
type EventKind string

const (
	EventConnectionStateChanged EventKind = "connection:state_changed"
	EventSignatureMismatch      EventKind = "signature:mismatch"
	EventSyncProgress           EventKind = "sync:progress"
	EventSample                 EventKind = "sample"
	EventHeatmapUpdated         EventKind = "correction:heatmap_updated"
	EventMigrationNeeded        EventKind = "tune:migration_needed"
)

// Event is one notification delivered to a Subscribe channel. Payload's
// concrete type depends on Kind: protocol.State for
// EventConnectionStateChanged, string for EventSignatureMismatch,
// SyncReport for EventSyncProgress, realtime.Sample for EventSample,
// []correction.HeatmapEntry for EventHeatmapUpdated, and
// *tunefile.MigrationReport for EventMigrationNeeded.
type Event struct {
	Kind    EventKind
	Payload interface{}
}

// TransportConfig picks which transport.Channel Connect opens.
type TransportConfig struct {
	Serial *transport.SerialConfig
	TCP    *transport.TCPConfig

	CANID          byte
	EnvelopeMode   protocol.EnvelopeMode
	CommandTimeout time.Duration
	MaxRetries     uint64
	FastPath       protocol.FastPathFn
}

// Session owns the definition/cache/connection/stream/correction state for
// one open project (spec §5's ownership model). The zero value is not
// usable; construct with New.
type Session struct {
	log clog.Clog

	mu          sync.Mutex
	def         *definition.Definition
	c           *cache.Cache
	conn        *protocol.Conn
	tunePath    string
	stream      *realtime.Stream
	streamStop  context.CancelFunc
	engine      *correction.Engine
	engineStop  func()
	subscribers map[int]chan Event
	nextSubID   int
}

// New returns an idle Session with no definition loaded.
func New() *Session {
	return &Session{
		log:         clog.New("[session] "),
		subscribers: make(map[int]chan Event),
	}
}

// Subscribe returns an event channel and an unsubscribe function. Delivery
// is lossy under a slow consumer: a full channel drops its oldest queued
// event to make room, the same drop-oldest policy realtime.Stream.publish
// uses for telemetry samples, since an event feed meant for a UI should
// never block the session on a reader that stalls.
func (s *Session) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan Event, 8)
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

func (s *Session) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// LoadDefinition parses the definition file at path and resets the tune
// cache to match it. Any open connection, stream, or correction engine
// from a previous definition is torn down first, since none of them are
// valid against a new constant catalog.
func (s *Session) LoadDefinition(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("session: load definition: %w", err)
	}
	defer f.Close()

	def, err := definition.Load(f)
	if err != nil {
		return fmt.Errorf("session: load definition: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	s.def = def
	s.c = cache.New(def)
	s.tunePath = ""
	return nil
}

// teardownLocked stops any running stream/correction session and drops the
// connection. Callers must hold s.mu.
func (s *Session) teardownLocked() {
	if s.streamStop != nil {
		s.streamStop()
		s.streamStop = nil
		s.stream = nil
	}
	if s.engine != nil {
		s.engine.Stop()
		s.engine = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// Connect opens a transport channel per cfg and performs the protocol
// handshake against the currently loaded definition. A signature mismatch
// does not fail Connect (protocol.Conn.Connect's own verify-before-trust
// contract); it is surfaced as an EventSignatureMismatch instead, leaving
// the decision to proceed up to the caller.
func (s *Session) Connect(ctx context.Context, cfg TransportConfig) error {
	s.mu.Lock()
	def := s.def
	s.mu.Unlock()
	if def == nil {
		return fmt.Errorf("session: connect: no definition loaded")
	}

	ch, err := openChannel(ctx, cfg)
	if err != nil {
		return fmt.Errorf("session: connect: %w", err)
	}

	conn, err := protocol.NewConn(protocol.Config{
		Channel:        ch,
		Def:            def,
		CANID:          cfg.CANID,
		Mode:           cfg.EnvelopeMode,
		CommandTimeout: cfg.CommandTimeout,
		MaxRetries:     cfg.MaxRetries,
		FastPath:       cfg.FastPath,
	})
	if err != nil {
		return fmt.Errorf("session: connect: %w", err)
	}
	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("session: connect: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.emit(Event{Kind: EventConnectionStateChanged, Payload: conn.State()})
	if conn.SignatureMatch() != protocol.SignatureExact {
		s.emit(Event{Kind: EventSignatureMismatch, Payload: conn.Signature()})
	}
	return nil
}

// openChannel is a var so tests can substitute an in-memory transport
// without dialing real hardware; production callers never reassign it.
var openChannel = func(ctx context.Context, cfg TransportConfig) (transport.Channel, error) {
	switch {
	case cfg.Serial != nil:
		return transport.OpenSerial(*cfg.Serial)
	case cfg.TCP != nil:
		return transport.OpenTCP(ctx, *cfg.TCP)
	default:
		return nil, fmt.Errorf("session: TransportConfig needs Serial or TCP")
	}
}

// Disconnect stops any running stream/correction session and closes the
// connection.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	s.teardownLocked()
	s.mu.Unlock()
	s.emit(Event{Kind: EventConnectionStateChanged, Payload: protocol.StateDisconnected})
	return nil
}

func (s *Session) requireReady() (*definition.Definition, *cache.Cache, *protocol.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.def == nil || s.c == nil {
		return nil, nil, nil, fmt.Errorf("session: no definition loaded")
	}
	return s.def, s.c, s.conn, nil
}
