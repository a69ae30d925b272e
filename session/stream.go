package session

import (
	"context"
	"fmt"

	"github.com/tunecraft/ecucore/realtime"
)

// StartRuntimeStream begins polling the connected ECU for telemetry at
// cfg's cadence and forwards every sample as an EventSample, plus feeding
// the running correction engine if one is active (spec §6.4
// start_runtime_stream). Calling it again while a stream is already
// running is a no-op rather than an error, so a UI reconnecting to an
// existing session doesn't need to track stream state itself.
func (s *Session) StartRuntimeStream(ctx context.Context, cfg realtime.Config) error {
	def, _, conn, err := s.requireReady()
	if err != nil {
		return err
	}
	if conn == nil {
		return fmt.Errorf("session: start_runtime_stream: not connected")
	}

	s.mu.Lock()
	if s.stream != nil {
		s.mu.Unlock()
		return nil
	}
	stream := realtime.New(conn, def, cfg)
	if s.engine != nil {
		stream.SetSink(s.engine)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.stream = stream
	s.streamStop = cancel
	s.mu.Unlock()

	sub, unsub := stream.Subscribe()
	go func() {
		defer unsub()
		for sample := range sub {
			s.emit(Event{Kind: EventSample, Payload: sample})
		}
	}()

	go func() {
		if err := stream.Run(runCtx); err != nil && runCtx.Err() == nil {
			s.log.Warn("session: runtime stream stopped: %v", err)
		}
	}()
	return nil
}

// StopRuntimeStream cancels the running stream task, if any.
func (s *Session) StopRuntimeStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamStop != nil {
		s.streamStop()
		s.streamStop = nil
		s.stream = nil
	}
}
