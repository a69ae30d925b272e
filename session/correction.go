package session

import (
	"context"
	"fmt"

	"github.com/tunecraft/ecucore/correction"
)

// StartCorrection creates and starts a new correction engine against the
// currently connected session (spec §6.4 start_correction). If a runtime
// stream is already running, the engine is wired in as its sample sink
// immediately; otherwise it begins receiving samples as soon as
// StartRuntimeStream is next called.
func (s *Session) StartCorrection(cfg correction.Config) error {
	def, c, conn, err := s.requireReady()
	if err != nil {
		return err
	}
	if conn == nil {
		return fmt.Errorf("session: start_correction: not connected")
	}

	engine, err := correction.New(def, c, conn, cfg)
	if err != nil {
		return fmt.Errorf("session: start_correction: %w", err)
	}
	engine.Start()

	s.mu.Lock()
	s.engine = engine
	if s.stream != nil {
		s.stream.SetSink(engine)
	}
	s.mu.Unlock()
	return nil
}

// StopCorrection stops and discards the current correction session's
// state (spec §6.4 stop_correction / §4.6.8).
func (s *Session) StopCorrection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine != nil {
		s.engine.Stop()
		s.engine = nil
	}
	if s.stream != nil {
		s.stream.SetSink(nil)
	}
}

// PauseCorrection pauses sample accumulation without discarding state
// (spec §6.4 pause_correction).
func (s *Session) PauseCorrection() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return fmt.Errorf("session: pause_correction: no correction session active")
	}
	s.engine.Pause()
	return nil
}

// ResumeCorrection resumes a paused correction session.
func (s *Session) ResumeCorrection() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return fmt.Errorf("session: resume_correction: no correction session active")
	}
	s.engine.Resume()
	return nil
}

// GetCorrectionHeatmap returns the current per-cell recommendations (spec
// §6.4 get_correction_heatmap) and emits EventHeatmapUpdated alongside.
func (s *Session) GetCorrectionHeatmap() ([]correction.HeatmapEntry, error) {
	s.mu.Lock()
	engine := s.engine
	s.mu.Unlock()
	if engine == nil {
		return nil, fmt.Errorf("session: get_correction_heatmap: no correction session active")
	}
	heat := engine.Heatmap()
	s.emit(Event{Kind: EventHeatmapUpdated, Payload: heat})
	return heat, nil
}

// SendCorrectionToECU writes the current heatmap's recommendations into
// the tune cache and ships the resulting dirty ranges to the ECU (spec
// §6.4 send_correction_to_ecu).
func (s *Session) SendCorrectionToECU(ctx context.Context) error {
	s.mu.Lock()
	engine := s.engine
	s.mu.Unlock()
	if engine == nil {
		return fmt.Errorf("session: send_correction_to_ecu: no correction session active")
	}
	return engine.Send(ctx)
}

// BurnCorrection persists the table's dirty ranges to the ECU's
// non-volatile storage (spec §6.4 burn_correction).
func (s *Session) BurnCorrection(ctx context.Context) error {
	s.mu.Lock()
	engine := s.engine
	s.mu.Unlock()
	if engine == nil {
		return fmt.Errorf("session: burn_correction: no correction session active")
	}
	return engine.Burn(ctx)
}
