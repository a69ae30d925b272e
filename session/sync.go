package session

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/tunecraft/ecucore/tunefile"
)

// SyncReport summarizes one sync_pages call: which pages were read
// successfully and which failed, keyed by page number.
type SyncReport struct {
	Synced []int
	Failed map[int]error
}

// SyncPages reads every page the connected ECU exposes and loads the
// result into the tune cache, replacing whatever was there (spec §6.4
// sync_pages). Per-page failures are collected rather than aborting the
// whole sync, since one bad page shouldn't strand the rest.
func (s *Session) SyncPages(ctx context.Context) (SyncReport, error) {
	_, c, conn, err := s.requireReady()
	if err != nil {
		return SyncReport{}, err
	}
	if conn == nil {
		return SyncReport{}, fmt.Errorf("session: sync_pages: not connected")
	}

	pages, errs := conn.SyncAllPages(ctx)
	report := SyncReport{Failed: make(map[int]error)}
	for page, data := range pages {
		if err := c.LoadPage(page, data); err != nil {
			report.Failed[page] = err
			continue
		}
		report.Synced = append(report.Synced, page)
	}
	for page, err := range errs {
		report.Failed[page] = err
	}
	s.emit(Event{Kind: EventSyncProgress, Payload: report})
	return report, nil
}

// TuneInfo summarizes a loaded tune file for the host UI.
type TuneInfo struct {
	Path      string
	Migration *tunefile.MigrationReport
}

// LoadTune parses and applies a tune file's constants/PC-variables/raw page
// data onto the cache. A structural-hash or signature mismatch is reported
// via TuneInfo.Migration and the EventMigrationNeeded event rather than
// failing the load outright (spec §7's Migration class is non-fatal).
func (s *Session) LoadTune(path string) (TuneInfo, error) {
	def, c, _, err := s.requireReady()
	if err != nil {
		return TuneInfo{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return TuneInfo{}, fmt.Errorf("session: load tune: %w", err)
	}

	report, err := tunefile.Load(def, c, data)
	if err != nil {
		return TuneInfo{}, fmt.Errorf("session: load tune: %w", err)
	}

	s.mu.Lock()
	s.tunePath = path
	s.mu.Unlock()

	info := TuneInfo{Path: path, Migration: report}
	if report.StructuralHashChanged || report.Incompatible {
		s.emit(Event{Kind: EventMigrationNeeded, Payload: report})
	}
	return info, nil
}

// SaveTune renders the cache's current values into a tune file and writes
// it to path. An empty path reuses the path the current tune was loaded
// from (spec §6.4's optional save_tune(path?) argument).
func (s *Session) SaveTune(path, author, comment string) error {
	def, c, _, err := s.requireReady()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if path == "" {
		path = s.tunePath
	}
	s.mu.Unlock()
	if path == "" {
		return fmt.Errorf("session: save tune: no path given and no tune previously loaded")
	}

	doc, err := tunefile.Save(def, c, author, comment, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("session: save tune: %w", err)
	}
	data, err := tunefile.Marshal(doc)
	if err != nil {
		return fmt.Errorf("session: save tune: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("session: save tune: %w", err)
	}

	s.mu.Lock()
	s.tunePath = path
	s.mu.Unlock()
	return nil
}
