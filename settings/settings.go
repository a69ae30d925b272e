// Package settings manages the persistent state layout spec §6.5 describes:
// a definitions directory, one subdirectory per project holding its tune
// and restore points, and a single app-wide settings.json. Nothing here
// touches the session's live state (that's package session); this is pure
// path/file bookkeeping, loaded once at startup and saved on demand.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// RuntimePacketMode is the persisted form of a runtime-packet preference:
// one string for each mode of protocol.RuntimePacketMode (an int there), so
// this package doesn't need to import protocol. Nothing in this module
// converts between the two.
type RuntimePacketMode string

const (
	ModeAuto       RuntimePacketMode = "auto"
	ModeForceBurst RuntimePacketMode = "forceBurst"
	ModeForceOCH   RuntimePacketMode = "forceOCH"
	ModeDisabled   RuntimePacketMode = "disabled"
)

// Settings is the app-wide settings.json document (spec §6.5).
type Settings struct {
	RuntimePacketMode                  RuntimePacketMode `json:"runtime_packet_mode"`
	AutoReconnectAfterControllerCommand bool              `json:"auto_reconnect_after_controller_command"`
	// FastPathEnabled is keyed by ECUFamily.String() ("A", "B", "C", ...)
	// rather than definition.ECUFamily directly, so this package stays free
	// of a definition import and settings.json stays human-editable.
	FastPathEnabled map[string]bool `json:"fast_path_enabled"`
}

// DefaultSettings matches the defaults protocol.RuntimeAuto and an
// empty per-family fast-path map would otherwise silently apply.
func DefaultSettings() Settings {
	return Settings{
		RuntimePacketMode:                    ModeAuto,
		AutoReconnectAfterControllerCommand: true,
		FastPathEnabled:                      map[string]bool{},
	}
}

// AppData is the root of the persistent state layout spec §6.5 lays out:
//
//	<root>/definitions/*.ini
//	<root>/projects/<name>/{project.json, tune.msq, restore-points/*.msq}
//	<root>/settings.json
type AppData struct {
	Root string
}

func New(root string) AppData { return AppData{Root: root} }

func (a AppData) DefinitionsDir() string { return filepath.Join(a.Root, "definitions") }
func (a AppData) ProjectsDir() string    { return filepath.Join(a.Root, "projects") }
func (a AppData) ProjectDir(name string) string {
	return filepath.Join(a.ProjectsDir(), name)
}
func (a AppData) RestorePointsDir(name string) string {
	return filepath.Join(a.ProjectDir(name), "restore-points")
}
func (a AppData) SettingsPath() string { return filepath.Join(a.Root, "settings.json") }

// ListDefinitions returns the base names of every *.ini file under
// DefinitionsDir, sorted for a stable UI listing.
func (a AppData) ListDefinitions() ([]string, error) {
	entries, err := os.ReadDir(a.DefinitionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("settings: list definitions: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".ini" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// LoadSettings reads settings.json, returning DefaultSettings() if the file
// does not exist yet (a fresh install has no opinions to load).
func (a AppData) LoadSettings() (Settings, error) {
	data, err := os.ReadFile(a.SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return Settings{}, fmt.Errorf("settings: load: %w", err)
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("settings: load: %w", err)
	}
	if s.FastPathEnabled == nil {
		s.FastPathEnabled = map[string]bool{}
	}
	return s, nil
}

// SaveSettings writes s to settings.json, creating the app-data root if
// needed.
func (a AppData) SaveSettings(s Settings) error {
	if err := os.MkdirAll(a.Root, 0o755); err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	if err := os.WriteFile(a.SettingsPath(), data, 0o644); err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	return nil
}

// ProjectManifest is one project's project.json: which definition and tune
// it pairs, plus bookkeeping for the restore-point rotation.
type ProjectManifest struct {
	Name           string    `json:"name"`
	DefinitionFile string    `json:"definition_file"`
	TuneFile       string    `json:"tune_file"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (a AppData) projectManifestPath(name string) string {
	return filepath.Join(a.ProjectDir(name), "project.json")
}

// LoadProject reads a project's manifest.
func (a AppData) LoadProject(name string) (ProjectManifest, error) {
	var m ProjectManifest
	data, err := os.ReadFile(a.projectManifestPath(name))
	if err != nil {
		return m, fmt.Errorf("settings: load project %q: %w", name, err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("settings: load project %q: %w", name, err)
	}
	return m, nil
}

// SaveProject writes a project's manifest, creating the project and
// restore-points directories if this is the first save.
func (a AppData) SaveProject(m ProjectManifest) error {
	if m.Name == "" {
		return fmt.Errorf("settings: save project: name required")
	}
	if err := os.MkdirAll(a.RestorePointsDir(m.Name), 0o755); err != nil {
		return fmt.Errorf("settings: save project %q: %w", m.Name, err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: save project %q: %w", m.Name, err)
	}
	if err := os.WriteFile(a.projectManifestPath(m.Name), data, 0o644); err != nil {
		return fmt.Errorf("settings: save project %q: %w", m.Name, err)
	}
	return nil
}

// ListRestorePoints returns the base names of a project's saved *.msq
// restore points, most recent first (lexicographic on name, which the
// caller is expected to timestamp-prefix).
func (a AppData) ListRestorePoints(name string) ([]string, error) {
	entries, err := os.ReadDir(a.RestorePointsDir(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("settings: list restore points for %q: %w", name, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".msq" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// RestorePointPath returns where a new restore point named with ts (a UTC
// timestamp in compact ISO-8601 form, 20060102T150405Z, collision-free to
// second granularity) should be written.
func (a AppData) RestorePointPath(project string, ts time.Time) string {
	return filepath.Join(a.RestorePointsDir(project), ts.UTC().Format("20060102T150405Z")+".msq")
}
