package state

import (
	"fmt"
	"os"
	"time"

	"github.com/moldock/moldock/internal/project"
)

// SchemaVersion is stamped into every run_status.json this engine writes.
const SchemaVersion = "2.0"

// Run phases. A run reaches exactly one terminal phase and is never reopened
// except by an explicit resume, which moves it back to PhaseRunning.
const (
	PhaseNotStarted       = "not_started"
	PhaseStarting         = "starting"
	PhaseRunning          = "running"
	PhaseCompleted        = "completed"
	PhaseFailed           = "failed"
	PhaseValidationFailed = "validation_failed"
)

// Per-module statuses inside RunState.
const (
	ModulePending   = "pending"
	ModuleRunning   = "running"
	ModuleSucceeded = "succeeded"
	ModuleFailed    = "failed"
	ModuleSkipped   = "skipped"
)

// TerminalPhase reports whether phase is one of the three terminal phases.
func TerminalPhase(phase string) bool {
	switch phase {
	case PhaseCompleted, PhaseFailed, PhaseValidationFailed:
		return true
	}
	return false
}

// ModuleRecord is the per-module sub-status inside RunState.
type ModuleRecord struct {
	Status          string  `json:"status"`
	DurationSeconds float64 `json:"duration_seconds"`
	ExitCode        *int    `json:"exit_code,omitempty"`
	StdoutLog       string  `json:"stdout_log,omitempty"`
	StderrLog       string  `json:"stderr_log,omitempty"`
	Detail          string  `json:"detail,omitempty"`
}

// HistoryEntry records one module invocation, in order.
type HistoryEntry struct {
	Module     string  `json:"module"`
	ReturnCode int     `json:"returncode"`
	StdoutLog  string  `json:"stdout_log"`
	StderrLog  string  `json:"stderr_log"`
	OK         bool    `json:"ok"`
	DurationS  float64 `json:"duration_seconds"`
	FinishedAt string  `json:"finished_at"`
}

// RuntimeInfo captures the environment the run executed under.
type RuntimeInfo struct {
	Executable  string            `json:"executable"`
	Interpreter string            `json:"interpreter,omitempty"`
	VinaPath    string            `json:"vina_path,omitempty"`
	Versions    map[string]string `json:"versions,omitempty"`
}

// ErrorInfo is the structured error surfaced to callers instead of a stack trace.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// RunState is the authoritative run record. It is exclusively owned and
// mutated by the engine; everyone else reads it.
type RunState struct {
	SchemaVersion       string                   `json:"schema_version"`
	RunID               string                   `json:"run_id,omitempty"`
	Phase               string                   `json:"phase"`
	PhaseDetail         string                   `json:"phase_detail,omitempty"`
	CurrentModule       string                   `json:"current_module,omitempty"`
	CompletedModules    []string                 `json:"completed_modules"`
	FailedModule        string                   `json:"failed_module,omitempty"`
	ConfigFingerprint   string                   `json:"config_fingerprint,omitempty"`
	ResumedFingerprint  string                   `json:"resumed_fingerprint,omitempty"`
	FingerprintMismatch bool                     `json:"fingerprint_mismatch,omitempty"`
	Config              map[string]interface{}   `json:"config,omitempty"`
	Modules             map[string]*ModuleRecord `json:"modules,omitempty"`
	History             []HistoryEntry           `json:"history"`
	Runtime             RuntimeInfo              `json:"runtime"`
	Error               *ErrorInfo               `json:"error,omitempty"`
	StartedAt           string                   `json:"started_at,omitempty"`
	UpdatedAt           string                   `json:"updated_at,omitempty"`
	FinishedAt          string                   `json:"finished_at,omitempty"`
}

// NewRunState returns an empty not_started state.
func NewRunState() *RunState {
	return &RunState{
		SchemaVersion:    SchemaVersion,
		Phase:            PhaseNotStarted,
		CompletedModules: []string{},
		Modules:          map[string]*ModuleRecord{},
		History:          []HistoryEntry{},
	}
}

// Store persists RunState at the project's canonical location.
type Store struct {
	layout project.Layout
}

// NewStore creates a Store for the given project layout.
func NewStore(layout project.Layout) *Store {
	return &Store{layout: layout}
}

// Read returns the persisted RunState, or a fresh not_started state when no
// status file exists yet.
func (s *Store) Read() (*RunState, error) {
	var rs RunState
	if err := ReadJSON(s.layout.StatusJSON(), &rs); err != nil {
		if os.IsNotExist(err) {
			return NewRunState(), nil
		}
		return nil, fmt.Errorf("read run status: %w", err)
	}
	if rs.Modules == nil {
		rs.Modules = map[string]*ModuleRecord{}
	}
	if rs.CompletedModules == nil {
		rs.CompletedModules = []string{}
	}
	if rs.History == nil {
		rs.History = []HistoryEntry{}
	}
	return &rs, nil
}

// Write persists rs atomically, stamping timestamps.
func (s *Store) Write(rs *RunState) error {
	now := UTCNow()
	if rs.StartedAt == "" {
		rs.StartedAt = now
	}
	rs.UpdatedAt = now
	if TerminalPhase(rs.Phase) && rs.FinishedAt == "" {
		rs.FinishedAt = now
	}
	if err := WriteJSON(s.layout.StatusJSON(), rs); err != nil {
		return fmt.Errorf("write run status: %w", err)
	}
	return nil
}

// Update performs a read-modify-write of the persisted state.
func (s *Store) Update(fn func(*RunState)) (*RunState, error) {
	rs, err := s.Read()
	if err != nil {
		return nil, err
	}
	fn(rs)
	if err := s.Write(rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// UTCNow formats the current time the way every state file records it:
// RFC3339, UTC, second precision, Z suffix.
func UTCNow() string {
	return time.Now().UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}
