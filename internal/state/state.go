// Package state persists the checkpointed run state that makes a killed
// run resumable: which steps completed, the current version reached, and
// whatever free-form data each step wants to remember.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/dbupgrader/dbupgrader/internal/errtype"
	"github.com/dbupgrader/dbupgrader/internal/settings"
)

// SchemaVersion is stamped onto every write.
const SchemaVersion = 1

// Status values for PersistentState.Status.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusAborted = "aborted"
)

// Step status values.
const (
	StepRunning = "running"
	StepSuccess = "success"
	StepFailed  = "failed"
	StepSkipped = "skipped"
)

// StepRecord is one entry in PersistentState.Steps.
type StepRecord struct {
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	StartedAt  string  `json:"started_at"`
	FinishedAt *string `json:"finished_at"`
	Error      *string `json:"error"`
}

// PersistentState is the full on-disk checkpoint record.
type PersistentState struct {
	SchemaVersion   int                        `json:"schema_version"`
	CreatedAt       string                     `json:"created_at"`
	UpdatedAt       string                     `json:"updated_at"`
	Status          string                     `json:"status"`
	Metadata        settings.ResumeMetadata    `json:"metadata"`
	RunContext      map[string]interface{}     `json:"run_context"`
	CompletedSteps  []string                   `json:"completed_steps"`
	CurrentStep     *string                    `json:"current_step"`
	CurrentVersion  *string                    `json:"current_version"`
	Data            map[string]interface{}     `json:"data"`
	Steps           []StepRecord               `json:"steps"`
	LastError       *string                    `json:"last_error"`
}

// nowFunc is overridable in tests.
var nowFunc = func() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// Store loads, validates and atomically persists a run's PersistentState.
type Store struct {
	path string
}

// New builds a Store writing to stateFilePath.
func New(stateFilePath string) *Store {
	return &Store{path: stateFilePath}
}

// Load returns nil, nil if no state file exists yet.
func (s *Store) Load() (*PersistentState, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errtype.Wrap(errtype.KindRuntime, err, "could not read state file %s", s.path)
	}

	var st PersistentState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, errtype.Wrap(errtype.KindDataIntegrity, err, "state file %s has invalid format", s.path)
	}
	return &st, nil
}

// Save stamps schema_version/updated_at and writes the state atomically
// (temp file in the same directory, then rename).
func (s *Store) Save(st *PersistentState) error {
	st.SchemaVersion = SchemaVersion
	st.UpdatedAt = nowFunc()

	dir := filepath.Dir(s.path)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "could not create directory for state file %s", s.path)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errtype.Wrap(errtype.KindInternal, err, "could not marshal state")
	}
	data = append(data, '\n')

	return atomicWrite(dir, s.path, data)
}

func atomicWrite(dir, target string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".run-state-*.tmp")
	if err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "could not create temp file for %s", target)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "could not write temp file for %s", target)
	}
	if err := tmp.Sync(); err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "could not sync temp file for %s", target)
	}
	if err := tmp.Close(); err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "could not close temp file for %s", target)
	}
	tmp = nil

	if err := os.Rename(tmpPath, target); err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "could not rename temp file into %s", target)
	}
	return nil
}

// Initialize loads an existing state when resume is true and a file exists
// (validating resume compatibility), otherwise starts a fresh state.
func (s *Store) Initialize(metadata settings.ResumeMetadata, runContext map[string]interface{}, resume bool) (*PersistentState, bool, error) {
	existing, err := s.Load()
	if err != nil {
		return nil, false, err
	}

	if resume && existing != nil {
		if err := validateResumeCompatibility(existing.Metadata, metadata); err != nil {
			return nil, false, err
		}
		if existing.Status == StatusSuccess {
			return nil, false, errtype.New(errtype.KindResumeConflict, "cannot resume a run that already completed successfully")
		}
		return existing, true, nil
	}

	now := nowFunc()
	fresh := &PersistentState{
		SchemaVersion:  SchemaVersion,
		CreatedAt:      now,
		UpdatedAt:      now,
		Status:         StatusRunning,
		Metadata:       metadata,
		RunContext:     runContext,
		CompletedSteps: []string{},
		Data:           map[string]interface{}{},
		Steps:          []StepRecord{},
	}
	if err := s.Save(fresh); err != nil {
		return nil, false, err
	}
	return fresh, false, nil
}

func validateResumeCompatibility(existing, wanted settings.ResumeMetadata) error {
	var mismatches []string
	if existing.SourceLocation != wanted.SourceLocation {
		mismatches = append(mismatches, "source")
	}
	if existing.TargetMajor != wanted.TargetMajor {
		mismatches = append(mismatches, "target_major")
	}
	if existing.ExtraAddonsLocation != wanted.ExtraAddonsLocation {
		mismatches = append(mismatches, "extra_addons")
	}
	if existing.SourceChecksum != wanted.SourceChecksum {
		mismatches = append(mismatches, "source_checksum")
	}
	if existing.AddonsChecksum != wanted.AddonsChecksum {
		mismatches = append(mismatches, "addons_checksum")
	}
	if len(mismatches) == 0 {
		return nil
	}
	return errtype.New(errtype.KindResumeConflict, "cannot resume with different inputs; mismatched fields: %v", mismatches)
}

// IsStepCompleted reports whether stepName is in CompletedSteps.
func (st *PersistentState) IsStepCompleted(stepName string) bool {
	for _, s := range st.CompletedSteps {
		if s == stepName {
			return true
		}
	}
	return false
}

// MarkStepStarted appends a running StepRecord and persists.
func (s *Store) MarkStepStarted(st *PersistentState, stepName string) error {
	name := stepName
	st.CurrentStep = &name
	st.Steps = append(st.Steps, StepRecord{Name: stepName, Status: StepRunning, StartedAt: nowFunc()})
	return s.Save(st)
}

// MarkStepCompleted transitions the most recent running record for
// stepName to success and appends it to CompletedSteps.
func (s *Store) MarkStepCompleted(st *PersistentState, stepName string) error {
	updateStepStatus(st, stepName, StepSuccess, nil)
	if !st.IsStepCompleted(stepName) {
		st.CompletedSteps = append(st.CompletedSteps, stepName)
	}
	st.CurrentStep = nil
	return s.Save(st)
}

// MarkStepFailed transitions the most recent running record for stepName
// to failed, records the error, and marks the overall run failed.
func (s *Store) MarkStepFailed(st *PersistentState, stepName, errMsg string) error {
	updateStepStatus(st, stepName, StepFailed, &errMsg)
	st.Status = StatusFailed
	st.LastError = &errMsg
	return s.Save(st)
}

// MarkStatus sets the overall run status, optionally recording an error.
func (s *Store) MarkStatus(st *PersistentState, status string, errMsg string) error {
	st.Status = status
	if errMsg != "" {
		st.LastError = &errMsg
	}
	return s.Save(st)
}

func updateStepStatus(st *PersistentState, stepName, status string, errMsg *string) {
	for i := len(st.Steps) - 1; i >= 0; i-- {
		step := &st.Steps[i]
		if step.Name == stepName && step.Status == StepRunning {
			step.Status = status
			finished := nowFunc()
			step.FinishedAt = &finished
			step.Error = errMsg
			return
		}
	}
}

// SetCurrentVersion persists the detected database version.
func (s *Store) SetCurrentVersion(st *PersistentState, version string) error {
	st.CurrentVersion = &version
	return s.Save(st)
}

// GetCurrentVersion returns the empty string if no version was recorded.
func (st *PersistentState) GetCurrentVersion() string {
	if st.CurrentVersion == nil {
		return ""
	}
	return *st.CurrentVersion
}

// SetValue stores an arbitrary key in Data and persists.
func (s *Store) SetValue(st *PersistentState, key string, value interface{}) error {
	if st.Data == nil {
		st.Data = map[string]interface{}{}
	}
	st.Data[key] = value
	return s.Save(st)
}

// GetValue returns the stored value for key, or defaultValue if absent.
func (st *PersistentState) GetValue(key string, defaultValue interface{}) interface{} {
	if st.Data == nil {
		return defaultValue
	}
	if v, ok := st.Data[key]; ok {
		return v
	}
	return defaultValue
}
