package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbupgrader/dbupgrader/internal/settings"
)

func baseMetadata() settings.ResumeMetadata {
	return settings.ResumeMetadata{SourceLocation: "./db.dump", TargetMajor: "16.0"}
}

func TestInitialize_CreatesFreshState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run-state.json")
	s := New(path)

	st, resumed, err := s.Initialize(baseMetadata(), map[string]interface{}{"run_id": "abc"}, false)
	require.NoError(t, err)
	require.False(t, resumed)
	require.Equal(t, StatusRunning, st.Status)
	require.Empty(t, st.CompletedSteps)
}

func TestInitialize_ResumesCompatibleRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run-state.json")
	s := New(path)

	first, _, err := s.Initialize(baseMetadata(), map[string]interface{}{}, false)
	require.NoError(t, err)
	require.NoError(t, s.MarkStepCompleted(first, "validate_docker_environment"))

	resumed, wasResumed, err := s.Initialize(baseMetadata(), map[string]interface{}{}, true)
	require.NoError(t, err)
	require.True(t, wasResumed)
	require.True(t, resumed.IsStepCompleted("validate_docker_environment"))
}

func TestInitialize_RejectsMismatchedResume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run-state.json")
	s := New(path)

	_, _, err := s.Initialize(baseMetadata(), map[string]interface{}{}, false)
	require.NoError(t, err)

	other := settings.ResumeMetadata{SourceLocation: "./other.dump", TargetMajor: "17.0"}
	_, _, err = s.Initialize(other, map[string]interface{}{}, true)
	require.Error(t, err)
}

func TestInitialize_RejectsResumingSuccessfulRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run-state.json")
	s := New(path)

	st, _, err := s.Initialize(baseMetadata(), map[string]interface{}{}, false)
	require.NoError(t, err)
	require.NoError(t, s.MarkStatus(st, StatusSuccess, ""))

	_, _, err = s.Initialize(baseMetadata(), map[string]interface{}{}, true)
	require.Error(t, err)
}

func TestMarkStepFailed_SetsRunStatusFailed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run-state.json")
	s := New(path)

	st, _, err := s.Initialize(baseMetadata(), map[string]interface{}{}, false)
	require.NoError(t, err)

	require.NoError(t, s.MarkStepStarted(st, "restore_database"))
	require.NoError(t, s.MarkStepFailed(st, "restore_database", "boom"))

	require.Equal(t, StatusFailed, st.Status)
	require.Equal(t, "boom", *st.LastError)
	require.Equal(t, StepFailed, st.Steps[len(st.Steps)-1].Status)
}

func TestSetAndGetValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run-state.json")
	s := New(path)

	st, _, err := s.Initialize(baseMetadata(), map[string]interface{}{}, false)
	require.NoError(t, err)

	require.NoError(t, s.SetValue(st, "source_file_type", "ARCHIVE"))
	require.Equal(t, "ARCHIVE", st.GetValue("source_file_type", nil))
	require.Equal(t, "fallback", st.GetValue("missing_key", "fallback"))
}

func TestSave_WritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "run-state.json")
	s := New(path)

	st, _, err := s.Initialize(baseMetadata(), map[string]interface{}{}, false)
	require.NoError(t, err)

	reloaded, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, st.Status, reloaded.Status)
}
