package cmdrunner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type mockLogger struct {
	lines []string
}

func (m *mockLogger) Printf(format string, v ...interface{}) {
	m.lines = append(m.lines, format)
}

var _ func(context.Context, []string, Options) (Result, error) = (&Runner{}).Run

func TestRun_MissingExecutable(t *testing.T) {
	r := New(&mockLogger{})
	_, err := r.Run(context.Background(), []string{"this-binary-does-not-exist-anywhere"}, Options{})
	require.Error(t, err)
}

func TestRun_EmptyArgv(t *testing.T) {
	r := New(&mockLogger{})
	_, err := r.Run(context.Background(), nil, Options{})
	require.Error(t, err)
}

func TestRun_SucceedsAndCapturesOutput(t *testing.T) {
	r := New(&mockLogger{})
	result, err := r.Run(context.Background(), []string{"echo", "hello"}, Options{Check: true})
	require.NoError(t, err)
	require.Equal(t, 0, result.ExitCode)
	require.Contains(t, result.Stdout, "hello")
}

func TestRun_NonZeroExitWithCheckFails(t *testing.T) {
	r := New(&mockLogger{})
	_, err := r.Run(context.Background(), []string{"false"}, Options{Check: true})
	require.Error(t, err)
}

func TestRun_NonZeroExitWithoutCheckSucceeds(t *testing.T) {
	r := New(&mockLogger{})
	result, err := r.Run(context.Background(), []string{"false"}, Options{Check: false})
	require.NoError(t, err)
	require.Equal(t, 1, result.ExitCode)
}

func TestRun_TimeoutIsReported(t *testing.T) {
	r := New(&mockLogger{})
	_, err := r.Run(context.Background(), []string{"sleep", "5"}, Options{Timeout: 50 * time.Millisecond})
	require.Error(t, err)
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name       string
		code       int
		retryCodes []int
		want       bool
	}{
		{"empty retry codes retries anything", 7, nil, true},
		{"matches code", 7, []int{1, 7}, true},
		{"does not match code", 7, []int{1, 2}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, retryable(tc.code, tc.retryCodes))
		})
	}
}

func TestRun_RetriesOnRetryableExit(t *testing.T) {
	logger := &mockLogger{}
	r := New(logger)
	start := time.Now()
	result, err := r.Run(context.Background(), []string{"false"}, Options{
		Check:      true,
		RetryCount: 2,
		Backoff:    10 * time.Millisecond,
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	require.Equal(t, 1, result.ExitCode)
	require.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
}

func TestTruncate(t *testing.T) {
	short := "short output"
	require.Equal(t, short, truncate(short))

	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	got := truncate(string(long))
	require.Contains(t, got, "truncated")
	require.Less(t, len(got), 1000)
}
