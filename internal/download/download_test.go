package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeProgress struct {
	calls []int64
}

func (f *fakeProgress) OnProgress(description string, downloaded, total int64) {
	f.calls = append(f.calls, downloaded)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestDownloadFile_VerifiesChecksum(t *testing.T) {
	payload := []byte("dump contents here")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	progress := &fakeProgress{}
	svc := New(nil, nil, progress, 5*time.Second, 0, 0)

	dest := filepath.Join(t.TempDir(), "out.dump")
	err := svc.DownloadFile(context.Background(), srv.URL, dest, "test download", sha256Hex(payload))
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.NotEmpty(t, progress.calls)
}

func TestDownloadFile_RemovesPartialFileOnChecksumMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("some bytes"))
	}))
	defer srv.Close()

	svc := New(nil, nil, nil, 5*time.Second, 0, 0)
	dest := filepath.Join(t.TempDir(), "out.dump")

	err := svc.DownloadFile(context.Background(), srv.URL, dest, "test download", "0000000000000000000000000000000000000000000000000000000000000000"[:64])
	require.Error(t, err)

	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr))
}

func TestDownloadFile_RetriesTransientServerError(t *testing.T) {
	payload := []byte("dump contents here")
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	svc := New(nil, nil, nil, 5*time.Second, 2, time.Millisecond)
	dest := filepath.Join(t.TempDir(), "out.dump")
	err := svc.DownloadFile(context.Background(), srv.URL, dest, "test download", "")
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDownloadFile_ChecksumMismatchDoesNotRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("some bytes"))
	}))
	defer srv.Close()

	svc := New(nil, nil, nil, 5*time.Second, 2, time.Millisecond)
	dest := filepath.Join(t.TempDir(), "out.dump")

	err := svc.DownloadFile(context.Background(), srv.URL, dest, "test download", "0000000000000000000000000000000000000000000000000000000000000000"[:64])
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestDownloadFile_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	svc := New(nil, nil, nil, 5*time.Second, 0, 0)
	err := svc.DownloadFile(context.Background(), srv.URL, filepath.Join(t.TempDir(), "x"), "test", "")
	require.Error(t, err)
}

func TestDownloadOrCopySource_LocalPathPassesThrough(t *testing.T) {
	svc := New(nil, nil, nil, 0, 0, 0)
	got, err := svc.DownloadOrCopySource(context.Background(), "/local/db.dump", t.TempDir(), "", false)
	require.NoError(t, err)
	require.Equal(t, "/local/db.dump", got)
}

func TestDownloadOrCopySource_DerivesFilenameFromURL(t *testing.T) {
	payload := []byte("x")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	svc := New(nil, nil, nil, 5*time.Second, 0, 0)
	dir := t.TempDir()
	got, err := svc.DownloadOrCopySource(context.Background(), srv.URL+"/path/db.dump", dir, "", true)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "db.dump"), got)
}
