// Package download streams a source or addons package to disk, verifying a
// SHA-256 checksum when one was supplied. Progress is reported through an
// injected ProgressReporter; this package renders no UI itself.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dbupgrader/dbupgrader/internal/errtype"
)

const chunkSize = 8192

// ProgressReporter is notified as bytes arrive. total is 0 when the server
// did not send a Content-Length. Implementations must return quickly.
type ProgressReporter interface {
	OnProgress(description string, downloaded, total int64)
}

// Logger narrates download start/finish.
type Logger interface {
	Printf(format string, v ...interface{})
}

// HTTPSPolicy is the subset of validate.Service this package depends on, so
// downloads go through the same insecure-HTTP gate as validation.
type HTTPSPolicy interface {
	EnforceHTTPSPolicy(location, label string) error
}

// Service downloads files over HTTP(S) with retry, timeout and checksum
// verification.
type Service struct {
	Policy       HTTPSPolicy
	Logger       Logger
	Progress     ProgressReporter
	Client       *http.Client
	Timeout      time.Duration
	RetryCount   int
	RetryBackoff time.Duration
}

// New builds a Service with the given download timeout and transient-error
// retry policy.
func New(policy HTTPSPolicy, logger Logger, progress ProgressReporter, timeout time.Duration, retryCount int, retryBackoff time.Duration) *Service {
	return &Service{
		Policy:       policy,
		Logger:       logger,
		Progress:     progress,
		Client:       &http.Client{},
		Timeout:      timeout,
		RetryCount:   retryCount,
		RetryBackoff: retryBackoff,
	}
}

// DownloadFile streams sourceURL to destPath, verifying expectedSHA256 if
// non-empty. Transient transport errors (everything but a checksum mismatch)
// are retried up to RetryCount times, RetryBackoff apart. On checksum
// mismatch the partial file is removed and an error returned immediately,
// without retrying.
func (s *Service) DownloadFile(ctx context.Context, sourceURL, destPath, description, expectedSHA256 string) error {
	if s.Policy != nil {
		if err := s.Policy.EnforceHTTPSPolicy(sourceURL, description); err != nil {
			return err
		}
	}

	attempts := s.RetryCount + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := s.downloadOnce(ctx, sourceURL, destPath, description, expectedSHA256)
		if err == nil {
			return nil
		}
		lastErr = err

		var tagged *errtype.Error
		if errors.As(err, &tagged) && tagged.Kind == errtype.KindDataIntegrity {
			return err
		}
		if attempt < attempts {
			s.logf("download of %s failed (attempt %d/%d): %v, retrying in %s", description, attempt, attempts, err, s.RetryBackoff)
			select {
			case <-ctx.Done():
				return errtype.Wrap(errtype.KindNetwork, ctx.Err(), "download canceled for %s", description)
			case <-time.After(s.RetryBackoff):
			}
			continue
		}
	}

	return lastErr
}

func (s *Service) downloadOnce(ctx context.Context, sourceURL, destPath, description, expectedSHA256 string) error {
	s.logf("downloading %s to %s", sourceURL, destPath)

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return errtype.Wrap(errtype.KindNetwork, err, "failed to build request for %s", sourceURL)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return errtype.Wrap(errtype.KindNetwork, err, "download failed for %s", description)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errtype.New(errtype.KindNetwork, "download failed for %s: server returned status %d", description, resp.StatusCode)
	}

	var total int64
	if v := resp.Header.Get("Content-Length"); v != "" {
		if n, parseErr := strconv.ParseInt(v, 10, 64); parseErr == nil {
			total = n
		}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "failed to create directory for %s", destPath)
	}

	file, err := os.Create(destPath)
	if err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "failed to create %s", destPath)
	}

	hasher := sha256.New()
	var downloaded int64
	buf := make([]byte, chunkSize)

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := file.Write(buf[:n]); writeErr != nil {
				file.Close()
				return errtype.Wrap(errtype.KindRuntime, writeErr, "failed writing %s", destPath)
			}
			if expectedSHA256 != "" {
				hasher.Write(buf[:n])
			}
			downloaded += int64(n)
			if s.Progress != nil {
				s.Progress.OnProgress(description, downloaded, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			file.Close()
			return errtype.Wrap(errtype.KindNetwork, readErr, "download failed for %s", description)
		}
	}
	file.Close()

	if expectedSHA256 != "" {
		got := hex.EncodeToString(hasher.Sum(nil))
		if got != expectedSHA256 {
			os.Remove(destPath)
			return errtype.New(errtype.KindDataIntegrity,
				"checksum mismatch for %s: expected %s, got %s", description, expectedSHA256, got)
		}
	}

	return nil
}

// DownloadOrCopySource resolves a source location into a local file path:
// URLs are downloaded into sourceDir, local paths are returned unchanged.
func (s *Service) DownloadOrCopySource(ctx context.Context, source, sourceDir, sourceSHA256 string, isURL bool) (string, error) {
	if !isURL {
		return source, nil
	}

	parsed, err := url.Parse(source)
	if err != nil {
		return "", errtype.Wrap(errtype.KindInputFormat, err, "invalid source URL %s", source)
	}
	ext := path.Ext(parsed.Path)
	filename := path.Base(parsed.Path)
	if filename == "" || filename == "." || filename == "/" {
		if ext == "" {
			ext = ".dump"
		}
		filename = "downloaded_db" + ext
	}

	targetPath := filepath.Join(sourceDir, filename)
	if err := s.DownloadFile(ctx, source, targetPath, "downloading source DB...", sourceSHA256); err != nil {
		return "", err
	}
	return targetPath, nil
}

func (s *Service) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}
