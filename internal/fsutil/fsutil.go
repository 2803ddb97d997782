// Package fsutil wraps the filesystem side effects the orchestrator needs:
// tolerant recursive cleanup and POSIX permission normalization for rendered
// scripts and downloaded trees.
package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Logger narrates warnings for failures this package tolerates rather than
// propagates (cleanup and chmod are best-effort).
type Logger interface {
	Printf(format string, v ...interface{})
}

// Service performs filesystem side effects, warning rather than failing on
// non-fatal errors, matching the original tool's cleanup_dir behavior.
type Service struct {
	Logger Logger
}

// New builds a Service bound to logger.
func New(logger Logger) *Service {
	return &Service{Logger: logger}
}

// SetPermissions chmods path, warning (not failing) on error. It is a no-op
// on Windows, where POSIX permission bits don't apply.
func (s *Service) SetPermissions(path string, mode os.FileMode) {
	if runtime.GOOS == "windows" {
		return
	}
	if err := os.Chmod(path, mode); err != nil {
		s.logf("could not set permissions on %s: %v", path, err)
	}
}

// SetTreePermissions walks root, applying dirMode to directories, scriptMode
// to *.sh files and fileMode to everything else.
func (s *Service) SetTreePermissions(root string, dirMode, fileMode, scriptMode os.FileMode) {
	if runtime.GOOS == "windows" {
		return
	}
	if _, err := os.Stat(root); err != nil {
		return
	}

	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			s.logf("could not walk %s: %v", path, err)
			return nil
		}
		if path == root {
			return nil
		}
		if info.IsDir() {
			s.SetPermissions(path, dirMode)
			return nil
		}
		mode := fileMode
		if strings.HasSuffix(info.Name(), ".sh") {
			mode = scriptMode
		}
		s.SetPermissions(path, mode)
		return nil
	})
}

// CleanupDir removes path recursively. Failure is logged as a warning, not
// returned, mirroring the original tool's tolerant teardown behavior: a
// stuck bind mount must never abort the orchestrator's own cleanup pass.
func (s *Service) CleanupDir(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := os.RemoveAll(path); err != nil {
		s.logf("warning: could not remove %s: %v", path, err)
		return
	}
	s.logf("removed directory: %s", path)
}

func (s *Service) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}
