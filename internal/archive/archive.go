// Package archive safely extracts the ZIP archives a migration step hands
// the orchestrator (a downloaded source package, or the final redumped
// output). Extraction is a two-pass audit-then-extract: every entry is
// checked for path traversal and symlinks before anything touches disk.
package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dbupgrader/dbupgrader/internal/errtype"
)

const copyChunkSize = 8 * 1024

// ExtractZip extracts zipPath into destinationDir. destinationDir is created
// if it does not exist. Every entry is validated before any file is written:
// an entry that would resolve outside destinationDir, or that is a symlink,
// aborts the whole extraction without partial writes beyond whatever prior
// calls already ran.
func ExtractZip(zipPath, destinationDir string) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return errtype.Wrap(errtype.KindInputFormat, err, "invalid ZIP archive: %s", zipPath)
	}
	defer reader.Close()

	base, err := filepath.Abs(destinationDir)
	if err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "failed to resolve destination %s", destinationDir)
	}

	targets := make([]string, len(reader.File))
	for i, member := range reader.File {
		normalized := strings.ReplaceAll(member.Name, "\\", "/")
		target := filepath.Join(base, normalized)

		if !isWithinDir(base, target) {
			return errtype.New(errtype.KindInputFormat,
				"unsafe ZIP entry detected: %q, archive extraction aborted to prevent path traversal", member.Name)
		}
		if member.Mode()&os.ModeSymlink != 0 {
			return errtype.New(errtype.KindInputFormat,
				"unsafe ZIP entry detected: %q is a symbolic link", member.Name)
		}
		targets[i] = target
	}

	if err := os.MkdirAll(base, 0755); err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "failed to create destination %s", base)
	}

	for i, member := range reader.File {
		target := targets[i]
		normalized := strings.ReplaceAll(member.Name, "\\", "/")

		if member.FileInfo().IsDir() || strings.HasSuffix(normalized, "/") {
			if err := os.MkdirAll(target, 0755); err != nil {
				return errtype.Wrap(errtype.KindRuntime, err, "failed to create directory %s", target)
			}
			continue
		}

		if err := extractFile(reader, member, target); err != nil {
			return err
		}
	}

	return nil
}

func extractFile(reader *zip.ReadCloser, member *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "failed to create directory for %s", target)
	}

	src, err := member.Open()
	if err != nil {
		return errtype.Wrap(errtype.KindInputFormat, err, "failed to open archive entry %s", member.Name)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "failed to create %s", target)
	}
	defer dst.Close()

	buf := make([]byte, copyChunkSize)
	if _, err := io.CopyBuffer(dst, src, buf); err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "failed to extract %s", member.Name)
	}

	return nil
}

func isWithinDir(base, candidate string) bool {
	rel, err := filepath.Rel(base, candidate)
	if err != nil {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return true
}
