// Package database drives PostgreSQL restore, compatibility rewriting,
// version probing and final repackaging, all through docker exec rather
// than a native driver, since the engine runs inside the run's own
// container, reached the same way every other step reaches it.
package database

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dbupgrader/dbupgrader/internal/cmdrunner"
	"github.com/dbupgrader/dbupgrader/internal/errtype"
	"github.com/dbupgrader/dbupgrader/internal/fsutil"
	"github.com/dbupgrader/dbupgrader/internal/runcontext"
)

// Logger narrates restore/repackage progress.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Service performs restore, version-probe and repackage operations against
// the run's database container.
type Service struct {
	Runner *cmdrunner.Runner
	FS     *fsutil.Service
	Logger Logger
}

// New builds a Service.
func New(runner *cmdrunner.Runner, fs *fsutil.Service, logger Logger) *Service {
	return &Service{Runner: runner, FS: fs, Logger: logger}
}

func (s *Service) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

const containerTmpDir = "/tmp"

// FileType distinguishes a SQL-archive source from a binary pg_dump.
type FileType string

const (
	FileTypeArchive FileType = "ARCHIVE"
	FileTypeDump    FileType = "DUMP"
)

const maxCompatibilityPasses = 5

var unrecognizedParamPattern = regexp.MustCompile(`unrecognized configuration parameter "([^"]+)"`)
var unsupportedVersionPattern = regexp.MustCompile(`(?i)unsupported version`)

// RestoreDatabase drops and recreates the target DB, then restores from
// either the extracted archive's SQL file or a binary dump, depending on
// fileType.
func (s *Service) RestoreDatabase(ctx context.Context, fileType FileType, sourceDir, filestoreDir string, rc *runcontext.Context) error {
	s.logf("restoring database...")

	if _, err := s.Runner.Run(ctx, []string{"docker", "exec", rc.DBContainerName, "dropdb", "-U", rc.DBUser, "--if-exists", rc.TargetDBName}, cmdrunner.Options{Check: true}); err != nil {
		return err
	}
	if _, err := s.Runner.Run(ctx, []string{"docker", "exec", rc.DBContainerName, "createdb", "-U", rc.DBUser, rc.TargetDBName}, cmdrunner.Options{Check: true}); err != nil {
		return err
	}

	if fileType == FileTypeArchive {
		return s.restoreFromArchive(ctx, sourceDir, filestoreDir, rc)
	}
	return s.restoreFromBinaryDump(ctx, sourceDir, rc)
}

func (s *Service) restoreFromArchive(ctx context.Context, sourceDir, filestoreDir string, rc *runcontext.Context) error {
	dumpPath, err := findSQLDump(sourceDir)
	if err != nil {
		return err
	}

	sourceFilestore := filepath.Join(sourceDir, "filestore")
	if info, statErr := os.Stat(sourceFilestore); statErr == nil && info.IsDir() {
		s.copyFilestore(sourceFilestore, filestoreDir)
	}

	stripped := map[string]bool{}
	for pass := 0; pass < maxCompatibilityPasses; pass++ {
		containerDumpPath := containerTmpDir + "/dump.sql"
		if _, err := s.Runner.Run(ctx, []string{"docker", "cp", dumpPath, rc.DBContainerName + ":" + containerDumpPath}, cmdrunner.Options{Check: true}); err != nil {
			return err
		}

		result, runErr := s.Runner.Run(ctx, []string{
			"docker", "exec", "-i", rc.DBContainerName, "psql", "-U", rc.DBUser, "-d", rc.TargetDBName,
			"-v", "ON_ERROR_STOP=1", "-f", containerDumpPath,
		}, cmdrunner.Options{Check: false})
		if runErr != nil {
			return runErr
		}
		if result.ExitCode == 0 {
			return nil
		}

		match := unrecognizedParamPattern.FindStringSubmatch(result.Stderr)
		if match == nil || stripped[match[1]] {
			return errtype.New(errtype.KindDataIntegrity, "restore failed: %s", result.Stderr)
		}
		stripped[match[1]] = true

		rewritten, rewriteErr := stripUnsupportedParam(dumpPath, match[1])
		if rewriteErr != nil {
			return rewriteErr
		}
		dumpPath = rewritten
		s.logf("produced compatibility dump stripping parameter %q, retrying restore", match[1])
	}

	return errtype.New(errtype.KindDataIntegrity,
		"%s", errtype.Catalog("unsupported_dump_version")).WithSuggestion("bump db_engine_version and retry")
}

func (s *Service) restoreFromBinaryDump(ctx context.Context, sourceDir string, rc *runcontext.Context) error {
	dumpPath := filepath.Join(sourceDir, "database.dump")
	containerDumpPath := containerTmpDir + "/database.dump"

	if _, err := s.Runner.Run(ctx, []string{"docker", "cp", dumpPath, rc.DBContainerName + ":" + containerDumpPath}, cmdrunner.Options{Check: true}); err != nil {
		return err
	}

	result, err := s.Runner.Run(ctx, []string{
		"docker", "exec", rc.DBContainerName, "pg_restore", "-U", rc.DBUser, "-d", rc.TargetDBName,
		"--no-owner", "--no-privileges", "--clean", "--if-exists", "--single-transaction", "--exit-on-error",
		containerDumpPath,
	}, cmdrunner.Options{Check: false})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		if unsupportedVersionPattern.MatchString(result.Stderr) {
			return errtype.New(errtype.KindDataIntegrity, "%s", errtype.Catalog("unsupported_dump_version"))
		}
		return errtype.New(errtype.KindDataIntegrity, "binary restore failed: %s", result.Stderr)
	}
	return nil
}

func findSQLDump(sourceDir string) (string, error) {
	preferred := filepath.Join(sourceDir, "dump.sql")
	if info, err := os.Stat(preferred); err == nil && !info.IsDir() {
		return preferred, nil
	}

	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return "", errtype.Wrap(errtype.KindRuntime, err, "failed to read source directory %s", sourceDir)
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			return filepath.Join(sourceDir, entry.Name()), nil
		}
	}
	return "", errtype.New(errtype.KindInputFormat,
		"no SQL dump found inside ZIP; ensure it contains dump.sql or another .sql file")
}

// stripUnsupportedParam writes a compatibility copy of dumpPath with every
// SET <param> = ...; statement and SELECT pg_catalog.set_config('<param>',
// ...) call removed, returning the new path.
func stripUnsupportedParam(dumpPath, param string) (string, error) {
	raw, err := os.ReadFile(dumpPath)
	if err != nil {
		return "", errtype.Wrap(errtype.KindRuntime, err, "failed to read %s", dumpPath)
	}

	setPattern := regexp.MustCompile(`(?im)^\s*SET\s+` + regexp.QuoteMeta(param) + `\s*=.*;\s*$`)
	setConfigPattern := regexp.MustCompile(`(?im)^.*pg_catalog\.set_config\(\s*'` + regexp.QuoteMeta(param) + `'.*$`)

	content := setPattern.ReplaceAllString(string(raw), "")
	content = setConfigPattern.ReplaceAllString(content, "")

	outPath := dumpPath + ".compat.sql"
	if err := os.WriteFile(outPath, []byte(content), 0644); err != nil {
		return "", errtype.Wrap(errtype.KindRuntime, err, "failed to write compatibility dump %s", outPath)
	}
	return outPath, nil
}

func (s *Service) copyFilestore(sourceFilestore, filestoreDir string) {
	s.FS.CleanupDir(filestoreDir)
	if err := os.MkdirAll(filestoreDir, 0755); err != nil {
		s.logf("failed to create filestore directory %s: %v", filestoreDir, err)
		return
	}
	s.FS.SetPermissions(filestoreDir, 0755)

	if err := copyTree(sourceFilestore, filestoreDir); err != nil {
		s.logf("failed to copy filestore: %v", err)
		return
	}
	s.FS.SetTreePermissions(filestoreDir, 0755, 0644, 0755)
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(src, path)
		if relErr != nil {
			return relErr
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

var versionProbeQueries = []string{
	"SELECT latest_version FROM ir_module_module WHERE name = 'base' AND state = 'installed';",
	"SELECT value FROM ir_config_parameter WHERE key = 'database.latest_version';",
	"SELECT latest_version FROM ir_module_module WHERE name = 'base' ORDER BY id DESC LIMIT 1;",
}

// GetCurrentVersion runs the three candidate probe queries in order,
// returning the first non-empty trimmed result.
func (s *Service) GetCurrentVersion(ctx context.Context, rc *runcontext.Context) (string, error) {
	for _, query := range versionProbeQueries {
		result, err := s.Runner.Run(ctx, []string{
			"docker", "exec", "-i", rc.DBContainerName, "psql", "-U", rc.DBUser, "-d", rc.TargetDBName,
			"-t", "-A", "-c", query,
		}, cmdrunner.Options{Check: false})
		if err != nil {
			return "", err
		}
		if result.ExitCode != 0 {
			continue
		}
		for _, line := range strings.Split(result.Stdout, "\n") {
			cleaned := strings.TrimSpace(line)
			if cleaned != "" {
				return cleaned, nil
			}
		}
	}
	return "", nil
}

// FinalizePackage dumps the target DB to plain SQL and zips it together
// with the filestore tree, returning the ZIP's path.
func (s *Service) FinalizePackage(ctx context.Context, outputDir, filestoreDir string, rc *runcontext.Context) (string, error) {
	s.logf("creating final package...")

	dumpPath := filepath.Join(outputDir, "dump.sql")
	result, err := s.Runner.Run(ctx, []string{"docker", "exec", rc.DBContainerName, "pg_dump", "-U", rc.DBUser, rc.TargetDBName}, cmdrunner.Options{Check: true})
	if err != nil {
		return "", errtype.Wrap(errtype.KindRuntime, err, "failed to dump final database")
	}
	if err := os.WriteFile(dumpPath, []byte(result.Stdout), 0644); err != nil {
		return "", errtype.Wrap(errtype.KindRuntime, err, "failed to write %s", dumpPath)
	}

	zipPath := filepath.Join(outputDir, "upgraded.zip")
	if err := buildZip(zipPath, dumpPath, filestoreDir, outputDir); err != nil {
		return "", err
	}

	os.Remove(dumpPath)
	s.logf("upgrade complete, package available at: %s", zipPath)
	return zipPath, nil
}

func buildZip(zipPath, dumpPath, filestoreDir, outputDir string) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "failed to create %s", zipPath)
	}
	defer out.Close()

	w := zip.NewWriter(out)
	defer w.Close()

	if err := addFileToZip(w, dumpPath, "dump.sql"); err != nil {
		return err
	}

	if info, statErr := os.Stat(filestoreDir); statErr == nil && info.IsDir() {
		err := filepath.Walk(filestoreDir, func(path string, info os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if info.IsDir() {
				return nil
			}
			rel, relErr := filepath.Rel(outputDir, path)
			if relErr != nil {
				return relErr
			}
			return addFileToZip(w, path, filepath.ToSlash(rel))
		})
		if err != nil {
			return errtype.Wrap(errtype.KindRuntime, err, "failed to add filestore to package")
		}
	}

	return nil
}

func addFileToZip(w *zip.Writer, path, archiveName string) error {
	in, err := os.Open(path)
	if err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "failed to open %s", path)
	}
	defer in.Close()

	writer, err := w.Create(archiveName)
	if err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "failed to add %s to package", archiveName)
	}
	_, err = io.Copy(writer, in)
	return err
}
