// Package migrationstep drives one major-version migration: caching the
// external migration scripts, rendering the step's Dockerfile and compose
// manifest, running the container, and classifying failures as transient
// or fatal.
package migrationstep

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dbupgrader/dbupgrader/internal/cmdrunner"
	"github.com/dbupgrader/dbupgrader/internal/errtype"
	"github.com/dbupgrader/dbupgrader/internal/runcontext"
)

// Logger narrates step progress; the last lines of each attempt's container
// output are mirrored here at debug level once the compose command exits.
type Logger interface {
	Printf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
}

const tailBufferSize = 40

// ScriptsRepoURL is the migration-scripts repository cloned per target
// version.
const ScriptsRepoURL = "https://github.com/OCA/OpenUpgrade.git"

// transientPatterns/fatalPatterns classify a failed step's combined log
// evidence. Fatal takes precedence: a step that matches both is never
// retried, since retrying a fatal migration risks leaving the database in
// a partially-migrated state.
var transientPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)connection reset`),
	regexp.MustCompile(`(?i)timed? ?out`),
	regexp.MustCompile(`(?i)temporary failure`),
	regexp.MustCompile(`(?i)\b5\d\d\b.*(error|status)|(error|status).*\b5\d\d\b`),
	regexp.MustCompile(`(?i)\b429\b`),
	regexp.MustCompile(`(?i)could not connect to server`),
}

var fatalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)invalid manifest`),
	regexp.MustCompile(`(?i)parse error`),
	regexp.MustCompile(`(?i)syntax error`),
	regexp.MustCompile(`(?i)duplicate key value violates unique constraint`),
	regexp.MustCompile(`(?i)column .* does not exist`),
	regexp.MustCompile(`(?i)relation .* does not exist`),
}

// Driver runs a single migration step.
type Driver struct {
	Runner     *cmdrunner.Runner
	Logger     Logger
	ComposeCmd []string
	CacheRoot  string
}

// New builds a Driver.
func New(runner *cmdrunner.Runner, logger Logger, composeCmd []string, cacheRoot string) *Driver {
	return &Driver{Runner: runner, Logger: logger, ComposeCmd: composeCmd, CacheRoot: cacheRoot}
}

// EnsureScriptsCache makes sure the migration scripts for version are
// present under CacheRoot, shallow-cloning branch version if the cache
// entry is missing or not "ready" (missing its requirements file).
func (d *Driver) EnsureScriptsCache(ctx context.Context, version string) (string, error) {
	cacheDir := filepath.Join(d.CacheRoot, version)
	if isCacheReady(cacheDir) {
		return cacheDir, nil
	}

	os.RemoveAll(cacheDir)
	if err := os.MkdirAll(d.CacheRoot, 0755); err != nil {
		return "", errtype.Wrap(errtype.KindRuntime, err, "failed to create cache root %s", d.CacheRoot)
	}

	d.logf("caching migration scripts for %s at %s", version, cacheDir)
	_, err := d.Runner.Run(ctx, []string{
		"git", "clone", "--depth", "1", "--branch", version, ScriptsRepoURL, cacheDir,
	}, cmdrunner.Options{Check: true, RetryCount: 2, Backoff: 2 * time.Second})
	if err != nil {
		return "", err
	}

	if !isCacheReady(cacheDir) {
		return "", errtype.New(errtype.KindFatalMigration, "cloned migration scripts for %s are missing their requirements file", version)
	}
	return cacheDir, nil
}

func isCacheReady(cacheDir string) bool {
	info, err := os.Stat(filepath.Join(cacheDir, "requirements.txt"))
	return err == nil && !info.IsDir()
}

var manifestFileNames = []string{"__manifest__.py", "__openerp__.py"}

// DiscoverAddonSubRoots finds every addon module directory under addonsDir
// and maps each to a container-side mount path, sorted and de-duplicated.
func DiscoverAddonSubRoots(addonsDir, containerMountBase string) ([]string, error) {
	discovered := map[string]bool{}

	err := filepath.Walk(addonsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		isManifest := false
		for _, m := range manifestFileNames {
			if info.Name() == m {
				isManifest = true
				break
			}
		}
		if !isManifest || isHiddenOrCache(path) {
			return nil
		}
		moduleDir := filepath.Dir(path)
		rel, relErr := filepath.Rel(addonsDir, moduleDir)
		if relErr != nil {
			return relErr
		}
		containerPath := containerMountBase
		if rel != "." {
			containerPath = filepath.ToSlash(filepath.Join(containerMountBase, rel))
		}
		discovered[containerPath] = true
		return nil
	})
	if err != nil {
		return nil, errtype.Wrap(errtype.KindRuntime, err, "failed to walk addons directory %s", addonsDir)
	}

	result := make([]string, 0, len(discovered))
	for p := range discovered {
		result = append(result, p)
	}
	sortStrings(result)
	return result, nil
}

func isHiddenOrCache(p string) bool {
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if strings.HasPrefix(part, ".") || part == "__pycache__" {
			return true
		}
	}
	return false
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// RenderDockerfile writes the step's Dockerfile: the ERP image pinned to
// version, the migration scripts mounted in, and optionally a custom addons
// tree with its own requirements file.
func RenderDockerfile(path, version, scriptsCacheRelPath string, includeCustomAddons bool) error {
	var b strings.Builder
	fmt.Fprintf(&b, "FROM odoo:%s\n", version)
	b.WriteString("USER root\n")
	b.WriteString("RUN apt-get update && apt-get install -y git && rm -rf /var/lib/apt/lists/*\n")
	fmt.Fprintf(&b, "COPY --chown=odoo:odoo ./%s/ /mnt/extra-addons/\n", scriptsCacheRelPath)
	b.WriteString("RUN pip3 install --no-cache-dir -r /mnt/extra-addons/requirements.txt\n")

	if includeCustomAddons {
		b.WriteString("RUN mkdir -p /mnt/custom-addons\n")
		b.WriteString("COPY --chown=odoo:odoo ./output/custom_addons/requirements.txt /mnt/custom-addons/requirements.txt\n")
		b.WriteString("RUN pip3 install --no-cache-dir -r /mnt/custom-addons/requirements.txt\n")
		b.WriteString("COPY --chown=odoo:odoo ./output/custom_addons/ /mnt/custom-addons/\n")
	}

	b.WriteString("USER odoo\n")
	return os.WriteFile(path, []byte(b.String()), 0644)
}

type stepCompose struct {
	Services map[string]stepService `yaml:"services"`
	Networks map[string]externalNet `yaml:"networks"`
}

type stepService struct {
	Image         string            `yaml:"image"`
	Build         stepBuild         `yaml:"build"`
	ContainerName string            `yaml:"container_name"`
	Environment   []string          `yaml:"environment"`
	Networks      []string          `yaml:"networks"`
	Volumes       []string          `yaml:"volumes"`
	Restart       string            `yaml:"restart"`
	Entrypoint    string            `yaml:"entrypoint"`
	Command       string            `yaml:"command"`
}

type stepBuild struct {
	Context    string `yaml:"context"`
	Dockerfile string `yaml:"dockerfile"`
}

type externalNet struct {
	External bool   `yaml:"external"`
	Name     string `yaml:"name"`
}

// RenderCompose writes the step's compose manifest, wiring the addons-path
// argument from addonSubRoots.
func RenderCompose(path string, rc *runcontext.Context, addonSubRoots []string) error {
	addonsArg := "/mnt/extra-addons"
	if len(addonSubRoots) > 0 {
		addonsArg += "," + strings.Join(addonSubRoots, ",")
	}

	command := fmt.Sprintf(
		"odoo -d %s --upgrade-path=/mnt/extra-addons/openupgrade_scripts/scripts --addons-path=%s --update all --stop-after-init --load=base,web,openupgrade_framework --log-level=info --logfile=/var/log/odoo/odoo.log",
		rc.TargetDBName, addonsArg,
	)

	manifest := stepCompose{
		Services: map[string]stepService{
			"odoo-openupgrade": {
				Image:         "odoo-openupgrade",
				Build:         stepBuild{Context: ".", Dockerfile: "Dockerfile"},
				ContainerName: rc.UpgradeContainerName,
				Environment: []string{
					"HOST=" + rc.DBContainerName,
					"POSTGRES_USER=" + rc.DBUser,
					"POSTGRES_PASSWORD=" + rc.DBPassword,
				},
				Networks: []string{rc.NetworkName},
				Volumes: []string{
					"./output/filestore:/var/lib/odoo/filestore/" + rc.TargetDBName,
					"./output:/var/log/odoo",
				},
				Restart:    "no",
				Entrypoint: "/entrypoint.sh",
				Command:    command,
			},
		},
		Networks: map[string]externalNet{rc.NetworkName: {External: true, Name: rc.NetworkName}},
	}

	out, err := yaml.Marshal(manifest)
	if err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "failed to render step compose manifest")
	}
	return os.WriteFile(path, out, 0644)
}

// Outcome is the attempt-level result of Run.
type Outcome struct {
	Success  bool
	TailLog  []string
	ExitCode int
}

// Run launches the step's container, streams its combined output, enforces
// stepTimeout, and classifies failures. It returns after at most
// retryCount+1 attempts.
func (d *Driver) Run(ctx context.Context, composePath, logPath string, rc *runcontext.Context, stepTimeout time.Duration, retryCount int, backoff time.Duration) (Outcome, error) {
	maxAttempts := retryCount + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastTail []string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			d.logf("retrying upgrade step (%d/%d) after %s", attempt, maxAttempts, backoff)
			time.Sleep(backoff)
		}

		d.Runner.Run(ctx, []string{"docker", "rm", "-f", rc.UpgradeContainerName}, cmdrunner.Options{Check: false})

		logOffset := logFileSize(logPath)
		tail, runErr, timedOut := d.streamStepUp(ctx, composePath, stepTimeout)
		lastTail = tail

		if runErr != nil {
			d.composeDown(ctx, composePath)
			if attempt == maxAttempts {
				return Outcome{Success: false, TailLog: tail}, runErr
			}
			continue
		}

		if timedOut {
			d.composeDown(ctx, composePath)
			if attempt == maxAttempts {
				return Outcome{Success: false, TailLog: tail}, errtype.New(errtype.KindTransientMigrate, "upgrade step exceeded timeout of %s", stepTimeout)
			}
			continue
		}

		exitCode, inspectErr := d.inspectExitCode(ctx, rc.UpgradeContainerName)
		d.composeDown(ctx, composePath)

		if inspectErr != nil {
			if attempt == maxAttempts {
				return Outcome{Success: false, TailLog: tail}, inspectErr
			}
			continue
		}

		if exitCode == 0 {
			return Outcome{Success: true, TailLog: tail, ExitCode: 0}, nil
		}

		evidence := evidenceSince(tail, logPath, logOffset)
		if isFatal(evidence) || !isTransient(evidence) {
			return Outcome{Success: false, TailLog: tail, ExitCode: exitCode}, errtype.New(errtype.KindFatalMigration, "%s", errtype.Catalog("upgrade_step_failed", rc.TargetDBName))
		}

		if attempt == maxAttempts {
			return Outcome{Success: false, TailLog: tail, ExitCode: exitCode}, errtype.New(errtype.KindTransientMigrate, "%s", errtype.Catalog("upgrade_step_failed", rc.TargetDBName))
		}
	}

	return Outcome{Success: false, TailLog: lastTail}, errtype.New(errtype.KindFatalMigration, "upgrade step exhausted all attempts")
}

func (d *Driver) streamStepUp(ctx context.Context, composePath string, stepTimeout time.Duration) ([]string, error, bool) {
	argv := append(append([]string{}, d.ComposeCmd...), "-f", composePath, "up", "--build", "--abort-on-container-exit")

	runCtx := ctx
	var cancel func()
	if stepTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, stepTimeout)
		defer cancel()
	}

	result, err := d.Runner.Run(runCtx, argv, cmdrunner.Options{Check: false})
	tail := tailLines(result.Stdout+result.Stderr, tailBufferSize)
	for _, line := range tail {
		d.debugf(line)
	}

	if err != nil {
		if ctx.Err() == nil && runCtx.Err() != nil {
			return tail, nil, true
		}
		return tail, err, false
	}
	return tail, nil, false
}

func (d *Driver) inspectExitCode(ctx context.Context, containerName string) (int, error) {
	result, err := d.Runner.Run(ctx, []string{"docker", "inspect", containerName, "--format={{.State.ExitCode}}"}, cmdrunner.Options{Check: false})
	if err != nil {
		return 0, err
	}
	if result.ExitCode != 0 {
		return 0, errtype.New(errtype.KindRuntime, "could not inspect upgrade container exit code")
	}
	trimmed := strings.TrimSpace(result.Stdout)
	if trimmed == "" {
		trimmed = "1"
	}
	code, parseErr := strconv.Atoi(trimmed)
	if parseErr != nil {
		return 0, errtype.New(errtype.KindRuntime, "invalid exit code from inspect: %s", result.Stdout)
	}
	return code, nil
}

func (d *Driver) composeDown(ctx context.Context, composePath string) {
	argv := append(append([]string{}, d.ComposeCmd...), "-f", composePath, "down")
	d.Runner.Run(ctx, argv, cmdrunner.Options{Check: false})
}

func tailLines(combined string, max int) []string {
	lines := strings.Split(strings.ReplaceAll(combined, "\r\n", "\n"), "\n")
	var nonEmpty []string
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			nonEmpty = append(nonEmpty, l)
		}
	}
	if len(nonEmpty) > max {
		return nonEmpty[len(nonEmpty)-max:]
	}
	return nonEmpty
}

func logFileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// evidenceSince combines the in-memory tail with whatever the on-disk log
// file gained since offset, matching the spec's "tail + delta of the
// on-disk log file read since the attempt's start offset" evidence rule.
func evidenceSince(tail []string, logPath string, offset int64) string {
	var b strings.Builder
	for _, l := range tail {
		b.WriteString(l)
		b.WriteByte('\n')
	}

	f, err := os.Open(logPath)
	if err != nil {
		return b.String()
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return b.String()
	}
	reader := bufio.NewReader(f)
	for {
		line, readErr := reader.ReadString('\n')
		b.WriteString(line)
		if readErr != nil {
			break
		}
	}
	return b.String()
}

func isTransient(evidence string) bool {
	for _, p := range transientPatterns {
		if p.MatchString(evidence) {
			return true
		}
	}
	return false
}

func isFatal(evidence string) bool {
	for _, p := range fatalPatterns {
		if p.MatchString(evidence) {
			return true
		}
	}
	return false
}

func (d *Driver) logf(format string, args ...interface{}) {
	if d.Logger != nil {
		d.Logger.Printf(format, args...)
	}
}

func (d *Driver) debugf(line string) {
	if d.Logger != nil {
		d.Logger.Debugf("%s", line)
	}
}
