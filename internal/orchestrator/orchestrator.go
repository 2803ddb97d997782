// Package orchestrator drives the end-to-end upgrade pipeline: validating
// inputs, standing up the database container, restoring the source,
// stepping the database through one migration per major version, and
// repackaging the result. Every step runs through a checkpoint wrapper so a
// killed run can resume from the last completed step.
package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	hcversion "github.com/hashicorp/go-version"

	"github.com/dbupgrader/dbupgrader/internal/archive"
	"github.com/dbupgrader/dbupgrader/internal/cmdrunner"
	"github.com/dbupgrader/dbupgrader/internal/containerruntime"
	"github.com/dbupgrader/dbupgrader/internal/database"
	"github.com/dbupgrader/dbupgrader/internal/diskspace"
	"github.com/dbupgrader/dbupgrader/internal/download"
	"github.com/dbupgrader/dbupgrader/internal/errtype"
	"github.com/dbupgrader/dbupgrader/internal/fsutil"
	"github.com/dbupgrader/dbupgrader/internal/migrationstep"
	"github.com/dbupgrader/dbupgrader/internal/runcontext"
	"github.com/dbupgrader/dbupgrader/internal/runmanifest"
	"github.com/dbupgrader/dbupgrader/internal/settings"
	"github.com/dbupgrader/dbupgrader/internal/state"
	"github.com/dbupgrader/dbupgrader/internal/validate"
)

// Logger is the single capability every collaborator package needs.
type Logger interface {
	Printf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
	Warnf(format string, v ...interface{})
}

// Dirs are the workspace paths the orchestrator owns for the duration of a
// run, all rooted under the current working directory.
type Dirs struct {
	Source       string
	Output       string
	Filestore    string
	CustomAddons string
	ScriptsCache string
}

// NewDirs derives the standard layout from a working directory root.
func NewDirs(root string) Dirs {
	output := filepath.Join(root, "output")
	return Dirs{
		Source:       filepath.Join(root, "source"),
		Output:       output,
		Filestore:    filepath.Join(output, "filestore"),
		CustomAddons: filepath.Join(output, "custom_addons"),
		ScriptsCache: filepath.Join(output, ".cache", "migrations"),
	}
}

// Orchestrator wires every collaborator package together and drives the
// pipeline described in the component design.
type Orchestrator struct {
	Settings   settings.Settings
	RunContext *runcontext.Context
	Dirs       Dirs
	Logger     Logger

	runner     *cmdrunner.Runner
	validator  *validate.Service
	downloader *download.Service
	fs         *fsutil.Service
	runtime    *containerruntime.Driver
	db         *database.Service
	migrator   *migrationstep.Driver
	stateStore *state.Store
	manifest   *runmanifest.Writer

	st               *state.PersistentState
	currentStepName  string
	resumed          bool
}

// New assembles an Orchestrator and resolves the compose tool. ctx bounds
// only the compose-tool detection probe.
func New(ctx context.Context, s settings.Settings, logger Logger, root string) (*Orchestrator, error) {
	rc, err := runcontext.New()
	if err != nil {
		return nil, err
	}

	dirs := NewDirs(root)
	runner := cmdrunner.New(logger)
	fs := fsutil.New(logger)
	validator := validate.New(s.AllowPlaintextHTTP, logger)
	downloader := download.New(validator, logger, nil, s.DownloadTimeout, s.RetryCount, s.RetryBackoff)
	db := database.New(runner, fs, logger)

	runtimeDriver, err := containerruntime.New(ctx, runner, logger)
	if err != nil {
		return nil, err
	}
	migrator := migrationstep.New(runner, logger, runtimeDriver.ComposeCmd, dirs.ScriptsCache)

	return &Orchestrator{
		Settings:   s,
		RunContext: rc,
		Dirs:       dirs,
		Logger:     logger,
		runner:     runner,
		validator:  validator,
		downloader: downloader,
		fs:         fs,
		runtime:    runtimeDriver,
		db:         db,
		migrator:   migrator,
		stateStore: state.New(s.StateFilePath),
		manifest:   runmanifest.New(s.ManifestFilePath, logger),
	}, nil
}

func (o *Orchestrator) dbComposePath() string      { return filepath.Join(".", "db-composer.yml") }
func (o *Orchestrator) upgradeComposePath() string { return filepath.Join(".", "odoo-upgrade-composer.yml") }

// Run drives the full pipeline and returns a process exit code: 0 on
// success, 1 on any failure or cancellation.
func (o *Orchestrator) Run(ctx context.Context) int {
	manifestStatus := "failed"
	manifestError := ""
	preserveForResume := false

	exitCode, err := o.run(ctx, &preserveForResume)
	if err != nil {
		manifestError = err.Error()
		if ctx.Err() != nil {
			manifestStatus = "aborted"
		}
	} else {
		manifestStatus = "success"
	}

	o.manifest.Finalize(manifestStatus, manifestError)

	if preserveForResume {
		o.Logger.Warnf("preserving runtime artifacts and containers for resume mode; rerun with resume enabled to continue from the last completed step")
	} else {
		o.cleanup(ctx)
	}

	return exitCode
}

func (o *Orchestrator) run(ctx context.Context, preserveForResume *bool) (int, error) {
	if !settings.IsSupportedMajor(o.Settings.TargetMajor) {
		return 1, errtype.New(errtype.KindInputFormat, "invalid target version; supported versions are %s", strings.Join(settings.SupportedMajors, ", "))
	}

	resumed, err := o.initializeState()
	if err != nil {
		return 1, err
	}
	o.resumed = resumed

	o.manifest.StartRun(o.RunContext.RunID, map[string]interface{}{
		"source":        o.Settings.SourceLocation,
		"target_major":  o.Settings.TargetMajor,
		"resume":        o.Settings.ResumeEnabled,
	})
	o.manifest.SetVersions("", o.Settings.TargetMajor, "")

	runErr := o.runPipeline(ctx)
	if runErr != nil {
		failedStep := o.currentStepName
		if failedStep == "" {
			failedStep = "run"
		}
		if stateErr := o.stateStore.MarkStepFailed(o.st, failedStep, runErr.Error()); stateErr != nil {
			o.Logger.Warnf("could not persist failed run state: %v", stateErr)
		}
		if stateErr := o.stateStore.MarkStatus(o.st, state.StatusFailed, runErr.Error()); stateErr != nil {
			o.Logger.Warnf("could not persist run status: %v", stateErr)
		}
		*preserveForResume = o.Settings.ResumeEnabled
		return 1, runErr
	}

	return 0, nil
}

func (o *Orchestrator) initializeState() (bool, error) {
	if err := os.MkdirAll(o.Dirs.Output, 0755); err != nil {
		return false, errtype.Wrap(errtype.KindRuntime, err, "failed to create output directory")
	}

	runContextMap := map[string]interface{}{
		"run_id":                 o.RunContext.RunID,
		"db_container_name":      o.RunContext.DBContainerName,
		"upgrade_container_name": o.RunContext.UpgradeContainerName,
		"network_name":           o.RunContext.NetworkName,
		"volume_name":            o.RunContext.VolumeName,
		"db_user":                o.RunContext.DBUser,
	}

	st, resumed, err := o.stateStore.Initialize(o.Settings.Metadata(), runContextMap, o.Settings.ResumeEnabled)
	if err != nil {
		return false, err
	}
	o.st = st
	return resumed, nil
}

// runStep is the checkpoint wrapper: on resume it skips a step already in
// CompletedSteps, otherwise it marks started/completed/failed around fn and
// mirrors both boundaries into the manifest.
func runStep[T any](o *Orchestrator, name string, fn func() (T, error)) (T, error) {
	var zero T

	if o.Settings.ResumeEnabled && o.st.IsStepCompleted(name) {
		o.Logger.Printf("skipping completed step from state: %s", name)
		o.manifest.StepStarted(name, map[string]interface{}{"resumed": true})
		o.manifest.StepFinished(name, "skipped", map[string]interface{}{"resumed": true}, "")
		return zero, nil
	}

	if err := o.stateStore.MarkStepStarted(o.st, name); err != nil {
		return zero, err
	}
	o.manifest.StepStarted(name, nil)
	o.currentStepName = name

	result, err := fn()
	if err != nil {
		if stateErr := o.stateStore.MarkStepFailed(o.st, name, err.Error()); stateErr != nil {
			o.Logger.Warnf("could not persist failed step %s: %v", name, stateErr)
		}
		o.manifest.StepFinished(name, "failed", nil, err.Error())
		return zero, err
	}

	if stateErr := o.stateStore.MarkStepCompleted(o.st, name); stateErr != nil {
		return zero, stateErr
	}
	o.manifest.StepFinished(name, "success", nil, "")
	o.currentStepName = ""
	return result, nil
}

func runVoidStep(o *Orchestrator, name string, fn func() error) error {
	_, err := runStep(o, name, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func (o *Orchestrator) runPipeline(ctx context.Context) error {
	if err := runVoidStep(o, "validate_docker_environment", func() error {
		return o.runtime.ValidateEnvironment(ctx)
	}); err != nil {
		return err
	}

	if err := runVoidStep(o, "validate_source_accessibility", func() error {
		return o.validator.ValidateSourceAccessibility(o.Settings.SourceLocation, o.Settings.ExtraAddonsLocation, o.Settings.TargetMajor)
	}); err != nil {
		return err
	}

	if err := runVoidStep(o, "check_disk_space", o.checkDiskSpace); err != nil {
		return err
	}

	databaseRestored := false
	currentVersion := ""
	if o.Settings.ResumeEnabled && o.resumed {
		if v, ok := o.st.GetValue("database_restored", false).(bool); ok {
			databaseRestored = v
		}
		currentVersion = o.st.GetCurrentVersion()
	}

	if !(o.resumed && databaseRestored) {
		if err := runVoidStep(o, "prepare_environment", o.prepareEnvironment); err != nil {
			return err
		}
		if err := runVoidStep(o, "process_extra_addons", func() error {
			return o.processExtraAddons(ctx)
		}); err != nil {
			return err
		}
	} else {
		o.Logger.Printf("skipping environment preparation due to resume state")
	}

	if err := runVoidStep(o, "create_db_compose_file", func() error {
		return containerruntime.RenderDBCompose(o.dbComposePath(), o.RunContext, o.Settings.DBEngineVersion)
	}); err != nil {
		return err
	}

	if err := runVoidStep(o, "start_db_container", func() error {
		argv := append(append([]string{}, o.runtime.ComposeCmd...), "-f", o.dbComposePath(), "up", "-d")
		_, err := o.runner.Run(ctx, argv, cmdrunner.Options{Check: true})
		return err
	}); err != nil {
		return err
	}

	if err := runVoidStep(o, "wait_for_db", func() error {
		return o.runtime.WaitForDB(ctx, o.RunContext, 30)
	}); err != nil {
		return err
	}

	if !(o.resumed && databaseRestored) {
		localSource, err := runStep(o, "download_source", func() (string, error) {
			return o.downloader.DownloadOrCopySource(ctx, o.Settings.SourceLocation, o.Dirs.Source, o.Settings.SourceChecksum, validate.IsURL(o.Settings.SourceLocation))
		})
		if err != nil {
			return err
		}
		if err := o.stateStore.SetValue(o.st, "local_source_path", localSource); err != nil {
			return err
		}

		fileType, err := runStep(o, "process_source", func() (database.FileType, error) {
			return o.processSourceFile(localSource)
		})
		if err != nil {
			return err
		}
		if err := o.stateStore.SetValue(o.st, "source_file_type", string(fileType)); err != nil {
			return err
		}

		if err := runVoidStep(o, "restore_database", func() error {
			return o.db.RestoreDatabase(ctx, fileType, o.Dirs.Source, o.Dirs.Filestore, o.RunContext)
		}); err != nil {
			return err
		}
		if err := o.stateStore.SetValue(o.st, "database_restored", true); err != nil {
			return err
		}

		currentVersion, err = runStep(o, "detect_current_version", func() (string, error) {
			return o.db.GetCurrentVersion(ctx, o.RunContext)
		})
		if err != nil {
			return err
		}
		if currentVersion != "" {
			if err := o.stateStore.SetCurrentVersion(o.st, currentVersion); err != nil {
				return err
			}
		}
	} else {
		o.Logger.Printf("resuming from restored database state at version: %s", orEmpty(currentVersion, "<unknown>"))
		if currentVersion == "" {
			v, err := runStep(o, "detect_current_version", func() (string, error) {
				return o.db.GetCurrentVersion(ctx, o.RunContext)
			})
			if err != nil {
				return err
			}
			currentVersion = v
			if currentVersion != "" {
				if err := o.stateStore.SetCurrentVersion(o.st, currentVersion); err != nil {
					return err
				}
			}
		}
	}

	if currentVersion == "" {
		return errtype.New(errtype.KindDataIntegrity,
			"could not determine database version after restore; check that the source dump is valid")
	}

	o.Logger.Printf("current database version: %s", currentVersion)
	o.manifest.SetVersions(currentVersion, o.Settings.TargetMajor, currentVersion)

	if err := checkMinimumVersion(currentVersion); err != nil {
		return err
	}

	finalVersion, err := o.runUpgradeLoop(ctx, currentVersion)
	if err != nil {
		return err
	}

	if err := runVoidStep(o, "finalize_package", func() error {
		packagePath, err := o.db.FinalizePackage(ctx, o.Dirs.Output, o.Dirs.Filestore, o.RunContext)
		if err != nil {
			return err
		}
		o.manifest.AddArtifact("upgraded_zip", packagePath)
		return nil
	}); err != nil {
		return err
	}

	if err := runVoidStep(o, "cleanup_artifacts", func() error {
		o.fs.CleanupDir(o.Dirs.Source)
		o.fs.CleanupDir(o.Dirs.Filestore)
		o.fs.CleanupDir(o.Dirs.CustomAddons)
		return nil
	}); err != nil {
		return err
	}

	if err := o.stateStore.MarkStatus(o.st, state.StatusSuccess, ""); err != nil {
		return err
	}
	o.manifest.SetVersions(currentVersion, o.Settings.TargetMajor, finalVersion)
	return nil
}

func orEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func checkMinimumVersion(currentVersion string) error {
	current, err := majorOf(currentVersion)
	if err != nil {
		return nil
	}
	if current < 10 {
		return errtype.New(errtype.KindInputFormat, "source database version is below 10.0 and is not supported")
	}
	return nil
}

func (o *Orchestrator) runUpgradeLoop(ctx context.Context, startVersion string) (string, error) {
	targetMajor, err := majorOf(o.Settings.TargetMajor)
	if err != nil {
		return "", errtype.Wrap(errtype.KindInputFormat, err, "invalid target version %s", o.Settings.TargetMajor)
	}

	currentVersion := startVersion
	seenMajors := map[int]bool{}

	for {
		currentMajor, err := majorOf(currentVersion)
		if err != nil {
			return "", errtype.Wrap(errtype.KindDataIntegrity, err, "could not parse database version %s", currentVersion)
		}

		if seenMajors[currentMajor] {
			return "", errtype.New(errtype.KindProgress, "%s", errtype.Catalog("loop_detected", currentVersion))
		}
		seenMajors[currentMajor] = true

		if currentMajor == targetMajor {
			o.Logger.Printf("target version reached")
			return currentVersion, nil
		}
		if currentMajor > targetMajor {
			o.Logger.Printf("current version is already higher than target")
			return currentVersion, nil
		}

		nextVersion := strconv.Itoa(currentMajor+1) + ".0"
		if !settings.IsSupportedMajor(nextVersion) {
			return "", errtype.New(errtype.KindInputFormat, "no supported upgrade step found from %s to %s", currentVersion, o.Settings.TargetMajor)
		}

		stepName := "upgrade_to_" + nextVersion
		success, err := runStep(o, stepName, func() (bool, error) {
			return o.runMigrationStep(ctx, nextVersion)
		})
		if err != nil {
			return "", err
		}
		if !success {
			return "", errtype.New(errtype.KindFatalMigration, "%s", errtype.Catalog("upgrade_step_failed", nextVersion))
		}

		newVersion, err := runStep(o, "detect_current_version_"+nextVersion, func() (string, error) {
			return o.db.GetCurrentVersion(ctx, o.RunContext)
		})
		if err != nil {
			return "", err
		}
		if newVersion == "" {
			return "", errtype.New(errtype.KindDataIntegrity,
				"could not determine database version after upgrade step; inspect logs to identify migration failures")
		}

		newMajor, err := majorOf(newVersion)
		if err != nil {
			return "", errtype.Wrap(errtype.KindDataIntegrity, err, "could not parse database version %s", newVersion)
		}
		if newMajor <= currentMajor {
			return "", errtype.New(errtype.KindProgress, "%s", errtype.Catalog("no_progress", newVersion, nextVersion))
		}

		currentVersion = newVersion
		if err := o.stateStore.SetCurrentVersion(o.st, currentVersion); err != nil {
			return "", err
		}
		o.Logger.Printf("database is now at version: %s", currentVersion)
		o.manifest.SetVersions("", o.Settings.TargetMajor, currentVersion)
	}
}

func (o *Orchestrator) runMigrationStep(ctx context.Context, targetVersion string) (bool, error) {
	cacheDir, err := o.migrator.EnsureScriptsCache(ctx, targetVersion)
	if err != nil {
		return false, err
	}

	includeCustomAddons := o.Settings.ExtraAddonsLocation != ""
	var addonSubRoots []string
	if includeCustomAddons {
		addonSubRoots, err = migrationstep.DiscoverAddonSubRoots(o.Dirs.CustomAddons, "/mnt/custom-addons")
		if err != nil {
			return false, err
		}
	}

	cacheRelPath, err := filepath.Rel(".", cacheDir)
	if err != nil {
		cacheRelPath = cacheDir
	}
	if err := migrationstep.RenderDockerfile("Dockerfile", targetVersion, filepath.ToSlash(cacheRelPath), includeCustomAddons); err != nil {
		return false, err
	}
	if err := migrationstep.RenderCompose(o.upgradeComposePath(), o.RunContext, addonSubRoots); err != nil {
		return false, err
	}

	outcome, err := o.migrator.Run(ctx, o.upgradeComposePath(), filepath.Join(o.Dirs.Output, "odoo.log"), o.RunContext, o.Settings.StepTimeout, o.Settings.RetryCount, o.Settings.RetryBackoff)
	if err != nil {
		return false, err
	}
	return outcome.Success, nil
}

func majorOf(v string) (int, error) {
	parsed, err := hcversion.NewVersion(strings.TrimSpace(v))
	if err != nil {
		return 0, err
	}
	return parsed.Segments()[0], nil
}

// checkDiskSpace verifies the workspace and Docker storage have enough free
// space before any containers are created or files are downloaded. The
// source/output root gets the bulk of the budget since it holds the
// downloaded source, extracted filestore, and the finalized package.
func (o *Orchestrator) checkDiskSpace() error {
	root := filepath.Dir(o.Dirs.Source)
	requirements := []diskspace.SpaceRequirement{
		{
			Path:          root,
			MinFreeGB:     4.0,
			PurposeDesc:   "upgrade workspace",
			FailIfMissing: true,
		},
		{
			Path:          "/var/lib/docker",
			MinFreeGB:     2.0,
			PurposeDesc:   "Docker storage",
			FailIfMissing: false,
		},
		{
			Path:          "/",
			MinFreeGB:     0.5,
			PurposeDesc:   "system root",
			FailIfMissing: true,
		},
	}

	results, sufficient := diskspace.CheckAvailableSpace(requirements)
	for _, line := range diskspace.FormatCheckResults(results) {
		o.Logger.Printf("%s", line)
	}
	if !sufficient {
		return errtype.New(errtype.KindRuntime, "insufficient disk space for upgrade, see preceding log lines for details")
	}
	return nil
}

func (o *Orchestrator) prepareEnvironment() error {
	o.Logger.Printf("preparing environment directories...")
	o.fs.CleanupDir(o.Dirs.Source)
	o.fs.CleanupDir(o.Dirs.Output)

	for _, dir := range []string{o.Dirs.Source, o.Dirs.Filestore, o.Dirs.CustomAddons} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errtype.Wrap(errtype.KindRuntime, err, "failed to create %s", dir)
		}
		o.fs.SetPermissions(dir, 0755)
	}
	o.fs.SetPermissions(o.Dirs.Output, 0755)
	return nil
}

// processExtraAddons downloads or copies the configured addons source into
// Dirs.CustomAddons, flattening a single wrapper directory (a zip whose
// only top-level entry is a directory) and promoting a bare module (a
// directory that is itself an addon, not a collection of them) into a
// synthetic "downloaded_module" child so the migration step's addons-path
// always points at a directory of modules.
func (o *Orchestrator) processExtraAddons(ctx context.Context) error {
	if o.Settings.ExtraAddonsLocation == "" {
		return nil
	}

	location := o.Settings.ExtraAddonsLocation
	isURL := validate.IsURL(location)

	local := location
	if isURL || isZipFile(location) {
		var err error
		local, err = o.downloader.DownloadOrCopySource(ctx, location, o.Dirs.CustomAddons, o.Settings.AddonsChecksum, isURL)
		if err != nil {
			return err
		}
	}

	if isZipFile(local) {
		if err := archive.ExtractZip(local, o.Dirs.CustomAddons); err != nil {
			return err
		}
		if isURL {
			if err := os.Remove(local); err != nil && !os.IsNotExist(err) {
				o.Logger.Warnf("could not remove downloaded addons archive %s: %v", local, err)
			}
		}
	} else if !isURL && local != o.Dirs.CustomAddons {
		info, err := os.Stat(local)
		if err != nil {
			return errtype.Wrap(errtype.KindRuntime, err, "extra addons path not found: %s", local)
		}
		if !info.IsDir() {
			return errtype.New(errtype.KindInputFormat, "extra addons path is neither a directory nor a supported archive: %s", local)
		}
		if err := copyTreeInto(local, o.Dirs.CustomAddons); err != nil {
			return err
		}
	}

	if err := flattenSingleWrapperDir(o.Dirs.CustomAddons); err != nil {
		return err
	}
	if err := promoteFlatModule(o.Dirs.CustomAddons); err != nil {
		return err
	}

	reqPath := filepath.Join(o.Dirs.CustomAddons, "requirements.txt")
	if _, err := os.Stat(reqPath); os.IsNotExist(err) {
		if err := os.WriteFile(reqPath, []byte(""), 0644); err != nil {
			return errtype.Wrap(errtype.KindRuntime, err, "failed to create %s", reqPath)
		}
	}

	if err := validate.ValidateAddonsStructure(o.Dirs.CustomAddons, o.Settings.TargetMajor); err != nil {
		return err
	}

	o.fs.SetTreePermissions(o.Dirs.CustomAddons, 0755, 0644, 0755)
	return nil
}

func isZipFile(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".zip"
}

// flattenSingleWrapperDir collapses a root whose only entry is a single
// directory (the common shape of a GitHub-style "repo-branch/" zip export)
// by hoisting that directory's contents up one level.
func flattenSingleWrapperDir(root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "failed to read %s", root)
	}
	visible := visibleEntries(entries)
	if len(visible) != 1 || !visible[0].IsDir() {
		return nil
	}

	wrapper := filepath.Join(root, visible[0].Name())
	inner, err := os.ReadDir(wrapper)
	if err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "failed to read %s", wrapper)
	}
	for _, e := range inner {
		if err := os.Rename(filepath.Join(wrapper, e.Name()), filepath.Join(root, e.Name())); err != nil {
			return errtype.Wrap(errtype.KindRuntime, err, "failed to flatten %s", wrapper)
		}
	}
	return os.Remove(wrapper)
}

// promoteFlatModule moves a root that is itself a single Odoo module (a
// manifest file directly under root) into a "downloaded_module" child
// directory, matching the layout the addons-path mount expects: a
// directory of modules, not a single module.
func promoteFlatModule(root string) error {
	for _, name := range []string{"__manifest__.py", "__openerp__.py"} {
		if _, err := os.Stat(filepath.Join(root, name)); err == nil {
			dest := filepath.Join(root, "downloaded_module")
			if err := os.MkdirAll(dest, 0755); err != nil {
				return errtype.Wrap(errtype.KindRuntime, err, "failed to create %s", dest)
			}
			entries, err := os.ReadDir(root)
			if err != nil {
				return errtype.Wrap(errtype.KindRuntime, err, "failed to read %s", root)
			}
			for _, e := range entries {
				if e.Name() == "downloaded_module" || e.Name() == "requirements.txt" {
					continue
				}
				if err := os.Rename(filepath.Join(root, e.Name()), filepath.Join(dest, e.Name())); err != nil {
					return errtype.Wrap(errtype.KindRuntime, err, "failed to promote module into %s", dest)
				}
			}
			return nil
		}
	}
	return nil
}

func visibleEntries(entries []os.DirEntry) []os.DirEntry {
	var out []os.DirEntry
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, e)
	}
	return out
}

func copyTreeInto(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "failed to read %s", src)
	}
	for _, e := range entries {
		srcPath := filepath.Join(src, e.Name())
		dstPath := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := os.MkdirAll(dstPath, 0755); err != nil {
				return errtype.Wrap(errtype.KindRuntime, err, "failed to create %s", dstPath)
			}
			if err := copyTreeInto(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) processSourceFile(sourcePath string) (database.FileType, error) {
	ext := strings.ToLower(filepath.Ext(sourcePath))
	switch ext {
	case ".zip":
		o.Logger.Printf("extracting ZIP file...")
		if err := archive.ExtractZip(sourcePath, o.Dirs.Source); err != nil {
			return "", err
		}
		return database.FileTypeArchive, nil
	case ".dump":
		o.Logger.Printf("processing DUMP file...")
		if err := copyFile(sourcePath, filepath.Join(o.Dirs.Source, "database.dump")); err != nil {
			return "", err
		}
		return database.FileTypeDump, nil
	default:
		return "", errtype.New(errtype.KindInputFormat, "unsupported source file format; use .zip or .dump")
	}
}

func (o *Orchestrator) cleanup(ctx context.Context) {
	o.runtime.CleanupEnvironment(ctx, o.dbComposePath(), o.upgradeComposePath())
	for _, name := range []string{"Dockerfile", o.upgradeComposePath(), o.dbComposePath()} {
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			o.Logger.Warnf("could not remove %s: %v", name, err)
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "failed to open %s", src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "failed to create %s", dst)
	}
	defer out.Close()

	buf := make([]byte, 32*1024)
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return errtype.Wrap(errtype.KindRuntime, writeErr, "failed writing %s", dst)
			}
		}
		if readErr != nil {
			break
		}
	}
	return nil
}
