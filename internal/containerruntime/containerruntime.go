// Package containerruntime drives the Docker Compose lifecycle a run needs:
// compose-tool detection, rendering the database manifest, readiness
// polling and idempotent teardown. The migration-step manifest is rendered
// by package migrationstep.
package containerruntime

import (
	"context"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dbupgrader/dbupgrader/internal/cmdrunner"
	"github.com/dbupgrader/dbupgrader/internal/errtype"
	"github.com/dbupgrader/dbupgrader/internal/runcontext"
)

// Logger narrates environment validation and readiness polling.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Driver wraps a cmdrunner.Runner with the compose-specific command
// vocabulary.
type Driver struct {
	Runner     *cmdrunner.Runner
	Logger     Logger
	ComposeCmd []string
}

// New resolves the available compose command and returns a bound Driver.
func New(ctx context.Context, runner *cmdrunner.Runner, logger Logger) (*Driver, error) {
	composeCmd, err := detectComposeCmd(ctx, runner)
	if err != nil {
		return nil, err
	}
	return &Driver{Runner: runner, Logger: logger, ComposeCmd: composeCmd}, nil
}

func detectComposeCmd(ctx context.Context, runner *cmdrunner.Runner) ([]string, error) {
	if _, err := runner.Run(ctx, []string{"docker", "compose", "version"}, cmdrunner.Options{Check: true}); err == nil {
		return []string{"docker", "compose"}, nil
	}
	if _, err := runner.Run(ctx, []string{"docker-compose", "--version"}, cmdrunner.Options{Check: true}); err == nil {
		return []string{"docker-compose"}, nil
	}
	return nil, errtype.New(errtype.KindToolMissing,
		"Docker Compose is not available; install Docker Compose v2 (docker compose) or v1 (docker-compose) and retry")
}

// ValidateEnvironment confirms both docker and the compose plugin respond.
func (d *Driver) ValidateEnvironment(ctx context.Context) error {
	d.logf("validating Docker environment...")
	if _, err := d.Runner.Run(ctx, []string{"docker", "--version"}, cmdrunner.Options{Check: true}); err != nil {
		return err
	}
	if _, err := d.Runner.Run(ctx, append(append([]string{}, d.ComposeCmd...), "version"), cmdrunner.Options{Check: true}); err != nil {
		return err
	}
	d.logf("Docker is available.")
	return nil
}

// dbCompose mirrors the minimal compose schema the database stack needs:
// one postgres service on a dedicated bridge network and named volume.
type dbCompose struct {
	Services map[string]dbService   `yaml:"services"`
	Networks map[string]networkSpec `yaml:"networks"`
	Volumes  map[string]struct{}    `yaml:"volumes"`
}

type dbService struct {
	ContainerName string   `yaml:"container_name"`
	Image         string   `yaml:"image"`
	Environment   []string `yaml:"environment"`
	Networks      []string `yaml:"networks"`
	Volumes       []string `yaml:"volumes"`
	Restart       string   `yaml:"restart"`
}

type networkSpec struct {
	Driver string `yaml:"driver"`
	Name   string `yaml:"name"`
}

// RenderDBCompose writes the database compose manifest to path.
func RenderDBCompose(path string, rc *runcontext.Context, dbEngineVersion string) error {
	manifest := dbCompose{
		Services: map[string]dbService{
			"db": {
				ContainerName: rc.DBContainerName,
				Image:         "postgres:" + dbEngineVersion,
				Environment: []string{
					"POSTGRES_DB=" + rc.BootstrapDBName,
					"POSTGRES_PASSWORD=" + rc.DBPassword,
					"POSTGRES_USER=" + rc.DBUser,
				},
				Networks: []string{rc.NetworkName},
				Volumes:  []string{rc.VolumeName + ":/var/lib/postgresql/data"},
				Restart:  "unless-stopped",
			},
		},
		Networks: map[string]networkSpec{
			rc.NetworkName: {Driver: "bridge", Name: rc.NetworkName},
		},
		Volumes: map[string]struct{}{rc.VolumeName: {}},
	}
	return writeYAML(path, manifest)
}

func writeYAML(path string, v interface{}) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "failed to render compose manifest %s", path)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "failed to write compose manifest %s", path)
	}
	return nil
}

// WaitForDB polls pg_isready inside the database container up to maxRetries
// times, 2 seconds apart.
func (d *Driver) WaitForDB(ctx context.Context, rc *runcontext.Context, maxRetries int) error {
	d.logf("waiting for database to be ready...")
	cmd := []string{"docker", "exec", rc.DBContainerName, "pg_isready", "-U", rc.DBUser, "-d", rc.BootstrapDBName}

	for i := 0; i < maxRetries; i++ {
		result, err := d.Runner.Run(ctx, cmd, cmdrunner.Options{Check: false})
		if err == nil && result.ExitCode == 0 {
			d.logf("database is ready.")
			return nil
		}
		time.Sleep(2 * time.Second)
	}

	return errtype.New(errtype.KindRuntime, "%s", errtype.Catalog("db_not_ready"))
}

// CleanupEnvironment tears down both compose stacks. Failures are tolerated
// (check: false) so a half-started run can still be cleaned up.
func (d *Driver) CleanupEnvironment(ctx context.Context, dbComposePath, upgradeComposePath string) {
	d.logf("cleaning up Docker environment...")
	d.Runner.Run(ctx, append(append([]string{}, d.ComposeCmd...), "-f", upgradeComposePath, "down"), cmdrunner.Options{Check: false})
	d.Runner.Run(ctx, append(append([]string{}, d.ComposeCmd...), "-f", dbComposePath, "down", "-v"), cmdrunner.Options{Check: false})
}

func (d *Driver) logf(format string, args ...interface{}) {
	if d.Logger != nil {
		d.Logger.Printf(format, args...)
	}
}
