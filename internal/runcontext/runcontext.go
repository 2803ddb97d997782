// Package runcontext generates the per-run identifiers and ephemeral
// credentials that namespace every Docker resource a run touches.
package runcontext

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Context is the immutable set of identifiers and credentials isolating one
// run's containers, network, volume and database from every other run on
// the same host. The container, network, volume and user names are derived
// from RunID; the database names are fixed. db_password is never logged and
// never read back from disk.
type Context struct {
	RunID               string
	DBContainerName     string
	UpgradeContainerName string
	NetworkName         string
	VolumeName          string
	DBUser              string
	DBPassword          string
	BootstrapDBName     string
	TargetDBName        string
}

// New mints a fresh Context using a cryptographically-strong random source
// (google/uuid, backed by crypto/rand). Names are prefixed "upgrader_<id>"
// so concurrent runs on the same host never collide.
func New() (*Context, error) {
	runID, err := randomHex10()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run id: %w", err)
	}

	password, err := randomHexBytes(16)
	if err != nil {
		return nil, fmt.Errorf("failed to generate db password: %w", err)
	}

	prefix := fmt.Sprintf("upgrader_%s", runID)
	return &Context{
		RunID:                runID,
		DBContainerName:      prefix + "_db",
		UpgradeContainerName: prefix + "_upgrade",
		NetworkName:          prefix + "_net",
		VolumeName:           prefix + "_data",
		DBUser:               "dbu_" + runID,
		DBPassword:           password,
		BootstrapDBName:      "postgres",
		TargetDBName:         "target",
	}, nil
}

// randomHex10 returns 10 hex characters (40 bits) of entropy from a UUIDv4,
// mirroring the upstream tool's uuid4().hex[:10] run id.
func randomHex10() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	hex := strings.ReplaceAll(id.String(), "-", "")
	return hex[:10], nil
}

// randomHexBytes returns n bytes taken from successive UUIDv4 values,
// hex-encoded, using the same crypto/rand-backed source as the run id. The
// UUID version and variant bits are fixed, so not every returned bit is
// random.
func randomHexBytes(n int) (string, error) {
	var out string
	for len(out) < n*2 {
		id, err := uuid.NewRandom()
		if err != nil {
			return "", err
		}
		out += uuidHex(id)
	}
	return out[:n*2], nil
}

func uuidHex(id uuid.UUID) string {
	raw := id[:]
	const hexdigits = "0123456789abcdef"
	buf := make([]byte, len(raw)*2)
	for i, b := range raw {
		buf[i*2] = hexdigits[b>>4]
		buf[i*2+1] = hexdigits[b&0x0f]
	}
	return string(buf)
}
