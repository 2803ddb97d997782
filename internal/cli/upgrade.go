// Package cli provides shared helpers for CLI commands.
package cli

import (
	"errors"
	"strings"

	"github.com/dbupgrader/dbupgrader/internal/settings"
)

// UpgradeRequest represents a validated set of flags for an upgrade run.
type UpgradeRequest struct {
	Source      string
	TargetMajor string
	ExtraAddons string
}

// Validation errors.
var (
	ErrSourceRequired = errors.New("--source flag is required")
	ErrTargetRequired = errors.New("--target flag is required")
	ErrInvalidTarget  = errors.New("--target must be one of the supported major versions")
)

// ParseUpgradeRequest validates and parses the source and target flags into
// an UpgradeRequest. It enforces:
// - source must not be empty
// - target must not be empty and must be a supported major version
func ParseUpgradeRequest(source, target, extraAddons string) (*UpgradeRequest, error) {
	normalizedSource := strings.TrimSpace(source)
	if normalizedSource == "" {
		return nil, ErrSourceRequired
	}

	normalizedTarget := strings.TrimSpace(target)
	if normalizedTarget == "" {
		return nil, ErrTargetRequired
	}
	if !settings.IsSupportedMajor(normalizedTarget) {
		return nil, ErrInvalidTarget
	}

	return &UpgradeRequest{
		Source:      normalizedSource,
		TargetMajor: normalizedTarget,
		ExtraAddons: strings.TrimSpace(extraAddons),
	}, nil
}
