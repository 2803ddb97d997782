package validate

import (
	"os"
	"regexp"
	"strings"

	"github.com/dbupgrader/dbupgrader/internal/errtype"
)

// validateManifest reads and parses a module's manifest file, checking that
// it declares a non-empty name and, if present, a list-typed depends, and
// (when targetMajor is given) that its declared version is compatible.
func validateManifest(moduleDir, targetMajor string) error {
	var manifestPath string
	for _, name := range manifestFileNames {
		candidate := moduleDir + string(os.PathSeparator) + name
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			manifestPath = candidate
			break
		}
	}
	if manifestPath == "" {
		return errtype.New(errtype.KindInputFormat, "missing manifest file in addon module %q", moduleDir)
	}

	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return errtype.Wrap(errtype.KindRuntime, err, "could not read manifest file %s", manifestPath)
	}

	data, err := parsePythonLiteralDict(string(raw))
	if err != nil {
		return errtype.New(errtype.KindInputFormat,
			"invalid manifest syntax in %q: the manifest must be a dictionary literal (%v)", manifestPath, err)
	}

	name, ok := data["name"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return errtype.New(errtype.KindInputFormat, "manifest %q must define a non-empty 'name'", manifestPath)
	}

	if depends, present := data["depends"]; present {
		list, ok := depends.([]interface{})
		if !ok {
			return errtype.New(errtype.KindInputFormat, "manifest %q has invalid 'depends': must be a list of module names", manifestPath)
		}
		for _, dep := range list {
			s, ok := dep.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return errtype.New(errtype.KindInputFormat, "manifest %q has invalid 'depends': must be a list of module names", manifestPath)
			}
		}
	}

	manifestVersion, hasVersion := data["version"]
	if hasVersion {
		versionStr, ok := manifestVersion.(string)
		if !ok {
			return errtype.New(errtype.KindInputFormat, "manifest %q has invalid 'version' value", manifestPath)
		}
		if targetMajor != "" {
			if err := validateManifestVersionForTarget(manifestPath, versionStr, targetMajor); err != nil {
				return err
			}
		}
	}

	return nil
}

var manifestVersionPattern = regexp.MustCompile(`^\d+\.\d+(\.\d+){0,3}$`)

func validateManifestVersionForTarget(manifestPath, manifestVersion, targetMajor string) error {
	clean := strings.TrimSpace(manifestVersion)
	if clean == "" {
		return nil
	}

	if !manifestVersionPattern.MatchString(clean) {
		return errtype.New(errtype.KindInputFormat,
			"manifest %q has invalid version %q; use versions like 'x.y', 'x.y.z', or target-prefixed variants such as %q",
			manifestPath, manifestVersion, targetMajor+".x.y")
	}

	parts := strings.Split(clean, ".")
	targetParts := strings.Split(targetMajor, ".")
	if len(targetParts) < 2 {
		return nil
	}

	if len(parts) >= 4 && (parts[0] != targetParts[0] || parts[1] != targetParts[1]) {
		return errtype.New(errtype.KindInputFormat,
			"manifest %q uses version %q, which is incompatible with target %q; use addons from the target branch/version before upgrading",
			manifestPath, manifestVersion, targetMajor)
	}

	return nil
}
