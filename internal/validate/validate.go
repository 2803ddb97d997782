// Package validate classifies and checks the source package and extra
// addons locations a run is given: local-vs-URL, extension allowlists, the
// HTTPS transport policy, URL reachability, and addon manifest structure.
package validate

import (
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dbupgrader/dbupgrader/internal/errtype"
)

// SourceExtensions are the accepted extensions for the main source package.
var SourceExtensions = map[string]bool{".zip": true, ".dump": true}

// AddonsZipExtension is the only accepted archive extension for extra addons.
const AddonsZipExtension = ".zip"

// Logger is the narration capability used when the insecure-HTTP policy is
// exercised.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Service validates locations against the extension and transport policy.
type Service struct {
	AllowInsecureHTTP bool
	Logger            Logger
	HTTPClient        *http.Client
}

// New builds a Service with a 30s-timeout HTTP client, matching the original
// tool's probe_url timeout.
func New(allowInsecureHTTP bool, logger Logger) *Service {
	return &Service{
		AllowInsecureHTTP: allowInsecureHTTP,
		Logger:            logger,
		HTTPClient:        &http.Client{Timeout: 30 * time.Second},
	}
}

// IsURL reports whether location has an http(s) scheme.
func IsURL(location string) bool {
	parsed, err := url.Parse(location)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(parsed.Scheme)
	return scheme == "http" || scheme == "https"
}

// LocationExtension returns the lowercased file extension of a local path or
// URL path component.
func LocationExtension(location string) string {
	p := location
	if IsURL(location) {
		parsed, err := url.Parse(location)
		if err == nil {
			p = parsed.Path
		}
	}
	return strings.ToLower(path.Ext(filepath.ToSlash(p)))
}

// EnsureSupportedSourceExtension rejects anything but .zip/.dump.
func EnsureSupportedSourceExtension(location string) error {
	if !SourceExtensions[LocationExtension(location)] {
		return errtype.New(errtype.KindInputFormat, "%s", errtype.Catalog("invalid_source_format"))
	}
	return nil
}

// EnsureSupportedAddonsExtension rejects anything but .zip for archive-form
// addons.
func EnsureSupportedAddonsExtension(location string) error {
	if LocationExtension(location) != AddonsZipExtension {
		return errtype.New(errtype.KindInputFormat, "%s", errtype.Catalog("invalid_addons_format"))
	}
	return nil
}

// EnforceHTTPSPolicy rejects plain HTTP unless AllowInsecureHTTP is set, in
// which case it logs a warning and proceeds.
func (s *Service) EnforceHTTPSPolicy(location, label string) error {
	if !IsURL(location) {
		return nil
	}
	parsed, _ := url.Parse(location)
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" {
		return nil
	}
	if !s.AllowInsecureHTTP {
		return errtype.New(errtype.KindTransportPolicy, "%s", errtype.Catalog("insecure_http", label))
	}
	if s.Logger != nil {
		s.Logger.Printf("insecure HTTP enabled for %s: %s", label, location)
	}
	return nil
}

// ProbeURL enforces transport policy, then confirms reachability with a HEAD
// request, falling back to GET when HEAD is rejected (some hosts disallow
// HEAD on download endpoints).
func (s *Service) ProbeURL(location, label string) error {
	if err := s.EnforceHTTPSPolicy(location, label); err != nil {
		return err
	}

	var lastErr error
	for _, method := range []string{http.MethodHead, http.MethodGet} {
		req, err := http.NewRequest(method, location, nil)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := s.HTTPClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 400 {
			return nil
		}
		lastErr = errtype.New(errtype.KindNetwork, "%s returned status %d", location, resp.StatusCode)
	}

	return errtype.Wrap(errtype.KindNetwork, lastErr, "%s is not accessible: %s", label, location)
}

// ValidateSourceAccessibility checks the source location (extension, then
// existence-or-reachability) and, if extraAddons is non-empty, the addons
// location too. targetMajor, when non-empty, is used to cross-check addon
// manifest versions.
func (s *Service) ValidateSourceAccessibility(source, extraAddons, targetMajor string) error {
	if err := EnsureSupportedSourceExtension(source); err != nil {
		return err
	}

	if IsURL(source) {
		if err := s.ProbeURL(source, "source URL"); err != nil {
			return err
		}
	} else {
		info, err := os.Stat(source)
		if err != nil {
			return errtype.New(errtype.KindInputFormat, "%s", errtype.Catalog("source_not_found", source))
		}
		if info.IsDir() {
			return errtype.New(errtype.KindInputFormat, "source path must be a file: %s", source)
		}
	}

	if extraAddons == "" {
		return nil
	}

	if IsURL(extraAddons) {
		if err := EnsureSupportedAddonsExtension(extraAddons); err != nil {
			return err
		}
		return s.ProbeURL(extraAddons, "extra addons URL")
	}

	info, err := os.Stat(extraAddons)
	if err != nil {
		return errtype.New(errtype.KindInputFormat, "%s", errtype.Catalog("addons_not_found", extraAddons))
	}

	if info.IsDir() {
		return ValidateAddonsStructure(extraAddons, targetMajor)
	}
	return EnsureSupportedAddonsExtension(extraAddons)
}

// ValidateAddonsStructure discovers every module directory under addonsPath
// and validates each module's manifest.
func ValidateAddonsStructure(addonsPath, targetMajor string) error {
	info, err := os.Stat(addonsPath)
	if err != nil || !info.IsDir() {
		return errtype.New(errtype.KindInputFormat, "extra addons directory not found: %s", addonsPath)
	}

	moduleDirs, err := discoverModuleDirs(addonsPath)
	if err != nil {
		return err
	}
	if len(moduleDirs) == 0 {
		return errtype.New(errtype.KindInputFormat,
			"no addon modules found in %q; provide a directory containing at least one valid module", addonsPath)
	}

	for _, dir := range moduleDirs {
		if err := validateManifest(dir, targetMajor); err != nil {
			return err
		}
	}
	return nil
}

var manifestFileNames = []string{"__manifest__.py", "__openerp__.py"}

func isModuleDir(dir string) bool {
	for _, name := range manifestFileNames {
		if info, err := os.Stat(filepath.Join(dir, name)); err == nil && !info.IsDir() {
			return true
		}
	}
	return false
}

func discoverModuleDirs(root string) ([]string, error) {
	discovered := map[string]bool{}

	if isModuleDir(root) {
		abs, _ := filepath.Abs(root)
		discovered[abs] = true
	}

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		name := info.Name()
		isManifest := false
		for _, m := range manifestFileNames {
			if name == m {
				isManifest = true
				break
			}
		}
		if !isManifest {
			return nil
		}
		if isHiddenOrCachePath(path) {
			return nil
		}
		abs, absErr := filepath.Abs(filepath.Dir(path))
		if absErr != nil {
			return absErr
		}
		discovered[abs] = true
		return nil
	})
	if err != nil {
		return nil, errtype.Wrap(errtype.KindRuntime, err, "failed to walk addons directory %s", root)
	}

	result := make([]string, 0, len(discovered))
	for dir := range discovered {
		result = append(result, dir)
	}
	sortStrings(result)
	return result, nil
}

func isHiddenOrCachePath(p string) bool {
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == "" {
			continue
		}
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
