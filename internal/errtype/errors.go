// Package errtype defines the tagged error taxonomy shared by every
// dbupgrader service.
package errtype

import "fmt"

// Kind classifies a failure so the orchestrator can route it to the state
// store and manifest writer without inspecting message text.
type Kind string

const (
	KindInputFormat      Kind = "input-format"
	KindTransportPolicy  Kind = "transport-policy"
	KindNetwork          Kind = "network"
	KindToolMissing      Kind = "tool-missing"
	KindRuntime          Kind = "runtime"
	KindDataIntegrity    Kind = "data-integrity"
	KindProgress         Kind = "progress"
	KindResumeConflict   Kind = "resume-conflict"
	KindFatalMigration   Kind = "fatal-migration"
	KindTransientMigrate Kind = "transient-migration"
	KindInternal         Kind = "internal"
)

// Error is the single sum type returned by every fallible operation in the
// core. It carries enough context for the orchestrator's step wrapper to
// record a failure without re-deriving a user message.
type Error struct {
	Kind    Kind
	Message string
	// Suggestion is the actionable next step shown alongside Message.
	Suggestion string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Suggestion != "" {
		msg = fmt.Sprintf("%s Suggested action: %s", msg, e.Suggestion)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind with no suggestion.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithSuggestion attaches an actionable next step and returns the receiver
// for chaining at the construction site.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// catalogEntry is a (what, next) pair, mirroring the original implementation's
// errors_catalog.py shape.
type catalogEntry struct {
	what string
	next string
}

var catalog = map[string]catalogEntry{
	"invalid_source_format": {
		what: "Invalid source format. Supported formats are `.zip` and `.dump`.",
		next: "Use a local or remote source ending with `.zip` or `.dump`.",
	},
	"invalid_addons_format": {
		what: "Invalid addons format. Remote or file addons must be a `.zip` file.",
		next: "Provide a directory or `.zip` package containing valid extension modules.",
	},
	"insecure_http": {
		what: "%s uses insecure HTTP.",
		next: "Switch to HTTPS, or set AllowPlaintextHTTP only for trusted endpoints.",
	},
	"source_not_found": {
		what: "Source file not found: %s",
		next: "Check the path or download the source file before retrying.",
	},
	"addons_not_found": {
		what: "Extra addons path not found: %s",
		next: "Provide an existing directory, zip file, or reachable URL for addons.",
	},
	"upgrade_step_failed": {
		what: "Upgrade step to %s failed.",
		next: "Inspect output/odoo.log and container logs, then resume with --resume.",
	},
	"db_not_ready": {
		what: "Database failed to become ready.",
		next: "Check Docker logs and available resources, then retry.",
	},
	"loop_detected": {
		what: "Upgrade loop detected at version %s. The database version is not progressing.",
		next: "Inspect the migration container logs for silently-failing scripts.",
	},
	"no_progress": {
		what: "Upgrade did not progress: stayed at %s after targeting %s.",
		next: "Inspect output/odoo.log for the failed migration step and retry.",
	},
	"unsupported_dump_version": {
		what: "The binary dump was produced by a newer database engine than this runtime supports.",
		next: "Bump db_engine_version in Settings and retry.",
	},
}

// Catalog renders a catalog entry by key with the given format arguments,
// joining "what" and "next" the way the original tool's error catalog does.
// It panics on an unknown key. New error messages belong in this catalog,
// not constructed ad hoc, so an unknown key is a programming error.
func Catalog(key string, args ...interface{}) string {
	entry, ok := catalog[key]
	if !ok {
		panic(fmt.Sprintf("errtype: unknown catalog key %q", key))
	}
	what := entry.what
	if len(args) > 0 {
		what = fmt.Sprintf(entry.what, args...)
	}
	return fmt.Sprintf("%s Suggested action: %s", what, entry.next)
}
