// Package errs defines the structured error kinds shared across sourcepm's
// components, following the same Type+Unwrap+Suggestion shape the teacher
// uses for registry errors.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// Kind classifies an error for retry/reporting decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindRecipe
	KindFingerprint
	KindDependency
	KindSandbox
	KindExec
	KindHook
	KindBuild
	KindArchive
	KindInstall
	KindRemove
	KindDB
	KindQuota
)

func (k Kind) String() string {
	switch k {
	case KindRecipe:
		return "recipe"
	case KindFingerprint:
		return "fingerprint"
	case KindDependency:
		return "dependency"
	case KindSandbox:
		return "sandbox"
	case KindExec:
		return "exec"
	case KindHook:
		return "hook"
	case KindBuild:
		return "build"
	case KindArchive:
		return "archive"
	case KindInstall:
		return "install"
	case KindRemove:
		return "remove"
	case KindDB:
		return "db"
	case KindQuota:
		return "quota"
	default:
		return "unknown"
	}
}

// Error is sourcepm's structured error type. Package and Stage are
// filled in opportunistically as an error is translated while propagating
// up through the Build Pipeline / Transactional Installer.
type Error struct {
	Kind    Kind
	Package string
	Stage   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	prefix := e.Kind.String()
	if e.Package != "" {
		prefix = fmt.Sprintf("%s[%s]", prefix, e.Package)
	}
	if e.Stage != "" {
		prefix = fmt.Sprintf("%s:%s", prefix, e.Stage)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind around a lower-level cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithPackage returns a copy of e annotated with a package name, the way
// the Build Pipeline and Transactional Installer attach {package, stage}
// context to a leaf-component error (spec §7 BuildError).
func (e *Error) WithPackage(name string) *Error {
	c := *e
	c.Package = name
	return &c
}

// WithStage returns a copy of e annotated with the stage it failed in.
func (e *Error) WithStage(stage string) *Error {
	c := *e
	c.Stage = stage
	return &c
}

// RollbackError reports both the original failure and a failure that
// occurred while attempting to roll it back (§7: "both the original and
// the rollback error must be reported").
type RollbackError struct {
	Original error
	Rollback error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("install: %v (rollback also failed: %v)", e.Original, e.Rollback)
}

func (e *RollbackError) Unwrap() error {
	return e.Original
}

// Suggestion returns an actionable hint for a Kind, or empty if none applies.
func Suggestion(kind Kind) string {
	switch kind {
	case KindQuota:
		return "increase SOURCEPM_CACHE_SIZE_LIMIT or run a deep-clean to free space"
	case KindDependency:
		return "check the recipe's dependency constraints for a cycle or an unsatisfiable version range"
	case KindExec:
		return "the build command may need a longer SOURCEPM_BUILD_TIMEOUT or a missing build dependency"
	case KindInstall:
		return "inspect the reported rollback state before retrying the install"
	default:
		return ""
	}
}

// Retryable reports whether an error looks transient and worth a retry,
// following the same unwrap-chain classification the teacher's registry
// client uses for network errors, generalized to local I/O and process
// execution causes.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr.Err, os.ErrDeadlineExceeded)
	}

	var sourcepmErr *Error
	if errors.As(err, &sourcepmErr) {
		return sourcepmErr.Kind == KindExec
	}

	return false
}
