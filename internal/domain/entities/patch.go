package entities

import (
	"errors"
	"fmt"
)

// PatchErrorKind classifies patch failures. Every kind leaves the target file
// byte-identical to its pre-call state.
type PatchErrorKind string

const (
	// PatchErrFormat: the target is not a supported ELF binary.
	PatchErrFormat PatchErrorKind = "format"
	// PatchErrArchMismatch: the candidate's architecture does not match the
	// target binary's.
	PatchErrArchMismatch PatchErrorKind = "arch-mismatch"
	// PatchErrInterpreterPathTooLong: the new interpreter path does not fit
	// the target's fixed-size PT_INTERP segment. Structural, not transient.
	PatchErrInterpreterPathTooLong PatchErrorKind = "interpreter-path-too-long"
	// PatchErrNoSearchPathSlot: no dynamic-section slot or string capacity is
	// available for the library search path. Structural, not transient.
	PatchErrNoSearchPathSlot PatchErrorKind = "no-search-path-slot"
	// PatchErrBackupFailed: the pre-patch backup could not be written; the
	// target was not mutated.
	PatchErrBackupFailed PatchErrorKind = "backup-failed"
	// PatchErrVerificationFailed: the rewritten bytes did not read back as
	// written; the original file was restored.
	PatchErrVerificationFailed PatchErrorKind = "verification-failed"
	// PatchErrNotFound: catalog lookup miss or missing backing file.
	PatchErrNotFound PatchErrorKind = "not-found"
	// PatchErrConflict: another patch operation holds the target's lock.
	PatchErrConflict PatchErrorKind = "conflict"
)

// Retryable reports whether retrying the same operation can ever succeed.
// Structural limitations of the target binary are permanent.
func (k PatchErrorKind) Retryable() bool {
	switch k {
	case PatchErrInterpreterPathTooLong, PatchErrNoSearchPathSlot, PatchErrFormat, PatchErrArchMismatch:
		return false
	}
	return true
}

// PatchError is a typed patch failure.
type PatchError struct {
	Kind   PatchErrorKind
	Detail string
	Err    error
}

func (e *PatchError) Error() string {
	msg := fmt.Sprintf("patch %s: %s", e.Kind, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PatchError) Unwrap() error {
	return e.Err
}

// NewPatchError builds a PatchError with a formatted detail string.
func NewPatchError(kind PatchErrorKind, format string, args ...interface{}) *PatchError {
	return &PatchError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// WrapPatchError builds a PatchError around an underlying cause.
func WrapPatchError(kind PatchErrorKind, err error, format string, args ...interface{}) *PatchError {
	return &PatchError{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// PatchErrorKindOf extracts the kind from an error chain, or "" if the error
// is not a PatchError.
func PatchErrorKindOf(err error) PatchErrorKind {
	var pe *PatchError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// FormatError reports a file that is not a supported ELF binary, or whose
// dynamic-linking metadata is malformed or unsupported.
type FormatError struct {
	Path   string
	Detail string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Detail)
}

// IsFormatError reports whether err is (or wraps) a FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// PatchOptions controls one patch invocation.
type PatchOptions struct {
	// Backup copies the original file before any mutation. An existing backup
	// file is kept, never overwritten. Enabled by default through
	// configuration.
	Backup bool
	// BackupPath overrides the default "<target>.bak" backup location.
	BackupPath string
	// SearchPath controls DT_RUNPATH rewriting.
	SearchPath SearchPathMode
}

// SearchPathMode selects the library search path strategy.
type SearchPathMode string

const (
	// SearchPathAuto rewrites the search path only when the candidate's
	// library directory is not on the default loader search path.
	SearchPathAuto SearchPathMode = "auto"
	// SearchPathAlways rewrites the search path unconditionally.
	SearchPathAlways SearchPathMode = "always"
	// SearchPathNever leaves the dynamic section untouched.
	SearchPathNever SearchPathMode = "never"
)

// PatchPlan is the computed rewrite for one target, created by the resolver
// and compatibility checker and consumed exactly once by the patcher.
type PatchPlan struct {
	TargetPath     string
	Entry          VersionEntry
	NewInterpreter string
	NewSearchPath  string
	BackupPath     string
}

// PatchResult describes a committed patch.
type PatchResult struct {
	TargetPath  string
	Interpreter string
	SearchPath  string
	BackupPath  string
}
