package gateways

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/GeekCmore/epwn/internal/domain/entities"
	"github.com/GeekCmore/epwn/internal/domain/interfaces"
)

// ElfPatcher rewrites a binary's dynamic-linking metadata so the loader
// resolves a chosen glibc install instead of the host default. One
// invocation runs Validated -> BackedUp -> Rewritten -> Verified ->
// Committed; any failure before Committed leaves the target file untouched.
type ElfPatcher struct {
	log interfaces.Logger
}

// NewElfPatcher creates a new ELF patcher. A nil logger disables logging.
func NewElfPatcher(log interfaces.Logger) *ElfPatcher {
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	return &ElfPatcher{log: log}
}

// Patch points targetPath at the candidate entry's interpreter and library
// directory. All rewriting happens on a working copy; the target is replaced
// atomically only after the rewritten image verifies. Re-patching with the
// same candidate is a byte-identical no-op.
func (p *ElfPatcher) Patch(targetPath string, entry entities.VersionEntry, opts entities.PatchOptions) (*entities.PatchResult, error) {
	if opts.SearchPath == "" {
		opts.SearchPath = entities.SearchPathAuto
	}
	if !entry.Usable() {
		return nil, entities.NewPatchError(entities.PatchErrNotFound,
			"glibc %s (%s) has missing backing files", entry.Version, entry.Architecture)
	}

	info, err := os.Stat(targetPath)
	if err != nil {
		return nil, entities.WrapPatchError(entities.PatchErrNotFound, err, "target %s", targetPath)
	}

	// Exclusive advisory lock on the target for the rest of the operation:
	// two concurrent patches of the same file must not interleave.
	unlock, err := lockTarget(targetPath)
	if err != nil {
		return nil, err
	}
	defer unlock()

	original, err := os.ReadFile(targetPath)
	if err != nil {
		return nil, entities.WrapPatchError(entities.PatchErrNotFound, err, "read target %s", targetPath)
	}

	// Validate. The working copy is what gets rewritten; the original bytes
	// stay pristine for backup and rollback comparison.
	working := make([]byte, len(original))
	copy(working, original)
	view, err := parseView(working)
	if err != nil {
		return nil, entities.WrapPatchError(entities.PatchErrFormat, err, "%s", targetPath)
	}
	arch := architectureOf(view.file.Machine)
	if arch == "" {
		return nil, entities.NewPatchError(entities.PatchErrFormat, "%s: unsupported machine %v", targetPath, view.file.Machine)
	}
	if arch != entry.Architecture {
		return nil, entities.NewPatchError(entities.PatchErrArchMismatch,
			"target is %s but glibc %s is %s", arch, entry.Version, entry.Architecture)
	}

	// Locate the interpreter slot and bounds-check the replacement path.
	interpOff, interpSize, ok := view.interpreterSlot()
	if !ok {
		return nil, entities.NewPatchError(entities.PatchErrFormat,
			"%s: no interpreter segment (statically linked?)", targetPath)
	}
	newInterp := entry.InterpreterPath

	// Decide the search path strategy before mutating anything.
	newSearchPath, searchPlan, perr := p.planSearchPath(view, entry, opts.SearchPath)
	if perr != nil {
		return nil, perr
	}

	plan := entities.PatchPlan{
		TargetPath:     targetPath,
		Entry:          entry,
		NewInterpreter: newInterp,
		NewSearchPath:  newSearchPath,
	}
	if opts.Backup {
		plan.BackupPath = opts.BackupPath
		if plan.BackupPath == "" {
			plan.BackupPath = targetPath + ".bak"
		}
	}

	// Backup before any mutation. A file that cannot be preserved is never
	// patched. An existing backup is never overwritten: it holds the earliest
	// original, which repeated patches must not clobber.
	backupFresh := false
	if plan.BackupPath != "" {
		switch _, err := os.Stat(plan.BackupPath); {
		case errors.Is(err, os.ErrNotExist):
			if err := writeFileAs(plan.BackupPath, original, info.Mode()); err != nil {
				return nil, entities.WrapPatchError(entities.PatchErrBackupFailed, err, "backup to %s", plan.BackupPath)
			}
			backupFresh = true
			p.log.Debug("backup written", interfaces.F("path", plan.BackupPath))
		case err != nil:
			return nil, entities.WrapPatchError(entities.PatchErrBackupFailed, err, "stat backup %s", plan.BackupPath)
		}
	}
	fail := func(pe *entities.PatchError) (*entities.PatchResult, error) {
		if backupFresh {
			// The target was never mutated; drop the orphan backup.
			_ = os.Remove(plan.BackupPath)
		}
		return nil, pe
	}

	// Rewrite the working copy.
	if !view.writeCString(interpOff, interpSize, newInterp) {
		return fail(entities.NewPatchError(entities.PatchErrInterpreterPathTooLong,
			"interpreter path %q needs %d bytes but the segment holds %d",
			newInterp, len(newInterp)+1, interpSize))
	}
	if searchPlan != nil {
		if pe := searchPlan(); pe != nil {
			return fail(pe)
		}
	}

	// Verify: re-parse the rewritten image and confirm the bytes read back
	// exactly as written.
	if pe := verifyRewrite(working, newInterp, newSearchPath); pe != nil {
		return fail(pe)
	}

	// Commit: write-temp-then-rename so a crash mid-write never leaves a
	// half-patched file.
	if err := commitReplace(targetPath, working, info.Mode()); err != nil {
		return fail(entities.WrapPatchError(entities.PatchErrVerificationFailed, err, "commit %s", targetPath))
	}

	p.log.Info("patched",
		interfaces.F("target", targetPath),
		interfaces.F("glibc", entry.Version.Raw),
		interfaces.F("interpreter", newInterp))

	return &entities.PatchResult{
		TargetPath:  targetPath,
		Interpreter: newInterp,
		SearchPath:  newSearchPath,
		BackupPath:  plan.BackupPath,
	}, nil
}

// planSearchPath decides how the DT_RUNPATH rewrite will happen and returns
// a deferred mutation. The returned apply func runs after the backup exists.
func (p *ElfPatcher) planSearchPath(view *elfView, entry entities.VersionEntry, mode entities.SearchPathMode) (string, func() *entities.PatchError, error) {
	if mode == entities.SearchPathNever {
		return "", nil, nil
	}
	dir := entry.LibraryDir()
	if mode == entities.SearchPathAuto && onDefaultSearchPath(dir) {
		return "", nil, nil
	}

	existing, found, err := view.searchPathEntry()
	if err != nil {
		return "", nil, entities.WrapPatchError(entities.PatchErrFormat, err, "dynamic section")
	}

	if found {
		strOff, strtabSize, err := view.dynstrBounds()
		if err != nil {
			return "", nil, entities.WrapPatchError(entities.PatchErrFormat, err, "dynamic string table")
		}
		valOff := int(existing.val)
		if valOff < 0 || valOff >= strtabSize {
			return "", nil, entities.NewPatchError(entities.PatchErrFormat,
				"search path string offset %#x outside string table", valOff)
		}
		// The slot is the existing string plus its terminator; it cannot
		// grow without relocating the string table.
		capacity := cStringLen(view.data[strOff+valOff:strOff+strtabSize]) + 1
		apply := func() *entities.PatchError {
			if !view.writeCString(strOff+valOff, capacity, dir) {
				return entities.NewPatchError(entities.PatchErrNoSearchPathSlot,
					"search path %q needs %d bytes but the existing entry holds %d", dir, len(dir)+1, capacity)
			}
			return nil
		}
		return dir, apply, nil
	}

	// No RPATH/RUNPATH entry: injecting one needs both a spare dynamic slot
	// and unused string table capacity.
	slot, haveSlot, err := view.spareDynSlot()
	if err != nil {
		return "", nil, entities.WrapPatchError(entities.PatchErrFormat, err, "dynamic section")
	}
	if !haveSlot {
		return "", nil, entities.NewPatchError(entities.PatchErrNoSearchPathSlot,
			"no spare dynamic slot for a search path entry")
	}
	slackOff, slackLen, err := view.dynstrSlack()
	if err != nil {
		return "", nil, entities.WrapPatchError(entities.PatchErrFormat, err, "dynamic string table")
	}
	if len(dir)+1 > slackLen {
		return "", nil, entities.NewPatchError(entities.PatchErrNoSearchPathSlot,
			"search path %q needs %d bytes but the string table has %d spare", dir, len(dir)+1, slackLen)
	}
	strOff, _, err := view.dynstrBounds()
	if err != nil {
		return "", nil, entities.WrapPatchError(entities.PatchErrFormat, err, "dynamic string table")
	}
	apply := func() *entities.PatchError {
		if !view.writeCString(strOff+slackOff, slackLen, dir) {
			return entities.NewPatchError(entities.PatchErrNoSearchPathSlot,
				"search path %q needs %d bytes but the string table has %d spare", dir, len(dir)+1, slackLen)
		}
		if err := view.setDynEntry(slot, tagRunPath, uint64(slackOff)); err != nil {
			return entities.WrapPatchError(entities.PatchErrFormat, err, "rewrite dynamic entry")
		}
		return nil
	}
	return dir, apply, nil
}

// verifyRewrite re-parses the rewritten image with the same structural
// checks as extraction and confirms the patched fields.
func verifyRewrite(data []byte, wantInterp, wantSearchPath string) *entities.PatchError {
	view, err := parseView(data)
	if err != nil {
		return entities.WrapPatchError(entities.PatchErrVerificationFailed, err, "rewritten image does not parse")
	}
	if got := view.interpreter(); got != wantInterp {
		return entities.NewPatchError(entities.PatchErrVerificationFailed,
			"interpreter reads back %q, want %q", got, wantInterp)
	}
	if wantSearchPath != "" {
		entry, found, err := view.searchPathEntry()
		if err != nil || !found {
			return entities.NewPatchError(entities.PatchErrVerificationFailed, "search path entry missing after rewrite")
		}
		got, err := view.dynString(int(entry.val))
		if err != nil || got != wantSearchPath {
			return entities.NewPatchError(entities.PatchErrVerificationFailed,
				"search path reads back %q, want %q", got, wantSearchPath)
		}
	}
	return nil
}

// Restore copies the backup over the target, reproducing the pre-patch file.
func (p *ElfPatcher) Restore(targetPath, backupPath string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	mode := os.FileMode(0o755)
	if info, err := os.Stat(targetPath); err == nil {
		mode = info.Mode()
	}
	if err := commitReplace(targetPath, data, mode); err != nil {
		return fmt.Errorf("restore %s: %w", targetPath, err)
	}
	p.log.Info("restored", interfaces.F("target", targetPath), interfaces.F("backup", backupPath))
	return nil
}

// lockTarget takes a non-blocking exclusive flock on path.
func lockTarget(path string) (func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, entities.WrapPatchError(entities.PatchErrNotFound, err, "open target %s", path)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, entities.NewPatchError(entities.PatchErrConflict,
				"another patch operation holds the lock on %s", path)
		}
		return nil, entities.WrapPatchError(entities.PatchErrConflict, err, "lock target %s", path)
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}

// writeFileAs writes data to path with the given mode, fsyncing before
// close.
func writeFileAs(path string, data []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// commitReplace atomically replaces path with data via a same-directory
// temp file and rename, preserving the original permission bits.
func commitReplace(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".epwn-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Chmod(mode.Perm()); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
