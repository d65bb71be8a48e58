package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	version "github.com/hashicorp/go-version"

	"github.com/GeekCmore/epwn/internal/domain/entities"
	gatewayif "github.com/GeekCmore/epwn/internal/domain/interfaces/gateways"
	"github.com/GeekCmore/epwn/internal/domain/services"
)

// memRepo is an in-memory catalog repository.
type memRepo struct {
	catalog entities.VersionCatalog
}

func (r *memRepo) Load(_ context.Context) (entities.VersionCatalog, error) {
	out := entities.VersionCatalog{Entries: make([]entities.VersionEntry, len(r.catalog.Entries))}
	copy(out.Entries, r.catalog.Entries)
	return out, nil
}

func (r *memRepo) Replace(_ context.Context, catalog entities.VersionCatalog) error {
	r.catalog = catalog
	return nil
}

// stubExtractor returns a fixed requirement.
type stubExtractor struct {
	req *entities.Requirement
	err error
}

func (s *stubExtractor) Extract(_ string) (*entities.Requirement, error) {
	return s.req, s.err
}

// stubVersionSource maps libc paths to exported version sets.
type stubVersionSource struct {
	exports map[string][]*version.Version
}

func (s *stubVersionSource) ExportedVersions(libcPath string) ([]*version.Version, error) {
	set, ok := s.exports[libcPath]
	if !ok {
		return nil, fmt.Errorf("no fixture for %s", libcPath)
	}
	return set, nil
}

// spyPatcher records patch invocations.
type spyPatcher struct {
	patched  []entities.VersionEntry
	restored [][2]string
}

func (s *spyPatcher) Patch(targetPath string, entry entities.VersionEntry, _ entities.PatchOptions) (*entities.PatchResult, error) {
	s.patched = append(s.patched, entry)
	return &entities.PatchResult{TargetPath: targetPath, Interpreter: entry.InterpreterPath}, nil
}

func (s *spyPatcher) Restore(targetPath, backupPath string) error {
	s.restored = append(s.restored, [2]string{targetPath, backupPath})
	return nil
}

// stubArchive publishes a fixed version list.
type stubArchive struct {
	versions []string
}

func (s *stubArchive) Lookup(context.Context, string, string, []gatewayif.PackageKind) ([]gatewayif.PackageFile, error) {
	return nil, gatewayif.ErrNotAvailable
}

func (s *stubArchive) Versions(context.Context, string, string) ([]string, error) {
	return s.versions, nil
}

// stubMaterializer installs a pre-built entry for one version.
type stubMaterializer struct {
	entries map[string]entities.VersionEntry
}

func (s *stubMaterializer) Materialize(_ context.Context, version, arch string, _ []gatewayif.PackageKind) (entities.VersionEntry, error) {
	entry, ok := s.entries[version+"/"+arch]
	if !ok {
		return entities.VersionEntry{}, gatewayif.ErrNotAvailable
	}
	return entry, nil
}

func versionsOf(t *testing.T, raws ...string) []*version.Version {
	t.Helper()
	out := make([]*version.Version, len(raws))
	for i, raw := range raws {
		v, err := version.NewVersion(raw)
		if err != nil {
			t.Fatal(err)
		}
		out[i] = v
	}
	return out
}

func requirement(t *testing.T, arch string, refs ...string) *entities.Requirement {
	t.Helper()
	parsed := versionsOf(t, refs...)
	req := &entities.Requirement{Architecture: arch, ReferencedVersions: parsed}
	req.MaxSymbolVersion = parsed[0]
	for _, v := range parsed[1:] {
		if v.GreaterThan(req.MaxSymbolVersion) {
			req.MaxSymbolVersion = v
		}
	}
	return req
}

// usableEntry creates backing files so the entry passes the resolver's
// usability gate.
func usableEntry(t *testing.T, root, raw, arch string) entities.VersionEntry {
	t.Helper()
	dir := filepath.Join(root, raw, arch)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	libc := filepath.Join(dir, "libc.so.6")
	interp := filepath.Join(dir, "ld.so")
	for _, p := range []string{libc, interp} {
		if err := os.WriteFile(p, []byte("x"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return entities.VersionEntry{
		Version:         entities.MustParseGlibcVersion(raw),
		Architecture:    arch,
		LibcPath:        libc,
		InterpreterPath: interp,
		InstalledAt:     time.Now(),
	}
}

type patchFixture struct {
	repo      *memRepo
	source    *stubVersionSource
	patcher   *spyPatcher
	extractor *stubExtractor
}

func newPatchOrchestrator(f *patchFixture, installer *InstallOrchestrator, archive gatewayif.PackageIndex, cfg PatchOrchestratorConfig) *PatchOrchestrator {
	return NewPatchOrchestrator(
		f.repo,
		services.NewResolver(),
		services.NewCompatibilityChecker(f.source),
		f.extractor,
		f.patcher,
		installer,
		archive,
		cfg,
		nil,
	)
}

func TestPatchTargetPicksSmallestSatisfying(t *testing.T) {
	dir := t.TempDir()
	e27 := usableEntry(t, dir, "2.27-3ubuntu1", "amd64")
	e31 := usableEntry(t, dir, "2.31-0ubuntu9.9", "amd64")
	e35 := usableEntry(t, dir, "2.35-0ubuntu3.1", "amd64")

	f := &patchFixture{
		repo: &memRepo{},
		source: &stubVersionSource{exports: map[string][]*version.Version{
			e31.LibcPath: versionsOf(t, "2.2.5", "2.4", "2.28", "2.29", "2.31"),
			e35.LibcPath: versionsOf(t, "2.2.5", "2.4", "2.28", "2.29", "2.35"),
		}},
		patcher:   &spyPatcher{},
		extractor: &stubExtractor{req: requirement(t, "amd64", "2.4", "2.29")},
	}
	f.repo.catalog.Upsert(e27)
	f.repo.catalog.Upsert(e31)
	f.repo.catalog.Upsert(e35)

	o := newPatchOrchestrator(f, nil, nil, PatchOrchestratorConfig{})
	res, err := o.PatchTarget(context.Background(), "/tmp/app")
	if err != nil {
		t.Fatalf("PatchTarget() error = %v", err)
	}
	if len(f.patcher.patched) != 1 || f.patcher.patched[0].Version.Raw != "2.31-0ubuntu9.9" {
		t.Errorf("patched with %+v, want 2.31-0ubuntu9.9", f.patcher.patched)
	}
	if res.TargetPath != "/tmp/app" {
		t.Errorf("result target = %s", res.TargetPath)
	}
}

func TestPatchTargetRetriesAfterRejection(t *testing.T) {
	dir := t.TempDir()
	e31 := usableEntry(t, dir, "2.31-0ubuntu9.9", "amd64")
	e35 := usableEntry(t, dir, "2.35-0ubuntu3.1", "amd64")

	// 2.31 does not ship the 2.28 version node; 2.35 does.
	f := &patchFixture{
		repo: &memRepo{},
		source: &stubVersionSource{exports: map[string][]*version.Version{
			e31.LibcPath: versionsOf(t, "2.2.5", "2.4", "2.27", "2.31"),
			e35.LibcPath: versionsOf(t, "2.2.5", "2.4", "2.27", "2.28", "2.35"),
		}},
		patcher:   &spyPatcher{},
		extractor: &stubExtractor{req: requirement(t, "amd64", "2.4", "2.28")},
	}
	f.repo.catalog.Upsert(e31)
	f.repo.catalog.Upsert(e35)

	o := newPatchOrchestrator(f, nil, nil, PatchOrchestratorConfig{})
	if _, err := o.PatchTarget(context.Background(), "/tmp/app"); err != nil {
		t.Fatalf("PatchTarget() error = %v", err)
	}
	if len(f.patcher.patched) != 1 || f.patcher.patched[0].Version.Raw != "2.35-0ubuntu3.1" {
		t.Errorf("patched with %+v, want 2.35-0ubuntu3.1", f.patcher.patched)
	}
}

func TestPatchTargetAutoInstalls(t *testing.T) {
	dir := t.TempDir()
	installed := usableEntry(t, dir, "2.31-0ubuntu9.9", "amd64")

	f := &patchFixture{
		repo: &memRepo{},
		source: &stubVersionSource{exports: map[string][]*version.Version{
			installed.LibcPath: versionsOf(t, "2.2.5", "2.28", "2.29", "2.31"),
		}},
		patcher:   &spyPatcher{},
		extractor: &stubExtractor{req: requirement(t, "amd64", "2.29")},
	}
	installer := NewInstallOrchestrator(f.repo, &stubMaterializer{
		entries: map[string]entities.VersionEntry{"2.31-0ubuntu9.9/amd64": installed},
	}, nil, nil)
	archive := &stubArchive{versions: []string{"2.27-3ubuntu1", "2.31-0ubuntu9.9", "2.35-0ubuntu3.1"}}

	o := newPatchOrchestrator(f, installer, archive, PatchOrchestratorConfig{AutoInstall: true})
	if _, err := o.PatchTarget(context.Background(), "/tmp/app"); err != nil {
		t.Fatalf("PatchTarget() error = %v", err)
	}
	if len(f.patcher.patched) != 1 || f.patcher.patched[0].Version.Raw != "2.31-0ubuntu9.9" {
		t.Errorf("patched with %+v, want auto-installed 2.31-0ubuntu9.9", f.patcher.patched)
	}
	if _, ok := f.repo.catalog.Find("2.31-0ubuntu9.9", "amd64"); !ok {
		t.Error("auto-installed entry missing from the catalog")
	}
}

func TestPatchTargetWithoutAutoInstall(t *testing.T) {
	f := &patchFixture{
		repo:      &memRepo{},
		source:    &stubVersionSource{},
		patcher:   &spyPatcher{},
		extractor: &stubExtractor{req: requirement(t, "amd64", "2.29")},
	}

	o := newPatchOrchestrator(f, nil, nil, PatchOrchestratorConfig{})
	_, err := o.PatchTarget(context.Background(), "/tmp/app")
	if kind := entities.PatchErrorKindOf(err); kind != entities.PatchErrNotFound {
		t.Fatalf("PatchTarget() error = %v, want kind %s", err, entities.PatchErrNotFound)
	}
	if len(f.patcher.patched) != 0 {
		t.Error("patcher invoked despite resolution failure")
	}
}

func TestPatchTargetNoRequirement(t *testing.T) {
	f := &patchFixture{
		repo:      &memRepo{},
		source:    &stubVersionSource{},
		patcher:   &spyPatcher{},
		extractor: &stubExtractor{req: nil},
	}

	o := newPatchOrchestrator(f, nil, nil, PatchOrchestratorConfig{})
	if _, err := o.PatchTarget(context.Background(), "/tmp/app"); !errors.Is(err, ErrNoRequirement) {
		t.Fatalf("PatchTarget() error = %v, want ErrNoRequirement", err)
	}
}

func TestPlanDoesNotPatch(t *testing.T) {
	dir := t.TempDir()
	e31 := usableEntry(t, dir, "2.31-0ubuntu9.9", "amd64")

	f := &patchFixture{
		repo: &memRepo{},
		source: &stubVersionSource{exports: map[string][]*version.Version{
			e31.LibcPath: versionsOf(t, "2.2.5", "2.29", "2.31"),
		}},
		patcher:   &spyPatcher{},
		extractor: &stubExtractor{req: requirement(t, "amd64", "2.29")},
	}
	f.repo.catalog.Upsert(e31)

	o := newPatchOrchestrator(f, nil, nil, PatchOrchestratorConfig{})
	report, err := o.Plan(context.Background(), "/tmp/app")
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if report.Candidate == nil || report.Candidate.Version.Raw != "2.31-0ubuntu9.9" {
		t.Errorf("plan candidate = %+v", report.Candidate)
	}
	if report.NeedsFetch {
		t.Error("plan reports needs-fetch with a valid candidate")
	}
	if len(f.patcher.patched) != 0 {
		t.Error("dry run patched the target")
	}
}

func TestPlanReportsNeedsFetch(t *testing.T) {
	f := &patchFixture{
		repo:      &memRepo{},
		source:    &stubVersionSource{},
		patcher:   &spyPatcher{},
		extractor: &stubExtractor{req: requirement(t, "amd64", "2.29")},
	}

	o := newPatchOrchestrator(f, nil, nil, PatchOrchestratorConfig{})
	report, err := o.Plan(context.Background(), "/tmp/app")
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if !report.NeedsFetch {
		t.Error("plan did not report needs-fetch on an empty catalog")
	}
}

func TestPatchWithExplicitVersion(t *testing.T) {
	dir := t.TempDir()
	e35 := usableEntry(t, dir, "2.35-0ubuntu3.1", "amd64")

	f := &patchFixture{
		repo: &memRepo{},
		source: &stubVersionSource{exports: map[string][]*version.Version{
			e35.LibcPath: versionsOf(t, "2.2.5", "2.29", "2.35"),
		}},
		patcher:   &spyPatcher{},
		extractor: &stubExtractor{req: requirement(t, "amd64", "2.29")},
	}
	f.repo.catalog.Upsert(e35)

	o := newPatchOrchestrator(f, nil, nil, PatchOrchestratorConfig{})
	if _, err := o.PatchWith(context.Background(), "/tmp/app", "2.35-0ubuntu3.1"); err != nil {
		t.Fatalf("PatchWith() error = %v", err)
	}
	if len(f.patcher.patched) != 1 || f.patcher.patched[0].Version.Raw != "2.35-0ubuntu3.1" {
		t.Errorf("patched with %+v", f.patcher.patched)
	}

	_, err := o.PatchWith(context.Background(), "/tmp/app", "2.99")
	if kind := entities.PatchErrorKindOf(err); kind != entities.PatchErrNotFound {
		t.Errorf("PatchWith(uninstalled) error = %v, want kind %s", err, entities.PatchErrNotFound)
	}
}

func TestRestoreDefaultsBackupPath(t *testing.T) {
	f := &patchFixture{
		repo:      &memRepo{},
		source:    &stubVersionSource{},
		patcher:   &spyPatcher{},
		extractor: &stubExtractor{},
	}
	o := newPatchOrchestrator(f, nil, nil, PatchOrchestratorConfig{})
	if err := o.Restore("/tmp/app", ""); err != nil {
		t.Fatal(err)
	}
	if len(f.patcher.restored) != 1 || f.patcher.restored[0][1] != "/tmp/app.bak" {
		t.Errorf("restored = %v", f.patcher.restored)
	}
}
