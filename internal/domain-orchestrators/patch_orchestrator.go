package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/GeekCmore/epwn/internal/domain/entities"
	"github.com/GeekCmore/epwn/internal/domain/interfaces"
	gatewayif "github.com/GeekCmore/epwn/internal/domain/interfaces/gateways"
	"github.com/GeekCmore/epwn/internal/domain/interfaces/repositories"
	"github.com/GeekCmore/epwn/internal/domain/services"
)

// ErrNoRequirement reports a target with no versioned glibc dependency:
// there is nothing to resolve or patch.
var ErrNoRequirement = errors.New("binary has no versioned glibc dependency")

// maxResolveAttempts bounds the resolve/check/exclude retry loop.
const maxResolveAttempts = 8

// RequirementSource extracts a binary's glibc requirement.
type RequirementSource interface {
	Extract(path string) (*entities.Requirement, error)
}

// Patcher rewrites a target binary against a chosen glibc install.
type Patcher interface {
	Patch(targetPath string, entry entities.VersionEntry, opts entities.PatchOptions) (*entities.PatchResult, error)
	Restore(targetPath, backupPath string) error
}

// PatchOrchestratorConfig holds patch workflow defaults, normally sourced
// from the user configuration.
type PatchOrchestratorConfig struct {
	// Backup writes <target>.bak before mutating the target.
	Backup bool
	// SearchPath is the DT_RUNPATH strategy.
	SearchPath entities.SearchPathMode
	// Kinds lists the package kinds fetched on auto-install.
	Kinds []gatewayif.PackageKind
	// AutoInstall fetches a satisfying version from the archive when no
	// installed one qualifies.
	AutoInstall bool
}

// PatchOrchestrator drives the full patch workflow: extract the requirement,
// resolve it against the catalog, verify exported-version compatibility, and
// patch. Candidates rejected by the checker are excluded and resolution
// retried; a catalog miss falls back to the archive when auto-install is on.
type PatchOrchestrator struct {
	repo      repositories.CatalogRepository
	resolver  *services.Resolver
	checker   *services.CompatibilityChecker
	extractor RequirementSource
	patcher   Patcher
	installer *InstallOrchestrator
	archive   gatewayif.PackageIndex
	config    PatchOrchestratorConfig
	log       interfaces.Logger
}

// NewPatchOrchestrator creates a new patch orchestrator. The installer and
// archive may be nil, disabling auto-install. A nil logger disables logging.
func NewPatchOrchestrator(
	repo repositories.CatalogRepository,
	resolver *services.Resolver,
	checker *services.CompatibilityChecker,
	extractor RequirementSource,
	patcher Patcher,
	installer *InstallOrchestrator,
	archive gatewayif.PackageIndex,
	config PatchOrchestratorConfig,
	log interfaces.Logger,
) *PatchOrchestrator {
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	return &PatchOrchestrator{
		repo:      repo,
		resolver:  resolver,
		checker:   checker,
		extractor: extractor,
		patcher:   patcher,
		installer: installer,
		archive:   archive,
		config:    config,
		log:       log,
	}
}

// PlanReport is the dry-run outcome for one target.
type PlanReport struct {
	Requirement *entities.Requirement
	// Candidate is the entry that would be used, nil when nothing qualifies.
	Candidate *entities.VersionEntry
	// NeedsFetch is set when no installed version satisfies the requirement.
	NeedsFetch bool
	// Rejections lists candidates excluded by the compatibility checker.
	Rejections []services.Rejection
}

// Plan resolves a target without patching or installing anything.
func (o *PatchOrchestrator) Plan(ctx context.Context, targetPath string) (*PlanReport, error) {
	req, err := o.extractor.Extract(targetPath)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNoRequirement
	}

	catalog, err := o.repo.Load(ctx)
	if err != nil {
		return nil, err
	}

	report := &PlanReport{Requirement: req}
	var excluded []entities.VersionEntry
	for attempt := 0; attempt < maxResolveAttempts; attempt++ {
		candidate, needs := o.resolver.Resolve(*req, catalog, excluded...)
		if needs != nil {
			report.NeedsFetch = true
			return report, nil
		}
		rejection, err := o.checker.Check(*candidate, *req)
		if err != nil {
			return nil, err
		}
		if rejection != nil {
			report.Rejections = append(report.Rejections, *rejection)
			excluded = append(excluded, *candidate)
			continue
		}
		report.Candidate = candidate
		return report, nil
	}
	report.NeedsFetch = true
	return report, nil
}

// PatchTarget resolves and patches one target.
func (o *PatchOrchestrator) PatchTarget(ctx context.Context, targetPath string) (*entities.PatchResult, error) {
	req, err := o.extractor.Extract(targetPath)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNoRequirement
	}

	catalog, err := o.repo.Load(ctx)
	if err != nil {
		return nil, err
	}

	var excluded []entities.VersionEntry
	var rejections []services.Rejection
	fetched := false
	for attempt := 0; attempt < maxResolveAttempts; attempt++ {
		candidate, needs := o.resolver.Resolve(*req, catalog, excluded...)
		if needs != nil {
			if fetched || !o.config.AutoInstall || o.installer == nil || o.archive == nil {
				return nil, o.exhaustedError(*req, rejections)
			}
			entry, err := o.installFor(ctx, *req)
			if err != nil {
				return nil, err
			}
			catalog.Upsert(entry)
			fetched = true
			continue
		}

		rejection, err := o.checker.Check(*candidate, *req)
		if err != nil {
			return nil, err
		}
		if rejection != nil {
			o.log.Warn("candidate rejected",
				interfaces.F("version", candidate.Version.Raw),
				interfaces.F("reason", rejection.Reason))
			rejections = append(rejections, *rejection)
			excluded = append(excluded, *candidate)
			continue
		}

		return o.patcher.Patch(targetPath, *candidate, entities.PatchOptions{
			Backup:     o.config.Backup,
			SearchPath: o.config.SearchPath,
		})
	}
	return nil, o.exhaustedError(*req, rejections)
}

// PatchWith patches a target against an explicitly chosen installed version,
// still enforcing the compatibility check.
func (o *PatchOrchestrator) PatchWith(ctx context.Context, targetPath, version string) (*entities.PatchResult, error) {
	req, err := o.extractor.Extract(targetPath)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNoRequirement
	}

	catalog, err := o.repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	entry, ok := catalog.Find(version, req.Architecture)
	if !ok {
		return nil, entities.NewPatchError(entities.PatchErrNotFound,
			"glibc %s (%s) is not installed", version, req.Architecture)
	}

	rejection, err := o.checker.Check(entry, *req)
	if err != nil {
		return nil, err
	}
	if rejection != nil {
		return nil, fmt.Errorf("%s", rejection.String())
	}

	return o.patcher.Patch(targetPath, entry, entities.PatchOptions{
		Backup:     o.config.Backup,
		SearchPath: o.config.SearchPath,
	})
}

// Restore copies a backup over its target.
func (o *PatchOrchestrator) Restore(targetPath, backupPath string) error {
	if backupPath == "" {
		backupPath = targetPath + ".bak"
	}
	return o.patcher.Restore(targetPath, backupPath)
}

// installFor picks the smallest published version satisfying the requirement
// and installs it.
func (o *PatchOrchestrator) installFor(ctx context.Context, req entities.Requirement) (entities.VersionEntry, error) {
	published, err := o.archive.Versions(ctx, req.Architecture, "")
	if err != nil {
		return entities.VersionEntry{}, fmt.Errorf("query archive: %w", err)
	}

	var pick *entities.GlibcVersion
	for _, raw := range published {
		v, err := entities.ParseGlibcVersion(raw)
		if err != nil {
			continue
		}
		if !v.Satisfies(req.MaxSymbolVersion) {
			continue
		}
		if pick == nil || v.Compare(*pick) < 0 {
			c := v
			pick = &c
		}
	}
	if pick == nil {
		return entities.VersionEntry{}, fmt.Errorf("no published glibc satisfies GLIBC_%s for %s: %w",
			req.MaxSymbolVersion, req.Architecture, gatewayif.ErrNotAvailable)
	}

	o.log.Info("installing glibc for requirement",
		interfaces.F("version", pick.Raw),
		interfaces.F("arch", req.Architecture))
	return o.installer.Install(ctx, pick.Raw, req.Architecture, o.config.Kinds)
}

func (o *PatchOrchestrator) exhaustedError(req entities.Requirement, rejections []services.Rejection) error {
	msg := fmt.Sprintf("no installed glibc satisfies GLIBC_%s for %s", req.MaxSymbolVersion, req.Architecture)
	if len(rejections) > 0 {
		reasons := make([]string, len(rejections))
		for i, r := range rejections {
			reasons[i] = r.String()
		}
		msg += "; rejected: " + strings.Join(reasons, "; ")
	}
	return entities.NewPatchError(entities.PatchErrNotFound, "%s", msg)
}
