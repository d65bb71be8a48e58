package services

import (
	"errors"
	"strings"
	"testing"
	"time"

	version "github.com/hashicorp/go-version"
)

// stubVersionSource serves canned exported version sets keyed by libc path.
type stubVersionSource struct {
	sets map[string][]string
	err  error
}

func (s *stubVersionSource) ExportedVersions(libcPath string) ([]*version.Version, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []*version.Version
	for _, raw := range s.sets[libcPath] {
		out = append(out, version.Must(version.NewVersion(raw)))
	}
	return out, nil
}

func TestCheckAcceptsSupersetExports(t *testing.T) {
	candidate := installedEntry(t, "2.35-0ubuntu3", "amd64", time.Now())
	source := &stubVersionSource{sets: map[string][]string{
		candidate.LibcPath: {"2.2.5", "2.27", "2.28", "2.34", "2.35"},
	}}

	rejection, err := NewCompatibilityChecker(source).Check(candidate, requirement(t, "amd64", "2.34", "2.2.5", "2.27", "2.34"))
	if err != nil {
		t.Fatal(err)
	}
	if rejection != nil {
		t.Errorf("unexpected rejection: %v", rejection)
	}
}

func TestCheckRejectsMissingVersionNode(t *testing.T) {
	// Numerically newer release that does not ship the 2.28 node.
	candidate := installedEntry(t, "2.36-0ubuntu4", "amd64", time.Now())
	source := &stubVersionSource{sets: map[string][]string{
		candidate.LibcPath: {"2.2.5", "2.27", "2.34", "2.36"},
	}}

	rejection, err := NewCompatibilityChecker(source).Check(candidate, requirement(t, "amd64", "2.28", "2.27", "2.28"))
	if err != nil {
		t.Fatal(err)
	}
	if rejection == nil {
		t.Fatal("want rejection for missing GLIBC_2.28 node")
	}
	if !strings.Contains(rejection.Reason, "2.28") {
		t.Errorf("reason does not name the missing version: %q", rejection.Reason)
	}
}

func TestCheckImpliesVersionsOlderThanOldestExport(t *testing.T) {
	// Builds that prune ancient compat nodes still serve references older
	// than their oldest node.
	candidate := installedEntry(t, "2.35-0ubuntu3", "amd64", time.Now())
	source := &stubVersionSource{sets: map[string][]string{
		candidate.LibcPath: {"2.17", "2.27", "2.35"},
	}}

	rejection, err := NewCompatibilityChecker(source).Check(candidate, requirement(t, "amd64", "2.27", "2.2.5", "2.27"))
	if err != nil {
		t.Fatal(err)
	}
	if rejection != nil {
		t.Errorf("reference below oldest export rejected: %v", rejection)
	}
}

func TestCheckRejectsEmptyExportSet(t *testing.T) {
	candidate := installedEntry(t, "2.35-0ubuntu3", "amd64", time.Now())
	source := &stubVersionSource{sets: map[string][]string{}}

	rejection, err := NewCompatibilityChecker(source).Check(candidate, requirement(t, "amd64", "2.27", "2.27"))
	if err != nil {
		t.Fatal(err)
	}
	if rejection == nil {
		t.Error("want rejection for library exporting no symbol versions")
	}
}

func TestCheckPropagatesInspectionError(t *testing.T) {
	candidate := installedEntry(t, "2.35-0ubuntu3", "amd64", time.Now())
	source := &stubVersionSource{err: errors.New("unreadable")}

	_, err := NewCompatibilityChecker(source).Check(candidate, requirement(t, "amd64", "2.27", "2.27"))
	if err == nil {
		t.Error("want error when the candidate library cannot be inspected")
	}
}
