package gateways

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/GeekCmore/epwn/internal/domain/entities"
	"github.com/GeekCmore/epwn/internal/domain/interfaces"
	gatewayif "github.com/GeekCmore/epwn/internal/domain/interfaces/gateways"
)

const (
	launchpadBaseURL = "https://api.launchpad.net/1.0"

	maxRetries  = 3
	baseBackoff = 500 * time.Millisecond

	// Pagination safety cap for version enumeration.
	maxIndexPages = 50
)

// LaunchpadGateway resolves glibc package downloads through the Launchpad
// published-binaries API for the Ubuntu primary archive.
type LaunchpadGateway struct {
	httpClient *http.Client
	baseURL    string
	log        interfaces.Logger
}

// NewLaunchpadGateway creates a new Launchpad gateway. A nil logger disables
// logging.
func NewLaunchpadGateway(log interfaces.Logger) *LaunchpadGateway {
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	return &LaunchpadGateway{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: launchpadBaseURL,
		log:     log,
	}
}

// publishedBinary is one publication record from the Launchpad API.
type publishedBinary struct {
	BinaryPackageName    string `json:"binary_package_name"`
	BinaryPackageVersion string `json:"binary_package_version"`
	DistroArchSeriesLink string `json:"distro_arch_series_link"`
	SelfLink             string `json:"self_link"`
	Status               string `json:"status"`
}

// publishedBinaryPage is one page of a Launchpad collection response.
type publishedBinaryPage struct {
	Entries            []publishedBinary `json:"entries"`
	NextCollectionLink string            `json:"next_collection_link"`
}

// Lookup returns the downloadable files for the requested package kinds. The
// runtime package is mandatory: a version with no libc6 build for the
// architecture yields ErrNotAvailable. Debug and source packages are best
// effort and logged when absent.
func (g *LaunchpadGateway) Lookup(ctx context.Context, version, arch string, kinds []gatewayif.PackageKind) ([]gatewayif.PackageFile, error) {
	var files []gatewayif.PackageFile
	for _, kind := range kinds {
		pub, err := g.findPublication(ctx, string(kind), version, arch)
		if err != nil {
			if err == gatewayif.ErrNotAvailable && kind != gatewayif.PackageLibc {
				g.log.Warn("package not published, skipping",
					interfaces.F("package", string(kind)),
					interfaces.F("version", version),
					interfaces.F("arch", arch))
				continue
			}
			return nil, err
		}
		debURL, err := g.debFileURL(ctx, pub, arch)
		if err != nil {
			return nil, err
		}
		files = append(files, gatewayif.PackageFile{Kind: kind, URL: debURL})
	}
	return files, nil
}

// Versions enumerates the glibc versions published for an architecture,
// optionally filtered by version prefix. Results are sorted ascending.
func (g *LaunchpadGateway) Versions(ctx context.Context, arch, prefix string) ([]string, error) {
	query := url.Values{}
	query.Set("ws.op", "getPublishedBinaries")
	query.Set("binary_name", string(gatewayif.PackageLibc))
	query.Set("exact_match", "true")
	query.Set("status", "Published")
	pageURL := fmt.Sprintf("%s/ubuntu/+archive/primary?%s", g.baseURL, query.Encode())

	seen := map[string]entities.GlibcVersion{}
	for page := 0; pageURL != "" && page < maxIndexPages; page++ {
		var pub publishedBinaryPage
		if err := g.getJSON(ctx, pageURL, &pub); err != nil {
			return nil, err
		}
		for _, entry := range pub.Entries {
			if !matchesArch(entry.DistroArchSeriesLink, arch) {
				continue
			}
			raw := entry.BinaryPackageVersion
			if prefix != "" && !strings.HasPrefix(raw, prefix) {
				continue
			}
			v, err := entities.ParseGlibcVersion(raw)
			if err != nil {
				g.log.Debug("skipping unparseable version", interfaces.F("version", raw))
				continue
			}
			seen[raw] = v
		}
		pageURL = pub.NextCollectionLink
	}

	versions := make([]entities.GlibcVersion, 0, len(seen))
	for _, v := range seen {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Compare(versions[j]) < 0 })

	out := make([]string, len(versions))
	for i, v := range versions {
		out[i] = v.Raw
	}
	return out, nil
}

// findPublication locates the Published record for one (package, version,
// arch) triple.
func (g *LaunchpadGateway) findPublication(ctx context.Context, pkg, version, arch string) (*publishedBinary, error) {
	query := url.Values{}
	query.Set("ws.op", "getPublishedBinaries")
	query.Set("binary_name", pkg)
	query.Set("exact_match", "true")
	query.Set("version", version)
	query.Set("status", "Published")
	pageURL := fmt.Sprintf("%s/ubuntu/+archive/primary?%s", g.baseURL, query.Encode())

	var page publishedBinaryPage
	if err := g.getJSON(ctx, pageURL, &page); err != nil {
		return nil, err
	}
	for i, entry := range page.Entries {
		if entry.Status == "Published" && matchesArch(entry.DistroArchSeriesLink, arch) {
			return &page.Entries[i], nil
		}
	}
	return nil, gatewayif.ErrNotAvailable
}

// debFileURL asks Launchpad for the publication's file URLs and picks the
// .deb matching the architecture.
func (g *LaunchpadGateway) debFileURL(ctx context.Context, pub *publishedBinary, arch string) (string, error) {
	var urls []string
	if err := g.getJSON(ctx, pub.SelfLink+"?ws.op=binaryFileUrls", &urls); err != nil {
		return "", err
	}
	for _, u := range urls {
		if strings.HasSuffix(u, "_"+arch+".deb") {
			return u, nil
		}
	}
	for _, u := range urls {
		if strings.HasSuffix(u, "_all.deb") {
			return u, nil
		}
	}
	if len(urls) > 0 {
		return urls[0], nil
	}
	return "", fmt.Errorf("%s %s: publication has no files", pub.BinaryPackageName, pub.BinaryPackageVersion)
}

// getJSON fetches a URL with retry and decodes the JSON response into out.
func (g *LaunchpadGateway) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.doWithRetry(req)
	if err != nil {
		return fmt.Errorf("Launchpad API request failed: %w", err)
	}
	//nolint:errcheck // Defer close on HTTP response body
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err != nil {
			return fmt.Errorf("Launchpad API error %d (failed to read response)", resp.StatusCode)
		}
		return fmt.Errorf("Launchpad API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse Launchpad response: %w", err)
	}
	return nil
}

// doWithRetry executes an HTTP request with exponential backoff retry.
func (g *LaunchpadGateway) doWithRetry(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(calculateBackoff(attempt - 1)):
			}
		}

		resp, err = g.httpClient.Do(req)
		if err != nil {
			// Network errors are retryable.
			if attempt < maxRetries && req.Context().Err() == nil {
				continue
			}
			return nil, err
		}

		if !isRetryableStatus(resp.StatusCode) {
			return resp, nil
		}

		//nolint:errcheck,gosec // G104: Best effort close before retry
		resp.Body.Close()
		if attempt < maxRetries {
			continue
		}
		return resp, nil
	}

	return resp, err
}

// calculateBackoff returns the delay before retry number attempt.
func calculateBackoff(attempt int) time.Duration {
	return baseBackoff * (1 << uint(attempt))
}

// isRetryableStatus reports whether the HTTP status is worth retrying.
func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// matchesArch reports whether a distro_arch_series link (".../ubuntu/focal/amd64")
// names the architecture.
func matchesArch(link, arch string) bool {
	return strings.HasSuffix(link, "/"+arch)
}
