package gateways

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GeekCmore/epwn/internal/domain/interfaces"
	gatewayif "github.com/GeekCmore/epwn/internal/domain/interfaces/gateways"
)

// Downloader fetches package files over HTTP with bounded concurrency.
type Downloader struct {
	httpClient  *http.Client
	concurrency int
	log         interfaces.Logger
}

// NewDownloader creates a new downloader. Concurrency below one falls back to
// sequential downloads; a nil logger disables logging.
func NewDownloader(concurrency int, log interfaces.Logger) *Downloader {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	return &Downloader{
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // Long timeout for large downloads
		},
		concurrency: concurrency,
		log:         log,
	}
}

// Fetch downloads every file into destDir and returns the local path per
// package kind. One failed download cancels the rest.
func (d *Downloader) Fetch(ctx context.Context, files []gatewayif.PackageFile, destDir string) (map[gatewayif.PackageKind]string, error) {
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	paths := make(map[gatewayif.PackageKind]string, len(files))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, file := range files {
		file := file
		g.Go(func() error {
			dest := filepath.Join(destDir, filepath.Base(file.URL))
			if err := d.downloadFile(ctx, file.URL, dest); err != nil {
				return fmt.Errorf("download %s: %w", file.URL, err)
			}
			mu.Lock()
			paths[file.Kind] = dest
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// downloadFile downloads a single URL to dest.
func (d *Downloader) downloadFile(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "epwn/1.0")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	//nolint:errcheck // Defer close on HTTP response body
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	//nolint:gosec // G304: File path dest is function parameter for download destination
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	written, err := io.Copy(out, resp.Body)
	if err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dest)
		return fmt.Errorf("failed to close file: %w", err)
	}

	d.log.Debug("downloaded",
		interfaces.F("file", filepath.Base(dest)),
		interfaces.F("bytes", written))
	return nil
}
