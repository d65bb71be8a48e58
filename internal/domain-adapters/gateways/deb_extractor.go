package gateways

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/GeekCmore/epwn/internal/domain/interfaces"
)

// DebExtractor unpacks Debian package archives. A .deb is an ar archive whose
// data.tar member (gzip, xz or zstd compressed) holds the installed file tree.
type DebExtractor struct {
	log interfaces.Logger
}

// NewDebExtractor creates a new deb extractor. A nil logger disables logging.
func NewDebExtractor(log interfaces.Logger) *DebExtractor {
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	return &DebExtractor{log: log}
}

// Extract unpacks the data tree of the .deb at debPath into destDir.
func (e *DebExtractor) Extract(debPath, destDir string) error {
	//nolint:gosec // G304: File path debPath is function parameter for extraction
	file, err := os.Open(debPath)
	if err != nil {
		return fmt.Errorf("failed to open deb: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer file.Close()

	reader := ar.NewReader(file)
	for {
		header, err := reader.Next()
		if err == io.EOF {
			return fmt.Errorf("%s: no data.tar member", debPath)
		}
		if err != nil {
			return fmt.Errorf("ar read error: %w", err)
		}

		name := strings.TrimSuffix(strings.TrimSpace(header.Name), "/")
		if !strings.HasPrefix(name, "data.tar") {
			continue
		}

		data, err := decompressor(name, reader)
		if err != nil {
			return err
		}
		if err := e.extractTar(data, destDir); err != nil {
			return fmt.Errorf("extract %s from %s: %w", name, debPath, err)
		}
		e.log.Debug("extracted", interfaces.F("deb", filepath.Base(debPath)), interfaces.F("dest", destDir))
		return nil
	}
}

// decompressor wraps the data.tar member reader according to its extension.
func decompressor(name string, r io.Reader) (io.Reader, error) {
	switch {
	case strings.HasSuffix(name, ".tar"):
		return r, nil
	case strings.HasSuffix(name, ".gz"):
		gzr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gzr, nil
	case strings.HasSuffix(name, ".xz"):
		xzr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create xz reader: %w", err)
		}
		return xzr, nil
	case strings.HasSuffix(name, ".zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	}
	return nil, fmt.Errorf("unsupported data member %q", name)
}

// extractTar unpacks a tar stream into destDir. Symlinks are created in a
// second pass so targets exist first.
func (e *DebExtractor) extractTar(tr io.Reader, destDir string) error {
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	type symlinkInfo struct {
		target   string
		linkname string
	}
	var symlinks []symlinkInfo

	reader := tar.NewReader(tr)
	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("tar read error: %w", err)
		}

		//nolint:gosec // G305: Path traversal validated by HasPrefix check below
		target := filepath.Join(destDir, header.Name)
		if !strings.HasPrefix(filepath.Clean(target), filepath.Clean(destDir)) {
			return fmt.Errorf("invalid file path in archive: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return fmt.Errorf("failed to create parent directory: %w", err)
			}
			//nolint:gosec // G115: Integer overflow from tar header mode is acceptable
			outFile, err := os.OpenFile(target, os.O_CREATE|os.O_RDWR|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return fmt.Errorf("failed to create file: %w", err)
			}
			// Size limit guards against decompression bombs.
			if _, err := io.Copy(outFile, io.LimitReader(reader, 1<<30)); err != nil {
				_ = outFile.Close()
				return fmt.Errorf("failed to write file: %w", err)
			}
			if err := outFile.Close(); err != nil {
				return fmt.Errorf("failed to close file: %w", err)
			}

		case tar.TypeSymlink:
			symlinks = append(symlinks, symlinkInfo{target: target, linkname: header.Linkname})

		default:
			e.log.Debug("ignoring unsupported tar entry",
				interfaces.F("type", header.Typeflag),
				interfaces.F("name", header.Name))
		}
	}

	for _, link := range symlinks {
		if err := os.MkdirAll(filepath.Dir(link.target), 0o750); err != nil {
			return fmt.Errorf("failed to create directory for symlink: %w", err)
		}
		_ = os.Remove(link.target)
		if err := os.Symlink(link.linkname, link.target); err != nil {
			// Some packages ship dangling symlinks; they are not fatal.
			e.log.Warn("failed to create symlink",
				interfaces.F("target", link.target),
				interfaces.F("linkname", link.linkname),
				interfaces.F("error", err))
		}
	}
	return nil
}

// loaderNamePattern matches dynamic loader file names across architectures
// and glibc layouts: ld-linux-x86-64.so.2, ld-linux.so.2,
// ld-linux-aarch64.so.1, ld-2.31.so, ld.so.1.
var loaderNamePattern = regexp.MustCompile(`^ld(-linux(-[a-z0-9-]+)?\.so\.[0-9]+|-[0-9.]+\.so|\.so\.[0-9]+)$`)

// LocateGlibc walks the extracted package tree and returns the paths of
// libc.so.6 and the dynamic loader.
func LocateGlibc(root string) (libcPath, interpPath string, err error) {
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		switch {
		case name == "libc.so.6" && libcPath == "":
			libcPath = path
		case loaderNamePattern.MatchString(name) && interpPath == "":
			interpPath = path
		}
		return nil
	})
	if err != nil {
		return "", "", fmt.Errorf("scan %s: %w", root, err)
	}
	if libcPath == "" {
		return "", "", fmt.Errorf("%s: no libc.so.6 in package tree", root)
	}
	if interpPath == "" {
		return "", "", fmt.Errorf("%s: no dynamic loader in package tree", root)
	}
	return libcPath, interpPath, nil
}
