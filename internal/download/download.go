// Package download fetches remote dataset archives and unpacks them.
package download

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/klauspost/compress/gzip"
	"github.com/vk/trainforge/internal/ctxlog"
)

// Fetcher retrieves a remote resource into a local file.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) error
}

// HTTPFetcher downloads over HTTP(S).
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher returns a fetcher backed by a pooled client that does not
// share global transport state.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: cleanhttp.DefaultPooledClient()}
}

// Fetch writes the body of url to dest. The file is written to a temporary
// name first and renamed on success so that an interrupted download never
// leaves a truncated file under dest.
func (f *HTTPFetcher) Fetch(ctx context.Context, url, dest string) error {
	logger := ctxlog.FromContext(ctx).With("url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}
	client := f.Client
	if client == nil {
		client = cleanhttp.DefaultClient()
	}

	logger.Info("Downloading.")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download of %s failed with status: %s", url, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return err
	}

	logger.Info("Download complete.", "size", humanize.Bytes(uint64(n)), "dest", dest)
	return nil
}

// ExtractTarGz unpacks a gzip-compressed tar archive into dir. Entries that
// would escape dir are rejected.
func ExtractTarGz(ctx context.Context, archive, dir string) error {
	logger := ctxlog.FromContext(ctx)

	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to open gzip stream %s: %w", archive, err)
	}
	defer gz.Close()

	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	var files int
	var total int64
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", archive, err)
		}

		target := filepath.Join(root, filepath.FromSlash(hdr.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes destination", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
			if err != nil {
				return err
			}
			n, err := io.Copy(out, tr)
			if closeErr := out.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return fmt.Errorf("failed to extract %s: %w", hdr.Name, err)
			}
			files++
			total += n
		default:
			logger.Debug("Skipping archive entry.", "name", hdr.Name, "type", hdr.Typeflag)
		}
	}

	logger.Debug("Archive extracted.", "archive", archive, "files", files, "size", humanize.Bytes(uint64(total)))
	return nil
}
