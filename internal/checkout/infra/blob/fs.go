// Package blob stores customization artifacts on the local filesystem.
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
)

var _ ports.BlobStore = (*FSWriter)(nil)

type FSWriter struct {
	root string
}

func NewFSWriter(root string) *FSWriter {
	return &FSWriter{root: root}
}

// Put writes data under root at the slash-separated relative path and
// returns that path. Paths escaping root are rejected.
func (w *FSWriter) Put(ctx context.Context, path string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("blob: invalid path %q", path)
	}

	out := filepath.Join(w.root, clean)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", fmt.Errorf("blob: mkdir for %q: %w", path, err)
	}
	tmp := out + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("blob: write %q: %w", path, err)
	}
	if err := os.Rename(tmp, out); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("blob: commit %q: %w", path, err)
	}
	return filepath.ToSlash(clean), nil
}
