package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
)

const artifactDir = "customized_files"

// storeArtifacts decodes customization payloads, writes them to blob
// storage and records the references on the order. It runs after the order
// is committed; failures are logged and never undo the order.
func (s *Service) storeArtifacts(ctx context.Context, order *domain.Order, lines []domain.PricedLine) {
	refs := make(map[int64]string)
	var first string
	used := make(map[string]bool)

	for i, l := range lines {
		if l.Customization == nil || i >= len(order.Items) {
			continue
		}
		if s.blobs == nil {
			slog.WarnContext(ctx, "customization dropped, no blob store configured", "order_id", order.ID, "product_id", l.ProductID)
			continue
		}

		data, err := base64.StdEncoding.DecodeString(l.Customization.Data)
		if err != nil {
			slog.ErrorContext(ctx, "customization decode failed", "order_id", order.ID, "product_id", l.ProductID, "error", err)
			continue
		}

		item := order.Items[i]
		path := artifactPath(order.ID, l.ProductID, l.Customization)
		if used[path] {
			path = strings.TrimSuffix(path, filepath.Ext(path)) + fmt.Sprintf("_%d", item.ID) + filepath.Ext(path)
		}
		used[path] = true

		ref, err := s.blobs.Put(ctx, path, data)
		if err != nil {
			slog.ErrorContext(ctx, "customization write failed", "order_id", order.ID, "product_id", l.ProductID, "error", err)
			continue
		}
		refs[item.ID] = ref
		if first == "" {
			first = ref
		}
	}

	if len(refs) == 0 {
		return
	}

	err := s.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		return tx.SetArtifacts(ctx, order.ID, first, refs)
	})
	if err != nil {
		slog.ErrorContext(ctx, "customization references not saved", "order_id", order.ID, "error", err)
		return
	}

	order.Customized = true
	order.CustomizedFile = first
	for i := range order.Items {
		if ref, ok := refs[order.Items[i].ID]; ok {
			order.Items[i].ArtifactRef = ref
		}
	}
}

// artifactPath is customized_files/custom_<order>_<product>.<ext>.
func artifactPath(orderID string, productID int64, c *domain.Customization) string {
	return fmt.Sprintf("%s/custom_%s_%d%s", artifactDir, orderID, productID, artifactExt(c))
}

func artifactExt(c *domain.Customization) string {
	if ext := strings.ToLower(filepath.Ext(c.FileName)); ext != "" && isSafeExt(ext) {
		return ext
	}
	if c.ContentType != "" {
		if exts, err := mime.ExtensionsByType(c.ContentType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	return ".bin"
}

func isSafeExt(ext string) bool {
	if len(ext) < 2 || len(ext) > 8 {
		return false
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
