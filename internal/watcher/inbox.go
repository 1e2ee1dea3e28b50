package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/cvpost/internal/session"
	"go.uber.org/zap"
)

// Selector starts an upload attempt for a file.
type Selector interface {
	Select(ctx context.Context, f session.File) (session.Snapshot, error)
}

// SelectFiles returns a Handler that opens each inbox file and selects it on sel.
// session.ErrBusy is returned unchanged so the watcher can retry; use IsBusy with WithRetryIf.
func SelectFiles(ctx context.Context, sel Selector, logger *zap.Logger) Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(path string) error {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open inbox file: %w", err)
		}
		defer f.Close()

		snap, err := sel.Select(ctx, session.File{Name: filepath.Base(path), Content: f})
		if err != nil {
			return err
		}
		if snap.Status == session.Failed {
			logger.Warn("inbox file rejected", zap.String("path", path), zap.String("error", snap.ErrorMessage))
			return nil
		}
		logger.Info("inbox file uploaded", zap.String("path", path), zap.String("id", snap.ID))
		return nil
	}
}

// IsBusy reports whether err means another upload was in flight.
func IsBusy(err error) bool {
	return errors.Is(err, session.ErrBusy)
}
