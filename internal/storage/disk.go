// Package storage keeps uploaded artifacts on the local filesystem under a
// per-owner directory with collision-free generated names.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"expense-intake/pkg/config"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrInvalidKey = errors.New("invalid storage key")

type Disk struct {
	root          string
	publicBaseURL string
	logger        *zap.Logger
}

func NewDisk(cfg *config.StorageConfig, logger *zap.Logger) (*Disk, error) {
	if err := os.MkdirAll(cfg.UploadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Disk{
		root:          cfg.UploadDir,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		logger:        logger,
	}, nil
}

// Put writes data under owner and returns its key and public URL.
func (d *Disk) Put(ctx context.Context, owner, name string, data []byte) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	dir := safeSegment(owner)
	if err := os.MkdirAll(filepath.Join(d.root, dir), 0755); err != nil {
		return "", "", fmt.Errorf("failed to create owner directory: %w", err)
	}

	key := path.Join(dir, uuid.New().String()+strings.ToLower(filepath.Ext(name)))
	if err := os.WriteFile(filepath.Join(d.root, filepath.FromSlash(key)), data, 0644); err != nil {
		return "", "", fmt.Errorf("failed to save file: %w", err)
	}

	d.logger.Debug("Artifact written", zap.String("key", key), zap.Int("bytes", len(data)))
	return key, d.URL(key), nil
}

// URL is the public reference for key.
func (d *Disk) URL(key string) string {
	return d.publicBaseURL + "/" + key
}

func (d *Disk) Delete(key string) error {
	if key == "" || strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	if err := os.Remove(filepath.Join(d.root, filepath.FromSlash(key))); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func safeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return -1
		}
	}, s)
	if s == "" {
		return "anonymous"
	}
	return s
}
