// Package gitfetch implements clone.Fetcher using go-git.
package gitfetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/git-clone-worker/internal/clone"
)

// Config controls how repository names become clone URLs.
type Config struct {
	// URLTemplate is a fmt pattern with a single %s for the repository name.
	URLTemplate string
	// Depth limits history; 0 clones everything.
	Depth int
}

// Fetcher clones repositories into basePath/<name>.
type Fetcher struct {
	cfg    Config
	clone  func(ctx context.Context, path string, opts *git.CloneOptions) error
	logger *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.URLTemplate == "" {
		cfg.URLTemplate = "https://github.com/%s.git"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:    cfg,
		clone:  plainClone,
		logger: logger,
	}
}

func plainClone(ctx context.Context, path string, opts *git.CloneOptions) error {
	_, err := git.PlainCloneContext(ctx, path, false, opts)
	return err
}

// URL renders the clone URL for a repository name.
func (f *Fetcher) URL(name string) string {
	return fmt.Sprintf(f.cfg.URLTemplate, name)
}

// Fetch clones name into basePath/name and returns the checkout path. An
// existing destination yields clone.ErrCheckoutExists without touching it.
func (f *Fetcher) Fetch(ctx context.Context, name string, basePath string) (string, error) {
	dest, err := CheckoutPath(basePath, name)
	if err != nil {
		return "", err
	}
	if _, err := os.Lstat(dest); err == nil {
		return "", fmt.Errorf("%s: %w", dest, clone.ErrCheckoutExists)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat destination: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}

	opts := &git.CloneOptions{
		URL:   f.URL(name),
		Depth: f.cfg.Depth,
	}
	f.logger.Debug("cloning repository", zap.String("repo", name), zap.String("url", opts.URL))
	if err := f.clone(ctx, dest, opts); err != nil {
		if errors.Is(err, git.ErrRepositoryAlreadyExists) {
			return "", fmt.Errorf("%s: %w", dest, clone.ErrCheckoutExists)
		}
		if rmErr := os.RemoveAll(dest); rmErr != nil {
			f.logger.Warn("failed to remove partial checkout", zap.String("path", dest), zap.Error(rmErr))
		}
		return "", fmt.Errorf("clone %s: %w", opts.URL, err)
	}
	return dest, nil
}

// CheckoutPath joins basePath and name, refusing names that escape basePath.
func CheckoutPath(basePath, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("repository name is required")
	}
	cleanBase := filepath.Clean(basePath)
	dest := filepath.Clean(filepath.Join(cleanBase, name))
	if !strings.HasPrefix(dest, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("repository name %q escapes base path", name)
	}
	return dest, nil
}
