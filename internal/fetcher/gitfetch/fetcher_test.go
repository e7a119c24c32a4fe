package gitfetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/git-clone-worker/internal/clone"
)

func TestFetchExistingDestination(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "octo", "hello"), 0o750))

	f := New(Config{}, zap.NewNop())
	called := false
	f.clone = func(context.Context, string, *git.CloneOptions) error {
		called = true
		return nil
	}

	_, err := f.Fetch(context.Background(), "octo/hello", base)
	require.ErrorIs(t, err, clone.ErrCheckoutExists)
	require.False(t, called)
}

func TestFetchClonesIntoBasePath(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	f := New(Config{URLTemplate: "https://git.example.com/%s", Depth: 1}, nil)
	var gotOpts *git.CloneOptions
	f.clone = func(_ context.Context, path string, opts *git.CloneOptions) error {
		gotOpts = opts
		return os.MkdirAll(filepath.Join(path, ".git"), 0o750)
	}

	dest, err := f.Fetch(context.Background(), "octo/hello", base)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(base, "octo", "hello"), dest)
	require.Equal(t, "https://git.example.com/octo/hello", gotOpts.URL)
	require.Equal(t, 1, gotOpts.Depth)
	require.DirExists(t, filepath.Join(dest, ".git"))
}

func TestFetchRemovesPartialCheckoutOnError(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	f := New(Config{}, zap.NewNop())
	boom := errors.New("network unreachable")
	f.clone = func(_ context.Context, path string, _ *git.CloneOptions) error {
		require.NoError(t, os.MkdirAll(filepath.Join(path, "partial"), 0o750))
		return boom
	}

	_, err := f.Fetch(context.Background(), "octo/hello", base)
	require.ErrorIs(t, err, boom)
	require.NoDirExists(t, filepath.Join(base, "octo", "hello"))
}

func TestFetchMapsRepositoryAlreadyExists(t *testing.T) {
	t.Parallel()

	f := New(Config{}, zap.NewNop())
	f.clone = func(context.Context, string, *git.CloneOptions) error {
		return git.ErrRepositoryAlreadyExists
	}

	_, err := f.Fetch(context.Background(), "octo/hello", t.TempDir())
	require.ErrorIs(t, err, clone.ErrCheckoutExists)
}

func TestCheckoutPathRejectsTraversal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		repo    string
		wantErr bool
	}{
		{name: "nested", repo: "octo/hello"},
		{name: "flat", repo: "hello"},
		{name: "empty", repo: "  ", wantErr: true},
		{name: "parent", repo: "../escape", wantErr: true},
		{name: "base itself", repo: ".", wantErr: true},
		{name: "sneaky", repo: "octo/../../escape", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := CheckoutPath("/srv/checkouts", tc.repo)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
