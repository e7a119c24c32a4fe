package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "runs/job-1.json", "application/json", payload)
	require.NoError(t, err)
	require.Equal(t, "memory://runs/job-1.json", uri)

	payload[0] = 'C'
	stored, ok := store.Object("runs/job-1.json")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))
	require.Equal(t, 1, store.Len())
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), "", "", nil)
	require.Error(t, err)
}

func TestBlobStoreMissingObject(t *testing.T) {
	t.Parallel()

	_, ok := NewBlobStore().Object("nope")
	require.False(t, ok)
}
