package gcs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	bytes.Buffer
	writeErr error
	closeErr error
	closed   bool
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	return w.Buffer.Write(p)
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return w.closeErr
}

func storeWith(t *testing.T, w *fakeWriter, got *[]string) *BlobStore {
	t.Helper()
	s, err := newBlobStore(Config{Bucket: "manifests"}, func(_ context.Context, bucket, object, contentType string) io.WriteCloser {
		*got = append(*got, bucket, object, contentType)
		return w
	})
	require.NoError(t, err)
	return s
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
	_, err = newBlobStore(Config{}, nil)
	require.Error(t, err)
}

func TestPutObjectWritesAndCloses(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	var got []string
	s := storeWith(t, w, &got)

	uri, err := s.PutObject(context.Background(), "runs/job-1.json", "application/json", []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, "gs://manifests/runs/job-1.json", uri)
	require.Equal(t, []string{"manifests", "runs/job-1.json", "application/json"}, got)
	require.Equal(t, "{}", w.String())
	require.True(t, w.closed)
}

func TestPutObjectErrors(t *testing.T) {
	t.Parallel()

	var got []string
	_, err := storeWith(t, &fakeWriter{}, &got).PutObject(context.Background(), "", "", nil)
	require.Error(t, err)

	w := &fakeWriter{writeErr: errors.New("quota")}
	_, err = storeWith(t, w, &got).PutObject(context.Background(), "a.json", "", []byte("x"))
	require.ErrorContains(t, err, "quota")
	require.True(t, w.closed)

	w = &fakeWriter{closeErr: errors.New("precondition")}
	_, err = storeWith(t, w, &got).PutObject(context.Background(), "a.json", "", []byte("x"))
	require.ErrorContains(t, err, "close writer")
}
