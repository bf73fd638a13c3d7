package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBlobStoreUploadMissingBucket(t *testing.T) {
	store := NewLocalBlobStore(t.TempDir(), "http://localhost:8090")

	_, err := store.Upload(context.Background(), "qr-codes", "a.png", []byte("png"), "image/png")
	assert.ErrorIs(t, err, ErrBucketNotFound)
}

func TestLocalBlobStoreCreateBucketThenUpload(t *testing.T) {
	root := t.TempDir()
	store := NewLocalBlobStore(root, "http://localhost:8090/")

	require.NoError(t, store.CreateBucket(context.Background(), "qr-codes"))

	url, err := store.Upload(context.Background(), "qr-codes", "qr_p1_c1_1.png", []byte("png-bytes"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8090/qr-codes/qr_p1_c1_1.png", url)

	data, err := os.ReadFile(filepath.Join(root, "qr-codes", "qr_p1_c1_1.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestLocalBlobStoreCreateBucketIdempotent(t *testing.T) {
	store := NewLocalBlobStore(t.TempDir(), "http://localhost:8090")

	require.NoError(t, store.CreateBucket(context.Background(), "qr-codes"))
	assert.NoError(t, store.CreateBucket(context.Background(), "qr-codes"))
}
