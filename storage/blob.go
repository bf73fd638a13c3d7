package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// ErrBucketNotFound signals that the target bucket does not exist yet. The
// caller is expected to create it once and retry the upload.
var ErrBucketNotFound = errors.New("bucket not found")

// BlobStore persists rendered ticket images and serves them back by URL.
type BlobStore interface {
	// Upload stores the object and returns its publicly reachable URL.
	Upload(ctx context.Context, bucket, object string, data []byte, contentType string) (string, error)
	CreateBucket(ctx context.Context, bucket string) error
}

// LocalBlobStore keeps objects on the local filesystem under root/<bucket>/.
// It serves as the default backend: PocketBase already exposes pb_public
// over HTTP, so dropping files there makes them reachable without extra
// infrastructure.
type LocalBlobStore struct {
	root    string
	baseURL string
}

func NewLocalBlobStore(root, baseURL string) *LocalBlobStore {
	return &LocalBlobStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *LocalBlobStore) Upload(ctx context.Context, bucket, object string, data []byte, _ string) (string, error) {
	dir := filepath.Join(s.root, bucket)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return "", ErrBucketNotFound
		}
		return "", err
	}

	if err := os.WriteFile(filepath.Join(dir, object), data, 0o644); err != nil {
		return "", fmt.Errorf("write object %s/%s: %w", bucket, object, err)
	}
	return fmt.Sprintf("%s/%s/%s", s.baseURL, bucket, object), nil
}

func (s *LocalBlobStore) CreateBucket(_ context.Context, bucket string) error {
	return os.MkdirAll(filepath.Join(s.root, bucket), 0o755)
}

// CloudinaryBlobStore uploads objects to Cloudinary. Buckets map to folders,
// which Cloudinary creates implicitly on first upload.
type CloudinaryBlobStore struct {
	cld *cloudinary.Cloudinary
}

func NewCloudinaryBlobStore(cloudinaryURL string) (*CloudinaryBlobStore, error) {
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, fmt.Errorf("init cloudinary: %w", err)
	}
	return &CloudinaryBlobStore{cld: cld}, nil
}

func (s *CloudinaryBlobStore) Upload(ctx context.Context, bucket, object string, data []byte, _ string) (string, error) {
	publicID := strings.TrimSuffix(object, filepath.Ext(object))
	res, err := s.cld.Upload.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		PublicID: publicID,
		Folder:   bucket,
	})
	if err != nil {
		return "", fmt.Errorf("cloudinary upload %s/%s: %w", bucket, object, err)
	}
	if res.Error.Message != "" {
		return "", fmt.Errorf("cloudinary upload %s/%s: %s", bucket, object, res.Error.Message)
	}
	return res.SecureURL, nil
}

func (s *CloudinaryBlobStore) CreateBucket(context.Context, string) error {
	return nil
}
