package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/codeGROOVE-dev/retry"
	"github.com/sirupsen/logrus"
)

const azureRequestTimeout = 30 * time.Second

// AzureStorage keeps the state snapshot in Azure Blob Storage
type AzureStorage struct {
	client        *azblob.Client
	containerName string
}

// Ensure AzureStorage implements StorageInterface
var _ StorageInterface = (*AzureStorage)(nil)

// NewAzureStorage creates a new Azure Storage client using managed identity
func NewAzureStorage(accountName, containerName string) (*AzureStorage, error) {
	if accountName == "" {
		return nil, fmt.Errorf("storage account name is required")
	}

	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)
	client, err := azblob.NewClient(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
	}

	storage := &AzureStorage{
		client:        client,
		containerName: containerName,
	}

	if err := storage.ensureContainer(); err != nil {
		return nil, fmt.Errorf("failed to ensure container exists: %w", err)
	}

	return storage, nil
}

func (s *AzureStorage) ensureContainer() error {
	ctx, cancel := context.WithTimeout(context.Background(), azureRequestTimeout)
	defer cancel()

	_, err := s.client.CreateContainer(ctx, s.containerName, nil)
	if err != nil {
		if !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return fmt.Errorf("failed to create container: %w", err)
		}
		logrus.Debugf("Container %s already exists", s.containerName)
	} else {
		logrus.Infof("Created container %s", s.containerName)
	}

	return nil
}

// Store uploads data as a single blob. Snapshots are far below the single-shot upload
// limit, so the service commits the whole body at once and readers never see a partial blob.
func (s *AzureStorage) Store(filename string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*azureRequestTimeout)
	defer cancel()

	err := s.withRetry(ctx, "upload", filename, func() error {
		_, err := s.client.UploadBuffer(ctx, s.containerName, filename, data, nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upload blob %s: %w", filename, err)
	}

	logrus.Debugf("Stored %s in Azure Blob Storage (%d bytes)", filename, len(data))
	return nil
}

// Retrieve downloads a blob. A missing blob returns ErrNotFound without retrying.
func (s *AzureStorage) Retrieve(filename string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*azureRequestTimeout)
	defer cancel()

	var data []byte
	err := s.withRetry(ctx, "download", filename, func() error {
		resp, err := s.client.DownloadStream(ctx, s.containerName, filename, nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err = io.ReadAll(resp.Body)
		return err
	})
	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound):
		return nil, fmt.Errorf("blob %s: %w", filename, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("failed to download blob %s: %w", filename, err)
	}
	return data, nil
}

// withRetry runs fn with backoff, giving up at once on a missing blob
func (s *AzureStorage) withRetry(ctx context.Context, op, filename string, fn func() error) error {
	return retry.Do(fn,
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound)
		}),
		retry.OnRetry(func(n uint, err error) {
			logrus.Warnf("Retrying %s of %s (attempt %d): %v", op, filename, n+1, err)
		}),
	)
}

// List returns a list of blobs in the container
func (s *AzureStorage) List(prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), azureRequestTimeout)
	defer cancel()

	var blobNames []string
	pager := s.client.NewListBlobsFlatPager(s.containerName, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs: %w", err)
		}

		for _, blob := range page.Segment.BlobItems {
			if blob.Name != nil {
				blobNames = append(blobNames, *blob.Name)
			}
		}
	}

	return blobNames, nil
}

// Delete removes a blob from Azure Blob Storage
func (s *AzureStorage) Delete(filename string) error {
	ctx, cancel := context.WithTimeout(context.Background(), azureRequestTimeout)
	defer cancel()

	err := s.withRetry(ctx, "delete", filename, func() error {
		_, err := s.client.DeleteBlob(ctx, s.containerName, filename, nil)
		return err
	})
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("failed to delete blob %s: %w", filename, err)
	}

	logrus.Debugf("Deleted %s from Azure Blob Storage", filename)
	return nil
}

// IsNotFound reports whether err means the object does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
