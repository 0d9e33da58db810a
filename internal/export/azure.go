package export

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureSink writes az://container/blob paths.
type AzureSink struct {
	client *azblob.Client
}

// NewAzureSink authenticates with the shared key in AZURE_STORAGE_ACCOUNT and
// AZURE_STORAGE_KEY.
func NewAzureSink() (*AzureSink, error) {
	account := os.Getenv("AZURE_STORAGE_ACCOUNT")
	key := os.Getenv("AZURE_STORAGE_KEY")
	if account == "" || key == "" {
		return nil, errors.New("azure: AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_KEY are required")
	}

	cred, err := azblob.NewSharedKeyCredential(account, key)
	if err != nil {
		return nil, fmt.Errorf("azure: shared key credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", account)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure: create client: %w", err)
	}
	return &AzureSink{client: client}, nil
}

func (s *AzureSink) Exists(ctx context.Context, path string) (bool, error) {
	container, blobName, err := splitObjectURI(path, "az")
	if err != nil {
		return false, err
	}
	props, err := s.client.ServiceClient().NewContainerClient(container).NewBlobClient(blobName).GetProperties(ctx, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("azure: properties %s: %w", path, err)
	}
	return props.ContentLength != nil && *props.ContentLength > 0, nil
}

func (s *AzureSink) Write(ctx context.Context, path string, data []byte) error {
	container, blobName, err := splitObjectURI(path, "az")
	if err != nil {
		return err
	}
	if _, err := s.client.UploadBuffer(ctx, container, blobName, data, nil); err != nil {
		return fmt.Errorf("azure: upload %s: %w", path, err)
	}
	return nil
}
