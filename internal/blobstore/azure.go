package blobstore

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// Azure downloads blobs from one storage container
type Azure struct {
	client    *azblob.Client
	container string
}

// AccountURL is the blob endpoint of a storage account
func AccountURL(account string) string {
	return fmt.Sprintf("https://%s.blob.core.windows.net/", account)
}

// NewAzure creates a container reader authenticated with cred
func NewAzure(accountURL, container string, cred azcore.TokenCredential) (*Azure, error) {
	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}
	return &Azure{client: client, container: container}, nil
}

// Download opens a streaming read of path. The hash is the blob's
// Content-MD5 property.
func (a *Azure) Download(ctx context.Context, path string) (*Blob, error) {
	resp, err := a.client.DownloadStream(ctx, a.container, path, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, fmt.Errorf("%s/%s: %w", a.container, path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to download %s/%s: %w", a.container, path, err)
	}

	blob := &Blob{Body: resp.Body, ContentMD5: resp.ContentMD5, Size: -1}
	if len(blob.ContentMD5) == 0 {
		blob.ContentMD5 = resp.BlobContentMD5
	}
	if resp.ContentLength != nil {
		blob.Size = *resp.ContentLength
	}
	return blob, nil
}
