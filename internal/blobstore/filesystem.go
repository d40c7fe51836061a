package blobstore

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// md5Suffix names the sidecar file holding a blob's base64 Content-MD5
const md5Suffix = ".md5"

// Filesystem serves blobs from a local directory tree, for offline imports
// of exports copied out of the storage account.
type Filesystem struct {
	root string
}

// NewFilesystem creates a store rooted at dir
func NewFilesystem(dir string) *Filesystem {
	return &Filesystem{root: dir}
}

// Root is the directory blobs are served from
func (f *Filesystem) Root() string {
	return f.root
}

func (f *Filesystem) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(path))
	if clean == string(filepath.Separator) {
		return "", fmt.Errorf("invalid blob path %q", path)
	}
	return filepath.Join(f.root, clean), nil
}

// Download opens path. The hash comes from a "<path>.md5" sidecar holding
// the base64 digest, as the storage service reports it.
func (f *Filesystem) Download(ctx context.Context, path string) (*Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := f.resolve(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	blob := &Blob{Body: file, Size: info.Size()}
	if raw, err := os.ReadFile(full + md5Suffix); err == nil {
		sum, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("invalid md5 sidecar for %s: %w", path, err)
		}
		blob.ContentMD5 = sum
	}
	return blob, nil
}

// Upload writes r to path and records its MD5 sidecar
func (f *Filesystem) Upload(ctx context.Context, path string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := f.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}

	file, err := os.Create(full)
	if err != nil {
		return err
	}
	hash := md5.New()
	if _, err := io.Copy(io.MultiWriter(file, hash), r); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.WriteFile(full+md5Suffix, []byte(base64.StdEncoding.EncodeToString(hash.Sum(nil))), 0o644)
}
