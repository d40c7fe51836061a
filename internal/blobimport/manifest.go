package blobimport

import (
	"path"
	"strings"

	"github.com/koetjeengdjalanan/nilakandi/internal/ingesterr"
	"github.com/koetjeengdjalanan/nilakandi/internal/store"
)

// manifestName is the index file each export run writes next to its blobs
const manifestName = "manifest.json"

// Manifest indexes the blobs produced by one export run
type Manifest struct {
	ManifestVersion string           `json:"manifestVersion"`
	ByteCount       int64            `json:"byteCount"`
	BlobCount       int              `json:"blobCount"`
	DataRowCount    int64            `json:"dataRowCount"`
	RunInfo         RunInfo          `json:"runInfo"`
	Blobs           []BlobDescriptor `json:"blobs"`

	// ExportRunID and SubscriptionID tag the manifest with the run it was resolved for
	ExportRunID    string `json:"-"`
	SubscriptionID string `json:"-"`
	// Path is the container-relative location the manifest was read from
	Path string `json:"-"`
}

// RunInfo is the provider's description of the run inside the manifest
type RunInfo struct {
	RunID         string `json:"runId"`
	ExecutionType string `json:"executionType"`
	SubmittedTime string `json:"submittedTime"`
	StartDate     string `json:"startDate"`
	EndDate       string `json:"endDate"`
}

// BlobDescriptor is one data blob listed in a manifest
type BlobDescriptor struct {
	BlobName     string `json:"blobName"`
	ByteCount    int64  `json:"byteCount"`
	DataRowCount int64  `json:"dataRowCount"`
}

// HasData reports whether the descriptor names a non-empty CSV blob
func (b BlobDescriptor) HasData() bool {
	return strings.HasSuffix(strings.ToLower(b.BlobName), ".csv") && b.ByteCount > 0 && b.DataRowCount > 0
}

// ManifestPath locates the manifest of run inside container. The provider
// reports the manifest with the container as its first segment; a path that
// does not name the manifest file is treated as the run folder.
func ManifestPath(run store.ExportRun, container string) (string, error) {
	p := strings.Trim(run.ManifestPath, "/")
	if p == "" {
		return "", &ingesterr.NoDataError{What: "manifest path of export run " + run.ID}
	}
	p = trimContainer(p, container)
	if path.Base(p) != manifestName {
		p = path.Join(p, manifestName)
	}
	return p, nil
}

func trimContainer(p, container string) string {
	p = strings.TrimPrefix(p, "/")
	if container != "" && strings.HasPrefix(p, container+"/") {
		return strings.TrimPrefix(p, container+"/")
	}
	return p
}
