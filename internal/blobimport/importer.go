package blobimport

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/koetjeengdjalanan/nilakandi/internal/blobstore"
	"github.com/koetjeengdjalanan/nilakandi/internal/config"
	"github.com/koetjeengdjalanan/nilakandi/internal/ingesterr"
	"github.com/koetjeengdjalanan/nilakandi/internal/logger"
	"github.com/koetjeengdjalanan/nilakandi/internal/store"
)

const (
	// DefaultChunkSize bounds the rows held in memory per insert
	DefaultChunkSize = 10000
	// maxManifestSize caps how much of a manifest is read into memory
	maxManifestSize = 16 << 20
)

// Repository is the store surface the importer needs
type Repository interface {
	ExportRunsOverlapping(ctx context.Context, subscriptionID string, start, end time.Time) ([]store.ExportRun, error)
	InsertReportRows(ctx context.Context, rows []store.ReportRow) (int64, error)
}

// Totals accumulates import counts across chunks, blobs and runs
type Totals struct {
	Runs      int
	Blobs     int
	Skipped   int
	Failed    int
	Processed int64
	Imported  int64
	Invalid   int64
}

// Add merges o into t
func (t *Totals) Add(o Totals) {
	t.Runs += o.Runs
	t.Blobs += o.Blobs
	t.Skipped += o.Skipped
	t.Failed += o.Failed
	t.Processed += o.Processed
	t.Imported += o.Imported
	t.Invalid += o.Invalid
}

// Importer resolves export manifests and loads their CSV blobs into report rows
type Importer struct {
	blobs      blobstore.Store
	repo       Repository
	validate   *validator.Validate
	container  string
	chunkSize  int
	scratchDir string
	pullLog    *logger.Logger
	saveLog    *logger.Logger
}

// New creates an importer reading from blobs and writing through repo
func New(blobs blobstore.Store, repo Repository, container string, cfg config.ImporterConfig, log *logger.Logger) *Importer {
	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	return &Importer{
		blobs:      blobs,
		repo:       repo,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		container:  container,
		chunkSize:  chunk,
		scratchDir: cfg.ScratchDir,
		pullLog:    log.Named(logger.ComponentPull).WithFields("source", "cost_export_blob"),
		saveLog:    log.Named(logger.ComponentSave).WithFields("table", store.ReportRow{}.TableName()),
	}
}

// ResolveManifest reads and decodes the manifest of run, verifying its
// content hash when the store reports one
func (im *Importer) ResolveManifest(ctx context.Context, run store.ExportRun) (*Manifest, error) {
	p, err := ManifestPath(run, im.container)
	if err != nil {
		return nil, err
	}

	blob, err := im.blobs.Download(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("manifest of export run %s: %w", run.ID, err)
	}
	defer blob.Body.Close()

	data, err := io.ReadAll(io.LimitReader(blob.Body, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", p, err)
	}
	if len(blob.ContentMD5) > 0 {
		if sum := md5.Sum(data); !bytes.Equal(sum[:], blob.ContentMD5) {
			return nil, &ingesterr.IntegrityError{BlobPath: p, Expected: encodeMD5(blob.ContentMD5), Actual: encodeMD5(sum[:])}
		}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", p, err)
	}
	m.ExportRunID = run.ID
	m.SubscriptionID = run.SubscriptionID
	m.Path = p
	return &m, nil
}

// AggregateManifestDetails resolves the manifests of the subscription's
// completed runs whose report window overlaps [start, end), keeping the
// latest run of each report period. A run whose manifest cannot be resolved
// is logged and left out; an error is returned only when no run resolved.
func (im *Importer) AggregateManifestDetails(ctx context.Context, subscriptionID string, start, end time.Time) ([]*Manifest, error) {
	runs, err := im.repo.ExportRunsOverlapping(ctx, subscriptionID, start, end)
	if err != nil {
		return nil, err
	}
	runs = store.LatestPerPeriod(runs)

	manifests := make([]*Manifest, 0, len(runs))
	var errs []error
	for _, run := range runs {
		m, err := im.ResolveManifest(ctx, run)
		if err != nil {
			im.pullLog.Warn("Skipping export run, manifest unavailable",
				"subscription_id", subscriptionID,
				"export_run_id", run.ID,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		manifests = append(manifests, m)
	}
	if len(manifests) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return manifests, nil
}

// ImportRun resolves the manifest of run and imports all of its blobs. A
// failing blob is logged and the next one is tried.
func (im *Importer) ImportRun(ctx context.Context, run store.ExportRun) (Totals, error) {
	m, err := im.ResolveManifest(ctx, run)
	if err != nil {
		im.pullLog.Error("Failed to resolve manifest",
			"subscription_id", run.SubscriptionID,
			"export_run_id", run.ID,
			"error", err,
		)
		return Totals{}, err
	}
	return im.ImportManifest(ctx, m)
}

// ImportManifest imports every blob listed in m
func (im *Importer) ImportManifest(ctx context.Context, m *Manifest) (Totals, error) {
	totals := Totals{Runs: 1}
	for _, desc := range m.Blobs {
		if err := ctx.Err(); err != nil {
			return totals, err
		}
		t, err := im.ImportBlob(ctx, m.ExportRunID, m.SubscriptionID, desc)
		totals.Add(t)
		if err != nil {
			totals.Failed++
			im.pullLog.Error("Blob import failed",
				"subscription_id", m.SubscriptionID,
				"export_run_id", m.ExportRunID,
				"blob_path", desc.BlobName,
				"error", err,
			)
		}
	}

	im.saveLog.Info("Export run imported",
		"subscription_id", m.SubscriptionID,
		"export_run_id", m.ExportRunID,
		"blobs", totals.Blobs,
		"skipped", totals.Skipped,
		"failed", totals.Failed,
		"processed", totals.Processed,
		"imported", totals.Imported,
	)
	return totals, nil
}

// Import imports every run of the subscription overlapping [start, end]
func (im *Importer) Import(ctx context.Context, subscriptionID string, start, end time.Time) (Totals, error) {
	manifests, err := im.AggregateManifestDetails(ctx, subscriptionID, start, end)
	if err != nil {
		return Totals{}, err
	}
	var totals Totals
	for _, m := range manifests {
		t, err := im.ImportManifest(ctx, m)
		totals.Add(t)
		if err != nil {
			return totals, err
		}
	}
	return totals, nil
}

// ImportBlob downloads one blob, verifies it and loads it in chunks. Blobs
// without data are skipped. Re-importing a blob inserts nothing new.
func (im *Importer) ImportBlob(ctx context.Context, exportRunID, subscriptionID string, desc BlobDescriptor) (Totals, error) {
	log := im.pullLog.WithFields("subscription_id", subscriptionID, "blob_path", desc.BlobName)
	if !desc.HasData() {
		log.Info("Skipping blob without data", "byte_count", desc.ByteCount, "row_count", desc.DataRowCount)
		return Totals{Skipped: 1}, nil
	}

	blobPath := trimContainer(desc.BlobName, im.container)
	local, err := im.download(ctx, blobPath)
	if err != nil {
		return Totals{}, err
	}
	defer os.Remove(local)

	f, err := os.Open(local)
	if err != nil {
		return Totals{}, err
	}
	defer f.Close()

	totals, err := im.load(ctx, f, exportRunID, subscriptionID, blobPath)
	totals.Blobs = 1
	return totals, err
}

// download streams path into a scratch file, hashing as it writes. On a
// hash mismatch the file is removed and an IntegrityError returned.
func (im *Importer) download(ctx context.Context, path string) (string, error) {
	blob, err := im.blobs.Download(ctx, path)
	if err != nil {
		return "", err
	}
	defer blob.Body.Close()

	f, err := os.CreateTemp(im.scratchDir, "nilakandi-*.csv")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch file: %w", err)
	}
	name := f.Name()

	hash := md5.New()
	written, copyErr := io.Copy(io.MultiWriter(f, hash), blob.Body)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("failed to download %s: %w", path, err)
	}

	sum := hash.Sum(nil)
	switch {
	case len(blob.ContentMD5) == 0:
		im.pullLog.Warn("Blob has no content hash, skipping verification", "blob_path", path)
	case !bytes.Equal(sum, blob.ContentMD5):
		os.Remove(name)
		return "", &ingesterr.IntegrityError{BlobPath: path, Expected: encodeMD5(blob.ContentMD5), Actual: encodeMD5(sum)}
	}

	im.pullLog.Debug("Blob downloaded", "blob_path", path, "bytes", written)
	return name, nil
}

// load reads CSV records in chunks and inserts each chunk in its own transaction
func (im *Importer) load(ctx context.Context, r io.Reader, exportRunID, subscriptionID, blobPath string) (Totals, error) {
	var totals Totals
	log := im.saveLog.WithFields("subscription_id", subscriptionID, "export_run_id", exportRunID, "blob_path", blobPath)

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return totals, nil
	}
	if err != nil {
		return totals, fmt.Errorf("failed to read header of %s: %w", blobPath, err)
	}
	plan := newColumnPlan(header)
	if plan.matched() == 0 {
		return totals, &ingesterr.ValidationError{Field: "header", Err: fmt.Errorf("no known columns in %s", blobPath)}
	}

	chunk := make([]store.ReportRow, 0, im.chunkSize)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		written, err := im.repo.InsertReportRows(ctx, chunk)
		if err != nil {
			log.Error("Failed to insert chunk", "rows", len(chunk), "error", err)
			return err
		}
		totals.Imported += written
		log.Debug("Chunk inserted", "rows", len(chunk), "inserted", written)
		chunk = chunk[:0]
		return nil
	}

	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		totals.Processed++
		if err != nil {
			totals.Invalid++
			log.Warn("Dropping record", "error", lineError(line, err))
			continue
		}

		row, err := plan.buildRow(record, line)
		if err == nil {
			row.ExportRunID = exportRunID
			row.SubscriptionID = subscriptionID
			row.SourceBlob = blobPath
			row.SourceLine = line
			if verr := im.validate.Struct(row); verr != nil {
				err = &ingesterr.ValidationError{Record: line, Err: verr}
			}
		}
		if err != nil {
			totals.Invalid++
			log.Warn("Dropping record", "error", err)
			continue
		}

		chunk = append(chunk, row)
		if len(chunk) >= im.chunkSize {
			if err := flush(); err != nil {
				return totals, err
			}
			if err := ctx.Err(); err != nil {
				return totals, err
			}
		}
	}
	if err := flush(); err != nil {
		return totals, err
	}

	log.Info("Blob loaded", "processed", totals.Processed, "imported", totals.Imported, "invalid", totals.Invalid)
	return totals, nil
}

func encodeMD5(sum []byte) string {
	return base64.StdEncoding.EncodeToString(sum)
}
