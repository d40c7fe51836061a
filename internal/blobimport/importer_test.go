package blobimport

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/koetjeengdjalanan/nilakandi/internal/blobstore"
	"github.com/koetjeengdjalanan/nilakandi/internal/config"
	"github.com/koetjeengdjalanan/nilakandi/internal/ingesterr"
	"github.com/koetjeengdjalanan/nilakandi/internal/logger"
	"github.com/koetjeengdjalanan/nilakandi/internal/store"
	"github.com/koetjeengdjalanan/nilakandi/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	subID     = "44444444-4444-4444-4444-444444444444"
	container = "cost-exports"
	runFolder = subID + "/Nilakandi-NTT-Export/20240101-20240131/run-1"
)

const threeRows = "\ufeffBillingPeriodStartDate,BillingPeriodEndDate,Date,MeterCategory,CostInUSD,IsAzureCreditEligible,AdditionalInfo,UnknownColumn\n" +
	"01/01/2024,01/31/2024,01/05/2024,Virtual Machines,1.25,True,\"{\"\"vCores\"\": 2}\",x\n" +
	"01/01/2024,01/31/2024,01/06/2024,Storage,NaN,False,,y\n" +
	"2024-01-01,2024-01-31,not-a-date,Bandwidth,0.5,,broken{,z\n"

type fixture struct {
	store    *store.Store
	blobs    *blobstore.Filesystem
	importer *Importer
	scratch  string
	run      store.ExportRun
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := storetest.New(t)
	storetest.Subscription(t, s, subID, "prod")

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	run := store.ExportRun{
		ID:             "run-1",
		SubscriptionID: subID,
		ExecReference:  "/subscriptions/x/exports/e/runs/run-1",
		ManifestPath:   container + "/" + runFolder + "/manifest.json",
		Status:         store.RunStatusCompleted,
		ReportFrom:     &from,
		ReportTo:       &to,
	}
	_, err := s.InsertExportRuns(context.Background(), []store.ExportRun{run})
	require.NoError(t, err)

	scratch := t.TempDir()
	blobs := blobstore.NewFilesystem(t.TempDir())
	im := New(blobs, s, container, config.ImporterConfig{ChunkSize: 2, ScratchDir: scratch}, logger.New("error"))
	return &fixture{store: s, blobs: blobs, importer: im, scratch: scratch, run: run}
}

func (f *fixture) upload(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, f.blobs.Upload(context.Background(), path, strings.NewReader(content)))
}

func (f *fixture) writeManifest(t *testing.T, blobs ...BlobDescriptor) {
	t.Helper()
	data, err := json.Marshal(Manifest{
		ManifestVersion: "2024-04-01",
		BlobCount:       len(blobs),
		RunInfo:         RunInfo{RunID: "run-1"},
		Blobs:           blobs,
	})
	require.NoError(t, err)
	f.upload(t, runFolder+"/manifest.json", string(data))
}

func (f *fixture) scratchFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.scratch)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// TestImportRun_SkipsEmptyBlobAndIsIdempotent tests a run with one data blob and one empty blob imported twice
func TestImportRun_SkipsEmptyBlobAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dataBlob := runFolder + "/part_0_0001.csv"
	f.upload(t, dataBlob, threeRows)
	f.writeManifest(t,
		BlobDescriptor{BlobName: dataBlob, ByteCount: int64(len(threeRows)), DataRowCount: 3},
		BlobDescriptor{BlobName: runFolder + "/part_0_0002.csv", ByteCount: 0, DataRowCount: 0},
	)

	totals, err := f.importer.ImportRun(ctx, f.run)
	require.NoError(t, err)
	assert.Equal(t, 1, totals.Blobs)
	assert.Equal(t, 1, totals.Skipped)
	assert.Equal(t, 0, totals.Failed)
	assert.Equal(t, int64(3), totals.Processed)
	assert.Equal(t, int64(3), totals.Imported)

	n, err := f.store.CountReportRows(ctx, f.run.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	totals, err = f.importer.ImportRun(ctx, f.run)
	require.NoError(t, err)
	assert.Equal(t, int64(0), totals.Imported)

	n, err = f.store.CountReportRows(ctx, f.run.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Empty(t, f.scratchFiles(t))
}

// TestImportRun_NormalizesRecords tests date coercion, null sentinels and the additional info fallback
func TestImportRun_NormalizesRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dataBlob := runFolder + "/part_0_0001.csv"
	f.upload(t, dataBlob, threeRows)
	f.writeManifest(t, BlobDescriptor{BlobName: dataBlob, ByteCount: int64(len(threeRows)), DataRowCount: 3})

	_, err := f.importer.ImportRun(ctx, f.run)
	require.NoError(t, err)

	var rows []store.ReportRow
	require.NoError(t, f.store.DB().Order("source_line").Find(&rows).Error)
	require.Len(t, rows, 3)

	first := rows[0]
	assert.Equal(t, dataBlob, first.SourceBlob)
	assert.Equal(t, 1, first.SourceLine)
	require.NotNil(t, first.Date)
	assert.Equal(t, "2024-01-05", *first.Date)
	assert.Equal(t, "2024-01-01", *first.BillingPeriodStartDate)
	require.NotNil(t, first.CostInUSD)
	assert.InDelta(t, 1.25, *first.CostInUSD, 1e-9)
	require.NotNil(t, first.IsAzureCreditEligible)
	assert.True(t, *first.IsAzureCreditEligible)
	assert.JSONEq(t, `{"vCores": 2}`, string(first.AdditionalInfo))

	second := rows[1]
	assert.Nil(t, second.CostInUSD)
	assert.JSONEq(t, `{}`, string(second.AdditionalInfo))

	third := rows[2]
	assert.Nil(t, third.Date)
	assert.Equal(t, "2024-01-31", *third.BillingPeriodEndDate)
	assert.Nil(t, third.IsAzureCreditEligible)
	assert.JSONEq(t, `{}`, string(third.AdditionalInfo))
}

// TestImportBlob_DropsInvalidRecords tests that a bad record is excluded without failing its chunk
func TestImportBlob_DropsInvalidRecords(t *testing.T) {
	f := newFixture(t)
	content := "MeterCategory,CostInUSD\nStorage,1\nStorage,one\nStorage,3\n"
	path := runFolder + "/bad.csv"
	f.upload(t, path, content)

	totals, err := f.importer.ImportBlob(context.Background(), f.run.ID, subID, BlobDescriptor{BlobName: path, ByteCount: int64(len(content)), DataRowCount: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(3), totals.Processed)
	assert.Equal(t, int64(2), totals.Imported)
	assert.Equal(t, int64(1), totals.Invalid)
}

// TestImportBlob_ChecksumMismatch tests that a corrupted download is rejected and removed
func TestImportBlob_ChecksumMismatch(t *testing.T) {
	f := newFixture(t)
	path := runFolder + "/part_0_0001.csv"
	f.upload(t, path, threeRows)

	full := filepath.Join(f.blobs.Root(), filepath.FromSlash(path))
	require.NoError(t, os.WriteFile(full+".md5", []byte("AAAAAAAAAAAAAAAAAAAAAA=="), 0o644))

	_, err := f.importer.ImportBlob(context.Background(), f.run.ID, subID, BlobDescriptor{BlobName: path, ByteCount: 10, DataRowCount: 3})
	var integrity *ingesterr.IntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, path, integrity.BlobPath)
	assert.Empty(t, f.scratchFiles(t))

	n, err := f.store.CountReportRows(context.Background(), f.run.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestImportRun_ContinuesAfterFailedBlob tests that one broken blob does not stop the run
func TestImportRun_ContinuesAfterFailedBlob(t *testing.T) {
	f := newFixture(t)
	good := runFolder + "/part_0_0002.csv"
	f.upload(t, good, threeRows)
	f.writeManifest(t,
		BlobDescriptor{BlobName: runFolder + "/missing.csv", ByteCount: 10, DataRowCount: 1},
		BlobDescriptor{BlobName: good, ByteCount: int64(len(threeRows)), DataRowCount: 3},
	)

	totals, err := f.importer.ImportRun(context.Background(), f.run)
	require.NoError(t, err)
	assert.Equal(t, 1, totals.Failed)
	assert.Equal(t, int64(3), totals.Imported)
}

// TestImportRun_MissingManifest tests that a manifest failure is returned to the caller
func TestImportRun_MissingManifest(t *testing.T) {
	f := newFixture(t)

	_, err := f.importer.ImportRun(context.Background(), f.run)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

// TestAggregateManifestDetails_Overlap tests that runs are selected by window overlap
func TestAggregateManifestDetails_Overlap(t *testing.T) {
	f := newFixture(t)
	f.writeManifest(t)
	ctx := context.Background()

	manifests, err := f.importer.AggregateManifestDetails(ctx, subID,
		time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	assert.Equal(t, "run-1", manifests[0].ExportRunID)
	assert.Equal(t, subID, manifests[0].SubscriptionID)
	assert.Equal(t, runFolder+"/manifest.json", manifests[0].Path)

	manifests, err = f.importer.AggregateManifestDetails(ctx, subID,
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, manifests)
}

// addRun records another run of the subscription and returns its folder
func (f *fixture) addRun(t *testing.T, id, status string, from, to time.Time) string {
	t.Helper()
	folder := subID + "/Nilakandi-NTT-Export/" + id
	_, err := f.store.InsertExportRuns(context.Background(), []store.ExportRun{{
		ID:             id,
		SubscriptionID: subID,
		ExecReference:  "/subscriptions/x/exports/e/runs/" + id,
		ManifestPath:   container + "/" + folder + "/manifest.json",
		Status:         status,
		ReportFrom:     &from,
		ReportTo:       &to,
	}})
	require.NoError(t, err)
	return folder
}

func (f *fixture) writeRunManifest(t *testing.T, folder string, blobs ...BlobDescriptor) {
	t.Helper()
	data, err := json.Marshal(Manifest{BlobCount: len(blobs), Blobs: blobs})
	require.NoError(t, err)
	f.upload(t, folder+"/manifest.json", string(data))
}

// TestImport_SkipsUnfinishedAndUnresolvableRuns tests that only the failing
// run is left out of the window
func TestImport_SkipsUnfinishedAndUnresolvableRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dataBlob := runFolder + "/part_0_0001.csv"
	f.upload(t, dataBlob, threeRows)
	f.writeManifest(t, BlobDescriptor{BlobName: dataBlob, ByteCount: int64(len(threeRows)), DataRowCount: 3})

	f.addRun(t, "run-2", store.RunStatusInProgress,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC))
	f.addRun(t, "run-3", store.RunStatusCompleted,
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC))

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	manifests, err := f.importer.AggregateManifestDetails(ctx, subID, start, end)
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	assert.Equal(t, "run-1", manifests[0].ExportRunID)

	totals, err := f.importer.Import(ctx, subID, start, end)
	require.NoError(t, err)
	assert.Equal(t, int64(3), totals.Imported)

	n, err := f.store.CountReportRows(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

// TestAggregateManifestDetails_AllRunsUnresolvable tests that a window with
// no usable manifest reports the failure
func TestAggregateManifestDetails_AllRunsUnresolvable(t *testing.T) {
	f := newFixture(t)

	_, err := f.importer.AggregateManifestDetails(context.Background(), subID,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

// TestImport_OverlappingRunsOfOnePeriod tests that a month-to-date restatement
// of the same lines is imported from the latest run only
func TestImport_OverlappingRunsOfOnePeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dataBlob := runFolder + "/part_0_0001.csv"
	f.upload(t, dataBlob, threeRows)
	f.writeManifest(t, BlobDescriptor{BlobName: dataBlob, ByteCount: int64(len(threeRows)), DataRowCount: 3})

	// run-1 covers January 1-31; run-0 is an earlier, shorter restatement of the same period
	earlier := f.addRun(t, "run-0", store.RunStatusCompleted,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC))
	earlierBlob := earlier + "/part_0_0001.csv"
	f.upload(t, earlierBlob, threeRows)
	f.writeRunManifest(t, earlier, BlobDescriptor{BlobName: earlierBlob, ByteCount: int64(len(threeRows)), DataRowCount: 3})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	totals, err := f.importer.Import(ctx, subID, start, end)
	require.NoError(t, err)
	assert.Equal(t, 1, totals.Runs)
	assert.Equal(t, int64(3), totals.Imported)

	n, err := f.store.CountReportRows(ctx, "run-0")
	require.NoError(t, err)
	assert.Zero(t, n)

	// rows an earlier import already stored are left out of reports
	_, err = f.importer.ImportRun(ctx, store.ExportRun{ID: "run-0", SubscriptionID: subID, ManifestPath: container + "/" + earlier + "/manifest.json"})
	require.NoError(t, err)
	rows, err := f.store.ReportRows(ctx, store.ReportQuery{SubscriptionID: subID})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	for _, r := range rows {
		assert.Equal(t, "run-1", r.ExportRunID)
	}
}
