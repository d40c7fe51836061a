package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/koetjeengdjalanan/nilakandi/internal/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultBatchSize bounds the rows of a single INSERT statement
const DefaultBatchSize = 500

// ErrNotFound is returned by single-row lookups
var ErrNotFound = errors.New("record not found")

// Store persists ingestion results. Every write is a batched insert with an
// explicit natural-key conflict target, scoped to one transaction.
type Store struct {
	db        *gorm.DB
	batchSize int
	logger    *logger.Logger
}

// New wraps an open database
func New(db *gorm.DB, batchSize int, log *logger.Logger) *Store {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Store{db: db, batchSize: batchSize, logger: log.Named(logger.ComponentSave)}
}

// DB exposes the underlying handle for health checks
func (s *Store) DB() *gorm.DB {
	return s.db
}

func columns(names []string) []clause.Column {
	cols := make([]clause.Column, len(names))
	for i, name := range names {
		cols[i] = clause.Column{Name: name}
	}
	return cols
}

// insertBatches writes rows in statements of at most size rows inside tx and
// returns how many rows the database reports as written
func insertBatches[T any](tx *gorm.DB, rows []T, size int, conflict clause.OnConflict) (int64, error) {
	var written int64
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		batch := rows[start:end]
		res := tx.Omit(clause.Associations).Clauses(conflict).Create(&batch)
		if res.Error != nil {
			return written, res.Error
		}
		written += res.RowsAffected
	}
	return written, nil
}

// UpsertSubscriptions inserts new subscriptions and overwrites every field of known ones
func (s *Store) UpsertSubscriptions(ctx context.Context, subs []Subscription) (int64, error) {
	if len(subs) == 0 {
		return 0, nil
	}
	var written int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		written, err = insertBatches(tx, subs, s.batchSize, clause.OnConflict{
			Columns:   columns([]string{"subscription_id"}),
			UpdateAll: true,
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert subscriptions: %w", err)
	}
	return written, nil
}

// ListSubscriptions returns every known subscription ordered by name
func (s *Store) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	var subs []Subscription
	if err := s.db.WithContext(ctx).Order("display_name, subscription_id").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

// GetSubscription looks a subscription up by its identifier
func (s *Store) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	var sub Subscription
	err := s.db.WithContext(ctx).Where("subscription_id = ?", id).Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription %s: %w", id, err)
	}
	return &sub, nil
}

// UpsertCostFacts writes a page of cost facts. A natural key seen again
// refreshes charge type, part number, cost and currency. Duplicates inside
// one call collapse to the last occurrence, since a single statement may not
// touch the same key twice.
func (s *Store) UpsertCostFacts(ctx context.Context, facts []CostFact) (int64, error) {
	facts = dedupeCostFacts(facts)
	if len(facts) == 0 {
		return 0, nil
	}

	var written int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		written, err = insertBatches(tx, facts, s.batchSize, clause.OnConflict{
			Columns:   columns(CostFactConflictColumns),
			DoUpdates: clause.AssignmentColumns(CostFactMutableColumns),
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert cost facts: %w", err)
	}
	return written, nil
}

type costFactKey struct {
	subscription string
	date         time.Time
	service      string
	resource     string
	tier         string
	meter        string
}

func dedupeCostFacts(facts []CostFact) []CostFact {
	index := make(map[costFactKey]int, len(facts))
	out := make([]CostFact, 0, len(facts))
	for _, f := range facts {
		key := costFactKey{f.SubscriptionID, time.Time(f.UsageDate), f.ServiceName, f.ResourceID, f.ServiceTier, f.Meter}
		if i, ok := index[key]; ok {
			out[i] = f
			continue
		}
		index[key] = len(out)
		out = append(out, f)
	}
	return out
}

// CountCostFacts counts the facts of a subscription
func (s *Store) CountCostFacts(ctx context.Context, subscriptionID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&CostFact{}).Where("subscription_id = ?", subscriptionID).Count(&n).Error
	return n, err
}

// InsertExportRuns records run history in one transaction. Runs already
// stored under the same id are skipped; any other constraint violation, such
// as a known execution reference under a new id, aborts the whole pull.
func (s *Store) InsertExportRuns(ctx context.Context, runs []ExportRun) (int64, error) {
	if len(runs) == 0 {
		return 0, nil
	}
	var written int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		written, err = insertBatches(tx, runs, s.batchSize, clause.OnConflict{
			Columns:   columns([]string{"id"}),
			DoNothing: true,
		})
		return err
	})
	if err != nil {
		s.logger.Error("Export history insert rolled back",
			"subscription_id", runs[0].SubscriptionID,
			"runs", len(runs),
			"error", err)
		return 0, fmt.Errorf("failed to insert export runs: %w", err)
	}
	return written, nil
}

// GetExportRun looks a run up by id
func (s *Store) GetExportRun(ctx context.Context, id string) (*ExportRun, error) {
	var run ExportRun
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("export run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load export run %s: %w", id, err)
	}
	return &run, nil
}

// ExportRunsOverlapping returns the subscription's completed runs whose
// report range intersects [start, end), oldest first. Runs without a range
// never match.
func (s *Store) ExportRunsOverlapping(ctx context.Context, subscriptionID string, start, end time.Time) ([]ExportRun, error) {
	var runs []ExportRun
	err := s.db.WithContext(ctx).
		Where("subscription_id = ? AND status = ?", subscriptionID, RunStatusCompleted).
		Where("report_from IS NOT NULL AND report_to IS NOT NULL").
		Where("report_from < ? AND report_to >= ?", end, start).
		Order("report_from, id").
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select export runs: %w", err)
	}
	return runs, nil
}

// LatestPerPeriod keeps, for each report start, the run reaching furthest.
// Month-to-date runs restate the whole period, so only the newest one counts.
// Ties on the report end go to the greater id. Order is preserved.
func LatestPerPeriod(runs []ExportRun) []ExportRun {
	latest := make(map[time.Time]int, len(runs))
	for i, run := range runs {
		if run.ReportFrom == nil || run.ReportTo == nil {
			continue
		}
		from := run.ReportFrom.UTC()
		j, ok := latest[from]
		if !ok || supersedes(run, runs[j]) {
			latest[from] = i
		}
	}

	out := make([]ExportRun, 0, len(latest))
	for i, run := range runs {
		if run.ReportFrom != nil && latest[run.ReportFrom.UTC()] == i && run.ReportTo != nil {
			out = append(out, run)
		}
	}
	return out
}

func supersedes(a, b ExportRun) bool {
	if !a.ReportTo.Equal(*b.ReportTo) {
		return a.ReportTo.After(*b.ReportTo)
	}
	return a.ID > b.ID
}

// InsertReportRows writes one chunk of report rows in a single transaction.
// Rows already present for the same source position are skipped, never replaced.
func (s *Store) InsertReportRows(ctx context.Context, rows []ReportRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	var written int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		written, err = insertBatches(tx, rows, s.batchSize, clause.OnConflict{
			Columns:   columns(ReportRowConflictColumns),
			DoNothing: true,
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert report rows: %w", err)
	}
	return written, nil
}

// CountReportRows counts the rows imported for an export run
func (s *Store) CountReportRows(ctx context.Context, exportRunID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&ReportRow{}).Where("export_run_id = ?", exportRunID).Count(&n).Error
	return n, err
}

// ReportQuery narrows the rows handed to the report aggregator
type ReportQuery struct {
	SubscriptionID string
	// Start and End select rows whose billing period overlaps the window (YYYY-MM-DD)
	Start string
	End   string
}

// currentRuns selects, among the runs that have imported rows, the latest
// one of each (subscription, report start) period. Rows of superseded runs
// stay stored but are left out of reports.
const currentRuns = `export_run_id IN (
	SELECT r.id FROM export_runs r
	WHERE r.id IN (SELECT DISTINCT export_run_id FROM report_rows)
	AND NOT EXISTS (
		SELECT 1 FROM export_runs n
		WHERE n.subscription_id = r.subscription_id
		AND n.report_from = r.report_from
		AND n.id IN (SELECT DISTINCT export_run_id FROM report_rows)
		AND (n.report_to > r.report_to OR (n.report_to = r.report_to AND n.id > r.id))
	)
)`

// ReportRows loads report rows for aggregation. Only rows of the latest
// imported run of each report period are returned.
func (s *Store) ReportRows(ctx context.Context, q ReportQuery) ([]ReportRow, error) {
	tx := s.db.WithContext(ctx).Model(&ReportRow{}).Where(currentRuns)
	if q.SubscriptionID != "" {
		tx = tx.Where("subscription_id = ?", q.SubscriptionID)
	}
	if q.End != "" {
		tx = tx.Where("billing_period_start_date <= ?", q.End)
	}
	if q.Start != "" {
		tx = tx.Where("billing_period_end_date >= ?", q.Start)
	}

	var rows []ReportRow
	if err := tx.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load report rows: %w", err)
	}
	return rows, nil
}

// InsertMarketplaces writes marketplace charges, skipping known (subscription, source id) pairs
func (s *Store) InsertMarketplaces(ctx context.Context, items []Marketplace) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	var written int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		written, err = insertBatches(tx, items, s.batchSize, clause.OnConflict{
			Columns:   columns(MarketplaceConflictColumns),
			DoNothing: true,
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert marketplaces: %w", err)
	}
	return written, nil
}

// CountMarketplaces counts the marketplace charges of a subscription
func (s *Store) CountMarketplaces(ctx context.Context, subscriptionID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Marketplace{}).Where("subscription_id = ?", subscriptionID).Count(&n).Error
	return n, err
}
