package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts pgxpool.Pool so the store can be mocked in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ApplicationStatus tracks where a listing sits in the pipeline.
type ApplicationStatus string

const (
	StatusQueued  ApplicationStatus = "queued"
	StatusApplied ApplicationStatus = "applied"
	StatusSkipped ApplicationStatus = "skipped"
	StatusFailed  ApplicationStatus = "failed"
)

// Application is one listing the hunt evaluated, with its scoring outcome.
type Application struct {
	ID          string            `json:"id"`
	UserID      string            `json:"userId"`
	Platform    string            `json:"platform"`
	Org         string            `json:"org"`
	Title       string            `json:"title"`
	Location    string            `json:"location,omitempty"`
	URL         string            `json:"url,omitempty"`
	SalaryRange string            `json:"salaryRange,omitempty"`
	Score       float64           `json:"score"`
	Alignments  []string          `json:"alignments,omitempty"`
	Status      ApplicationStatus `json:"status"`
	Reasoning   string            `json:"reasoning,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// RunSummary aggregates one finished hunt run.
type RunSummary struct {
	RunID        string    `json:"runId"`
	UserID       string    `json:"userId"`
	Platform     string    `json:"platform"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
	Outcome      string    `json:"outcome"`
	PagesVisited int       `json:"pagesVisited"`
	ItemsSeen    int       `json:"itemsSeen"`
	ItemsApplied int       `json:"itemsApplied"`
	ItemsSkipped int       `json:"itemsSkipped"`
	ItemsFailed  int       `json:"itemsFailed"`
}

// Store provides the PostgreSQL persistence layer.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const upsertApplicationSQL = `
    INSERT INTO applications (id, user_id, platform, org, title, location, url, salary_range, score, alignments, status, reasoning, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
    ON CONFLICT (user_id, platform, org, title) DO UPDATE SET
        location = EXCLUDED.location,
        url = EXCLUDED.url,
        salary_range = EXCLUDED.salary_range,
        score = EXCLUDED.score,
        alignments = EXCLUDED.alignments,
        status = EXCLUDED.status,
        reasoning = EXCLUDED.reasoning,
        updated_at = EXCLUDED.updated_at;
`

// UpsertApplication records a listing outcome, keyed by (user, platform, org,
// title) so re-running a hunt updates rather than duplicates.
func (s *Store) UpsertApplication(ctx context.Context, app Application) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}

	alignments, err := json.Marshal(app.Alignments)
	if err != nil {
		return fmt.Errorf("failed to encode alignments: %w", err)
	}
	if app.Alignments == nil {
		alignments = []byte("[]")
	}

	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, upsertApplicationSQL,
		app.ID, app.UserID, app.Platform, app.Org, app.Title,
		app.Location, app.URL, app.SalaryRange,
		app.Score, alignments, string(app.Status), app.Reasoning, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert application: %w", err)
	}
	return nil
}

const upsertRunSummarySQL = `
    INSERT INTO run_summaries (run_id, user_id, platform, started_at, finished_at, outcome, pages_visited, items_seen, items_applied, items_skipped, items_failed)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    ON CONFLICT (run_id) DO UPDATE SET
        finished_at = EXCLUDED.finished_at,
        outcome = EXCLUDED.outcome,
        pages_visited = EXCLUDED.pages_visited,
        items_seen = EXCLUDED.items_seen,
        items_applied = EXCLUDED.items_applied,
        items_skipped = EXCLUDED.items_skipped,
        items_failed = EXCLUDED.items_failed;
`

// UpsertRunSummary writes the aggregate for a finished run. Timestamps are
// normalized to UTC before insertion.
func (s *Store) UpsertRunSummary(ctx context.Context, sum RunSummary) error {
	_, err := s.pool.Exec(ctx, upsertRunSummarySQL,
		sum.RunID, sum.UserID, sum.Platform,
		sum.StartedAt.UTC(), sum.FinishedAt.UTC(), sum.Outcome,
		sum.PagesVisited, sum.ItemsSeen, sum.ItemsApplied, sum.ItemsSkipped, sum.ItemsFailed,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert run summary: %w", err)
	}
	return nil
}

const listApplicationsSQL = `
    SELECT id, user_id, platform, org, title, location, url, salary_range, score, alignments, status, reasoning, created_at, updated_at
    FROM applications
    WHERE user_id = $1
    ORDER BY updated_at DESC
    LIMIT $2;
`

// ListApplications returns the user's most recently touched applications.
func (s *Store) ListApplications(ctx context.Context, userID string, limit int) ([]Application, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, listApplicationsSQL, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query applications: %w", err)
	}
	defer rows.Close()

	var apps []Application
	for rows.Next() {
		var app Application
		var statusStr string
		var alignments []byte

		err := rows.Scan(
			&app.ID, &app.UserID, &app.Platform, &app.Org, &app.Title,
			&app.Location, &app.URL, &app.SalaryRange,
			&app.Score, &alignments, &statusStr, &app.Reasoning,
			&app.CreatedAt, &app.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application row: %w", err)
		}

		app.Status = ApplicationStatus(statusStr)
		if len(alignments) > 0 {
			if err := json.Unmarshal(alignments, &app.Alignments); err != nil {
				s.log.Warn("Unreadable alignments payload", zap.String("id", app.ID), zap.Error(err))
			}
		}
		apps = append(apps, app)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return apps, nil
}
