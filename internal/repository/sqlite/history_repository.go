package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"trackersync/internal/domain"
	"trackersync/internal/repository"
)

const (
	createOutcomesTable = `
CREATE TABLE IF NOT EXISTS sync_outcomes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	release_id TEXT NOT NULL,
	ok INTEGER NOT NULL DEFAULT 0,
	reason TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	info_hash TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
`
	createOutcomesIndex = `CREATE INDEX IF NOT EXISTS idx_sync_outcomes_release ON sync_outcomes(release_id, id);`
)

type HistoryRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db, now: time.Now}
}

func (r *HistoryRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createOutcomesTable); err != nil {
		return fmt.Errorf("create sync_outcomes table: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, createOutcomesIndex); err != nil {
		return fmt.Errorf("create sync_outcomes index: %w", err)
	}
	return nil
}

func (r *HistoryRepository) Append(ctx context.Context, runID string, outcome domain.Outcome) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO sync_outcomes (run_id, release_id, ok, reason, message, info_hash, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID,
		outcome.ReleaseID,
		boolToInt(outcome.OK),
		string(outcome.Reason),
		outcome.Message,
		outcome.InfoHash,
		r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert sync outcome: %w", err)
	}
	return nil
}

func (r *HistoryRepository) ListByRelease(ctx context.Context, releaseID string, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, run_id, release_id, ok, reason, message, info_hash, created_at
FROM sync_outcomes
WHERE release_id=?
ORDER BY id DESC
LIMIT ?`,
		releaseID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sync outcomes: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var (
			entry     domain.HistoryEntry
			ok        int
			reason    string
			createdAt time.Time
		)
		if err := rows.Scan(&entry.ID, &entry.RunID, &entry.ReleaseID, &ok, &reason, &entry.Message, &entry.InfoHash, &createdAt); err != nil {
			return nil, fmt.Errorf("scan sync outcome: %w", err)
		}
		entry.OK = ok != 0
		entry.Reason = domain.FailureReason(reason)
		entry.CreatedAt = createdAt.Local()
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (r *HistoryRepository) DeleteByRelease(ctx context.Context, releaseID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sync_outcomes WHERE release_id=?`, releaseID); err != nil {
		return fmt.Errorf("delete sync outcomes: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ repository.HistoryRepository = (*HistoryRepository)(nil)
