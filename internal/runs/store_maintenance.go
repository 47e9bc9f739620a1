package runs

import (
	"context"
	"fmt"
	"time"
)

// ResetStuckProcessing rolls back runs left in an in-flight status by an
// interrupted command to the checkpoint their stage started from. Returns the
// number of runs reset.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	var total int64
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, transition := range processingRollbackTransitions() {
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE runs SET status = ?, progress_percent = 0, progress_message = '', updated_at = ?
             WHERE status = ?`,
			transition.to, now, transition.from,
		)
		if err != nil {
			return total, fmt.Errorf("reset %s runs: %w", transition.from, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("rows affected: %w", err)
		}
		total += affected
	}
	return total, nil
}

// Health returns aggregated run counts per lifecycle state.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	var summary HealthSummary
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM runs GROUP BY status")
	if err != nil {
		return summary, fmt.Errorf("run health query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return summary, fmt.Errorf("scan health row: %w", err)
		}
		summary.Total += count
		switch {
		case Status(status) == StatusPending:
			summary.Pending += count
		case IsProcessingStatus(Status(status)):
			summary.Processing += count
		case Status(status) == StatusFailed:
			summary.Failed += count
		case Status(status) == StatusReview:
			summary.Review += count
		case Status(status) == StatusCompleted:
			summary.Completed += count
		}
	}
	return summary, rows.Err()
}
