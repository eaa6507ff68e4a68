package repositories

import (
	"context"
	"time"

	"github.com/fairlance/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PayoutRepo struct {
	pool *pgxpool.Pool
}

func NewPayoutRepo(pool *pgxpool.Pool) *PayoutRepo {
	return &PayoutRepo{pool: pool}
}

func (r *PayoutRepo) Create(ctx context.Context, p *models.Payout) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO payouts (project_id, milestone_index, kind, recipient_id, address, amount_nano, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, int64(p.ProjectID), p.MilestoneIndex, p.Kind, p.RecipientID, p.Address, p.AmountNano, p.Status,
	).Scan(&p.ID, &p.CreatedAt)
}

// ListPending returns payouts awaiting delivery, oldest first, skipping rows
// that exhausted their attempts.
func (r *PayoutRepo) ListPending(ctx context.Context, maxAttempts, limit int) ([]models.Payout, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, project_id, milestone_index, kind, recipient_id, address, amount_nano, status, attempts, tx_ref, last_error, created_at, sent_at
		FROM payouts
		WHERE status = 'pending' AND attempts < $1
		ORDER BY created_at
		LIMIT $2
	`, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Payout
	for rows.Next() {
		var p models.Payout
		var projectID int64
		if err := rows.Scan(&p.ID, &projectID, &p.MilestoneIndex, &p.Kind, &p.RecipientID, &p.Address, &p.AmountNano,
			&p.Status, &p.Attempts, &p.TxRef, &p.LastError, &p.CreatedAt, &p.SentAt); err != nil {
			return nil, err
		}
		p.ProjectID = uint64(projectID)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PayoutRepo) MarkSent(ctx context.Context, id uuid.UUID, txRef string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE payouts SET status = 'sent', tx_ref = $1, sent_at = $2 WHERE id = $3
	`, txRef, time.Now(), id)
	return err
}

// MarkFailed bumps the attempt counter and records the error. The row stays
// pending until attempts run out, then flips to failed for manual review.
func (r *PayoutRepo) MarkFailed(ctx context.Context, id uuid.UUID, maxAttempts int, cause string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE payouts SET
			attempts = attempts + 1,
			last_error = $1,
			status = CASE WHEN attempts + 1 >= $2 THEN 'failed' ELSE 'pending' END
		WHERE id = $3
	`, cause, maxAttempts, id)
	return err
}

func (r *PayoutRepo) ListByProject(ctx context.Context, projectID uint64) ([]models.Payout, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, project_id, milestone_index, kind, recipient_id, address, amount_nano, status, attempts, tx_ref, last_error, created_at, sent_at
		FROM payouts WHERE project_id = $1 ORDER BY created_at
	`, int64(projectID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Payout
	for rows.Next() {
		var p models.Payout
		var pid int64
		if err := rows.Scan(&p.ID, &pid, &p.MilestoneIndex, &p.Kind, &p.RecipientID, &p.Address, &p.AmountNano,
			&p.Status, &p.Attempts, &p.TxRef, &p.LastError, &p.CreatedAt, &p.SentAt); err != nil {
			return nil, err
		}
		p.ProjectID = uint64(pid)
		out = append(out, p)
	}
	return out, rows.Err()
}
