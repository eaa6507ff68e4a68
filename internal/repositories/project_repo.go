package repositories

import (
	"context"
	"fmt"
	"math/big"

	"github.com/fairlance/backend/internal/escrow"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProjectRepo persists engine snapshots. The engine remains the source of
// truth while the process runs; rows here exist to restore state on boot and
// to serve list queries without locking the engine.
type ProjectRepo struct {
	pool *pgxpool.Pool
}

func NewProjectRepo(pool *pgxpool.Pool) *ProjectRepo {
	return &ProjectRepo{pool: pool}
}

// Save upserts the project and its milestones in one transaction. Milestone
// count is fixed at creation, so upserting by (project_id, idx) is exhaustive.
func (r *ProjectRepo) Save(ctx context.Context, snap *escrow.Snapshot) error {
	p := snap.Project
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO projects (id, client_id, freelancer_id, title, description, total_nano, remaining_nano,
		                      status, deadline, funds_deposited, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			remaining_nano = EXCLUDED.remaining_nano,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`, int64(p.ID), p.Client, p.Freelancer, p.Title, p.Description,
		p.TotalAmount.String(), snap.Remaining.String(),
		string(p.Status), p.Deadline, p.FundsDeposited, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return err
	}

	for i, m := range p.Milestones {
		_, err = tx.Exec(ctx, `
			INSERT INTO milestones (project_id, idx, description, amount_nano, status,
			                        deliverable_hash, deliverable_url, due_date, submitted_at, approved_at, rejected_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (project_id, idx) DO UPDATE SET
				status = EXCLUDED.status,
				deliverable_hash = EXCLUDED.deliverable_hash,
				deliverable_url = EXCLUDED.deliverable_url,
				submitted_at = EXCLUDED.submitted_at,
				approved_at = EXCLUDED.approved_at,
				rejected_at = EXCLUDED.rejected_at
		`, int64(p.ID), i, m.Description, m.Amount.String(), string(m.Status),
			m.DeliverableHash, m.DeliverableURL, m.DueDate, m.SubmittedAt, m.ApprovedAt, m.RejectedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// LoadAll returns every persisted snapshot, milestones in index order. Called
// once at boot to seed the engine.
func (r *ProjectRepo) LoadAll(ctx context.Context) ([]*escrow.Snapshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, client_id, freelancer_id, title, description, total_nano, remaining_nano,
		       status, deadline, funds_deposited, created_at, updated_at
		FROM projects ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*escrow.Snapshot
	byID := make(map[uint64]*escrow.Snapshot)
	for rows.Next() {
		var id int64
		var p escrow.Project
		var totalStr, remainStr, status string
		if err := rows.Scan(&id, &p.Client, &p.Freelancer, &p.Title, &p.Description,
			&totalStr, &remainStr, &status, &p.Deadline, &p.FundsDeposited, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.ID = uint64(id)
		p.Status = escrow.ProjectStatus(status)
		var err error
		if p.TotalAmount, err = parseNano(totalStr); err != nil {
			return nil, fmt.Errorf("project %d total: %w", id, err)
		}
		remaining, err := parseNano(remainStr)
		if err != nil {
			return nil, fmt.Errorf("project %d remaining: %w", id, err)
		}
		snap := &escrow.Snapshot{Project: &p, Remaining: remaining}
		snaps = append(snaps, snap)
		byID[p.ID] = snap
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	mrows, err := r.pool.Query(ctx, `
		SELECT project_id, idx, description, amount_nano, status,
		       deliverable_hash, deliverable_url, due_date, submitted_at, approved_at, rejected_at
		FROM milestones ORDER BY project_id, idx
	`)
	if err != nil {
		return nil, err
	}
	defer mrows.Close()

	for mrows.Next() {
		var projectID int64
		var idx int
		var m escrow.Milestone
		var amountStr, status string
		if err := mrows.Scan(&projectID, &idx, &m.Description, &amountStr, &status,
			&m.DeliverableHash, &m.DeliverableURL, &m.DueDate, &m.SubmittedAt, &m.ApprovedAt, &m.RejectedAt); err != nil {
			return nil, err
		}
		m.Status = escrow.MilestoneStatus(status)
		if m.Amount, err = parseNano(amountStr); err != nil {
			return nil, fmt.Errorf("milestone %d/%d amount: %w", projectID, idx, err)
		}
		snap, ok := byID[uint64(projectID)]
		if !ok {
			return nil, fmt.Errorf("milestone %d/%d has no project row", projectID, idx)
		}
		snap.Project.Milestones = append(snap.Project.Milestones, &m)
	}
	if err := mrows.Err(); err != nil {
		return nil, err
	}

	return snaps, nil
}

type ProjectFilter struct {
	UserID *uuid.UUID // matches client or freelancer
	Status *string
	Limit  int
	Offset int
}

// ProjectRow is the list-view shape. Milestone detail comes from the engine.
type ProjectRow struct {
	ID            uint64    `json:"id"`
	ClientID      uuid.UUID `json:"client_id"`
	FreelancerID  uuid.UUID `json:"freelancer_id"`
	Title         string    `json:"title"`
	TotalNano     string    `json:"total_nano"`
	RemainingNano string    `json:"remaining_nano"`
	Status        string    `json:"status"`
	Deadline      int64     `json:"deadline"`
	CreatedAt     int64     `json:"created_at"`
	UpdatedAt     int64     `json:"updated_at"`
}

func (r *ProjectRepo) List(ctx context.Context, f ProjectFilter) ([]ProjectRow, error) {
	query := `
		SELECT id, client_id, freelancer_id, title, total_nano, remaining_nano, status, deadline, created_at, updated_at
		FROM projects
	`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.UserID != nil {
		where = append(where, fmt.Sprintf("(client_id = $%d OR freelancer_id = $%d)", argIdx, argIdx))
		args = append(args, *f.UserID)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}

	if len(where) > 0 {
		query += " WHERE "
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProjectRow
	for rows.Next() {
		var (
			id int64
			p  ProjectRow
		)
		if err := rows.Scan(&id, &p.ClientID, &p.FreelancerID, &p.Title, &p.TotalNano, &p.RemainingNano,
			&p.Status, &p.Deadline, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.ID = uint64(id)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListDeadlineApproaching returns active projects whose deadline falls within
// [now, now+window) and that have not been notified yet. The worker marks
// each row after notifying so reminders fire once.
func (r *ProjectRepo) ListDeadlineApproaching(ctx context.Context, now, window int64) ([]ProjectRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, client_id, freelancer_id, title, total_nano, remaining_nano, status, deadline, created_at, updated_at
		FROM projects
		WHERE status IN ('funded', 'in_progress')
		  AND deadline >= $1 AND deadline < $2
		  AND NOT deadline_notified
		ORDER BY deadline
	`, now, now+window)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProjectRow
	for rows.Next() {
		var (
			id int64
			p  ProjectRow
		)
		if err := rows.Scan(&id, &p.ClientID, &p.FreelancerID, &p.Title, &p.TotalNano, &p.RemainingNano,
			&p.Status, &p.Deadline, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.ID = uint64(id)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *ProjectRepo) MarkDeadlineNotified(ctx context.Context, projectID uint64) error {
	_, err := r.pool.Exec(ctx, `UPDATE projects SET deadline_notified = true WHERE id = $1`, int64(projectID))
	return err
}

func parseNano(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	return v, nil
}
