package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lostfound/apiserver/types"
)

const itemColumns = `id, title, description, category, location, type, date, status,
		       image_path, submitted_by, created_at,
		       approved_by, approved_at, rejected_by, rejected_at`

// ItemRepository handles persistence for lost/found item reports.
type ItemRepository struct {
	db *sql.DB
}

func NewItemRepository(db *sql.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

func (r *ItemRepository) Create(ctx context.Context, item types.Item) (types.Item, error) {
	item.CreatedAt = time.Now()

	const query = `
		INSERT INTO items (title, description, category, location, type, date, status,
		                   image_path, submitted_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		item.Title,
		item.Description,
		item.Category,
		item.Location,
		item.Type,
		item.Date,
		item.Status,
		nullString(item.ImagePath),
		item.SubmittedBy,
		item.CreatedAt,
	).Scan(&item.ID); err != nil {
		return types.Item{}, err
	}
	return item, nil
}

func (r *ItemRepository) GetByID(ctx context.Context, id int64) (types.Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM items
		WHERE id = $1`
	item, err := scanItem(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Item{}, ErrNotFound
		}
		return types.Item{}, err
	}
	return item, nil
}

// ListBySubmitter returns items owned by the given username. The match is
// whole-field and case-insensitive against the write-normalized submitter.
func (r *ItemRepository) ListBySubmitter(ctx context.Context, username string, offset, limit int) ([]types.Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM items
		WHERE LOWER(submitted_by) = LOWER($1)
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3`
	return r.list(ctx, query, strings.TrimSpace(username), offset, limit)
}

// ListByStatus returns items in the given moderation state.
func (r *ItemRepository) ListByStatus(ctx context.Context, status string, offset, limit int) ([]types.Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM items
		WHERE status = $1
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3`
	return r.list(ctx, query, status, offset, limit)
}

// SearchApproved returns approved items matching the filter. All provided
// predicates are ANDed; the keyword matches title or description.
func (r *ItemRepository) SearchApproved(ctx context.Context, filter types.ItemFilter, offset, limit int) ([]types.Item, error) {
	where := []string{"status = $1"}
	args := []any{types.ItemStatusApproved}

	if filter.Category != "" {
		args = append(args, likePattern(filter.Category))
		where = append(where, fmt.Sprintf("category ILIKE $%d", len(args)))
	}
	if filter.Location != "" {
		args = append(args, likePattern(filter.Location))
		where = append(where, fmt.Sprintf("location ILIKE $%d", len(args)))
	}
	if filter.Day != nil {
		start := *filter.Day
		args = append(args, start)
		where = append(where, fmt.Sprintf("date >= $%d", len(args)))
		args = append(args, start.Add(24*time.Hour))
		where = append(where, fmt.Sprintf("date < $%d", len(args)))
	}
	if filter.Keyword != "" {
		args = append(args, likePattern(filter.Keyword))
		n := len(args)
		where = append(where, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", n, n))
	}

	args = append(args, offset, limit)
	query := fmt.Sprintf(`
		SELECT %s
		FROM items
		WHERE %s
		ORDER BY created_at DESC, id DESC
		OFFSET $%d LIMIT $%d`,
		itemColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	return r.list(ctx, query, args...)
}

// Approve marks a pending item approved, recording the moderator and time.
// Returns ErrNotFound for unknown ids and ErrConflict when the item has
// already been decided.
func (r *ItemRepository) Approve(ctx context.Context, id int64, moderator string, decidedAt time.Time) error {
	const query = `
		UPDATE items
		SET status = $1,
			approved_by = $2,
			approved_at = $3
		WHERE id = $4 AND status = $5`
	return r.moderate(ctx, query, id, types.ItemStatusApproved, moderator, decidedAt)
}

// Reject marks a pending item rejected, recording the moderator and time.
// Returns ErrNotFound for unknown ids and ErrConflict when the item has
// already been decided.
func (r *ItemRepository) Reject(ctx context.Context, id int64, moderator string, decidedAt time.Time) error {
	const query = `
		UPDATE items
		SET status = $1,
			rejected_by = $2,
			rejected_at = $3
		WHERE id = $4 AND status = $5`
	return r.moderate(ctx, query, id, types.ItemStatusRejected, moderator, decidedAt)
}

// moderate applies a status transition guarded on the current status being
// pending. The single-row UPDATE is the serialization point between two
// racing moderation calls: at most one can match.
func (r *ItemRepository) moderate(ctx context.Context, query string, id int64, status, moderator string, decidedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, query, status, moderator, decidedAt, id, types.ItemStatusPending)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Distinguish a missing item from one that was already decided.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (r *ItemRepository) list(ctx context.Context, query string, args ...any) ([]types.Item, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]types.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (types.Item, error) {
	var item types.Item
	var imagePath, approvedBy, rejectedBy sql.NullString
	var approvedAt, rejectedAt sql.NullTime
	if err := row.Scan(
		&item.ID,
		&item.Title,
		&item.Description,
		&item.Category,
		&item.Location,
		&item.Type,
		&item.Date,
		&item.Status,
		&imagePath,
		&item.SubmittedBy,
		&item.CreatedAt,
		&approvedBy,
		&approvedAt,
		&rejectedBy,
		&rejectedAt,
	); err != nil {
		return types.Item{}, err
	}

	item.ImagePath = imagePath.String
	item.ApprovedBy = approvedBy.String
	item.RejectedBy = rejectedBy.String
	if approvedAt.Valid {
		t := approvedAt.Time
		item.ApprovedAt = &t
	}
	if rejectedAt.Valid {
		t := rejectedAt.Time
		item.RejectedAt = &t
	}
	return item, nil
}

func likePattern(value string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
	return "%" + escaped + "%"
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
