package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/atinyakov/PLMSync/internal/models"
)

const itemColumns = `id, type, item_number, name, state, COALESCE(locked_by, ''), revision, properties, created_at, modified_at`

// searchColumns maps filter keys to builtin item columns. Other keys are
// matched against the properties document.
var searchColumns = map[string]string{
	"id":          "id",
	"item_number": "item_number",
	"name":        "name",
	"state":       "state",
	"locked_by":   "locked_by",
	"revision":    "revision",
}

// uniqueViolation is the postgres SQLSTATE of a unique constraint failure.
const uniqueViolation = "23505"

// PostgresItemRepository stores items in PostgreSQL.
type PostgresItemRepository struct {
	DB *sql.DB
	SQ sq.StatementBuilderType
}

// NewPostgresItemRepository returns an item repository on db.
func NewPostgresItemRepository(db *sql.DB) *PostgresItemRepository {
	return &PostgresItemRepository{DB: db, SQ: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*models.Item, error) {
	var (
		it    models.Item
		props []byte
	)
	if err := row.Scan(&it.ID, &it.Type, &it.ItemNumber, &it.Name, &it.State, &it.LockedBy,
		&it.Revision, &props, &it.CreatedAt, &it.ModifiedAt); err != nil {
		return nil, err
	}
	if len(props) > 0 {
		if err := json.Unmarshal(props, &it.Properties); err != nil {
			return nil, fmt.Errorf("decode properties: %w", err)
		}
	}
	return &it, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// CreateItem inserts it. A duplicate item number yields models.ErrExists.
func (r *PostgresItemRepository) CreateItem(ctx context.Context, it *models.Item) error {
	props, err := json.Marshal(nonNil(it.Properties))
	if err != nil {
		return fmt.Errorf("encode properties: %w", err)
	}
	err = r.DB.QueryRowContext(ctx, `
		INSERT INTO items (id, type, item_number, name, state, revision, properties)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, modified_at
	`, it.ID, it.Type, it.ItemNumber, it.Name, it.State, it.Revision, props).Scan(&it.CreatedAt, &it.ModifiedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("item %s %s: %w", it.Type, it.ItemNumber, models.ErrExists)
	}
	if err != nil {
		return fmt.Errorf("CreateItem: %w", err)
	}
	return nil
}

// GetItem resolves ref as an item ID, falling back to the item number.
func (r *PostgresItemRepository) GetItem(ctx context.Context, t models.ItemType, ref string) (*models.Item, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM items
		 WHERE type = $1 AND (id = $2 OR item_number = $2)
		 ORDER BY (id = $2) DESC
		 LIMIT 1
	`, t, ref)
	it, err := scanItem(row)
	if err != nil {
		return nil, notFound(err, "item "+ref)
	}
	return it, nil
}

// SearchItems returns items of type t matching every filter entry, ordered
// by item number. Values containing % are matched with LIKE.
func (r *PostgresItemRepository) SearchItems(ctx context.Context, t models.ItemType, filter map[string]string) ([]models.Item, error) {
	q := r.SQ.Select(itemColumns).From("items").Where(sq.Eq{"type": t})

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := filter[k]
		wildcard := strings.Contains(v, "%")
		col, builtin := searchColumns[k]
		switch {
		case builtin && wildcard:
			q = q.Where(sq.Like{col: v})
		case builtin:
			q = q.Where(sq.Eq{col: v})
		case wildcard:
			q = q.Where(sq.Expr("properties->>? LIKE ?", k, v))
		default:
			q = q.Where(sq.Expr("properties->>? = ?", k, v))
		}
	}

	sqlStr, args, err := q.OrderBy("item_number").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build search: %w", err)
	}
	rows, err := r.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("SearchItems: %w", err)
	}
	defer rows.Close()

	items := []models.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// SetState moves the item to state.
func (r *PostgresItemRepository) SetState(ctx context.Context, id, state string) (*models.Item, error) {
	row := r.DB.QueryRowContext(ctx, `
		UPDATE items SET state = $1, modified_at = now()
		 WHERE id = $2
		RETURNING `+itemColumns, state, id)
	it, err := scanItem(row)
	if err != nil {
		return nil, notFound(err, "item "+id)
	}
	return it, nil
}

// LockItem sets the lock holder to user when the item is unlocked or
// already held by user. Otherwise it reports *models.LockConflictError.
func (r *PostgresItemRepository) LockItem(ctx context.Context, id, user string) (*models.Item, error) {
	row := r.DB.QueryRowContext(ctx, `
		UPDATE items SET locked_by = $1, modified_at = now()
		 WHERE id = $2 AND (locked_by IS NULL OR locked_by = $1)
		RETURNING `+itemColumns, user, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.lockFailure(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("LockItem: %w", err)
	}
	return it, nil
}

// UnlockItem clears a lock held by user. Unlocking an unlocked item succeeds.
func (r *PostgresItemRepository) UnlockItem(ctx context.Context, id, user string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE items SET locked_by = NULL, modified_at = now()
		 WHERE id = $1 AND (locked_by IS NULL OR locked_by = $2)
	`, id, user)
	if err != nil {
		return fmt.Errorf("UnlockItem: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.lockFailure(ctx, id)
	}
	return nil
}

// lockFailure explains an UPDATE that matched no row.
func (r *PostgresItemRepository) lockFailure(ctx context.Context, id string) error {
	var holder string
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(locked_by, '') FROM items WHERE id = $1`, id).Scan(&holder)
	if err != nil {
		return notFound(err, "item "+id)
	}
	return &models.LockConflictError{Holder: holder}
}

// SetProperty writes one direct property value.
func (r *PostgresItemRepository) SetProperty(ctx context.Context, id, name, value string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE items SET properties = properties || jsonb_build_object($1::text, $2::text), modified_at = now()
		 WHERE id = $3
	`, name, value, id)
	if err != nil {
		return fmt.Errorf("SetProperty: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("item %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// FileOwners returns the items that relate to fileID or name it as their
// native file, ordered by item number.
func (r *PostgresItemRepository) FileOwners(ctx context.Context, fileID string) ([]models.Item, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM items
		 WHERE id IN (SELECT source_id FROM relationships WHERE related_id = $1)
		    OR properties->>$2 = $1
		 ORDER BY item_number
	`, fileID, models.PropertyNativeFile)
	if err != nil {
		return nil, fmt.Errorf("FileOwners: %w", err)
	}
	defer rows.Close()

	items := []models.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
