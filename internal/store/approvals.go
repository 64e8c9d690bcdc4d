package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"approvaldesk/internal/approval"
	"approvaldesk/internal/attrs"
)

const (
	uniqueViolation = "23505"
	// DefaultRequestTable is the table created by the bundled migrations.
	DefaultRequestTable = "approval_requests"
	onePendingSuffix    = "_one_pending"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z_][a-z0-9_]*)?$`)

const requestColumns = `id, request_type, requester_id, approvable_type, approvable_id,
	attributes, relationships, original_data, resource_class, status,
	decided_by_id, decided_reason, decided_at, created_at, updated_at, deleted_at`

// ApprovalStore is the Postgres approval.Repository. A custom table must
// share the shape of the bundled one, including a unique "<table>_one_pending"
// partial index.
type ApprovalStore struct {
	db    *sqlx.DB
	table string
}

func NewApprovalStore(db *sqlx.DB, table string) (*ApprovalStore, error) {
	if table == "" {
		table = DefaultRequestTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid approval request table %q", table)
	}
	return &ApprovalStore{db: db, table: table}, nil
}

// sql binds the configured table into query.
func (s *ApprovalStore) sql(query string) string {
	return strings.ReplaceAll(query, "{table}", s.table)
}

func (s *ApprovalStore) DB() *sqlx.DB {
	return s.db
}

func (s *ApprovalStore) Create(ctx context.Context, req *approval.Request) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = req.CreatedAt
	}
	_, err := conn(ctx, s.db).ExecContext(ctx, s.sql(`
		INSERT INTO {table} (
			id, request_type, requester_id, approvable_type, approvable_id,
			attributes, relationships, original_data, resource_class, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::json, $7::json, $8::json, $9, $10, $11, $12)
	`),
		req.ID, req.Type, req.RequesterID, req.ApprovableType, req.ApprovableID,
		attrs.OrEmpty(req.Attributes), attrs.OrEmpty(req.Relationships), attrs.OrEmpty(req.OriginalData),
		req.ResourceClass, req.Status, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && strings.HasSuffix(pgErr.ConstraintName, onePendingSuffix) {
			return approval.ConflictError(req.ApprovableType, req.TargetID())
		}
		return fmt.Errorf("insert approval request: %w", err)
	}
	return nil
}

func (s *ApprovalStore) Get(ctx context.Context, id string) (approval.Request, error) {
	return s.get(ctx, s.sql(`SELECT `+requestColumns+` FROM {table} WHERE id = $1`), id)
}

func (s *ApprovalStore) GetForUpdate(ctx context.Context, id string) (approval.Request, error) {
	return s.get(ctx, s.sql(`SELECT `+requestColumns+` FROM {table} WHERE id = $1 FOR UPDATE`), id)
}

func (s *ApprovalStore) get(ctx context.Context, query, id string) (approval.Request, error) {
	var req approval.Request
	err := sqlx.GetContext(ctx, conn(ctx, s.db), &req, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return approval.Request{}, approval.NotFoundError("approval request", id)
	}
	if err != nil {
		return approval.Request{}, fmt.Errorf("get approval request: %w", err)
	}
	return req, nil
}

func (s *ApprovalStore) HasPending(ctx context.Context, approvableType, approvableID string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, conn(ctx, s.db), &exists, s.sql(`
		SELECT EXISTS(
			SELECT 1 FROM {table}
			WHERE approvable_type = $1 AND approvable_id = $2
				AND status = 'pending' AND deleted_at IS NULL
		)
	`), approvableType, approvableID)
	if err != nil {
		return false, fmt.Errorf("check pending approval: %w", err)
	}
	return exists, nil
}

func (s *ApprovalStore) FindPendingOrLatest(ctx context.Context, approvableType, approvableID string) (*approval.Request, error) {
	var req approval.Request
	err := sqlx.GetContext(ctx, conn(ctx, s.db), &req, s.sql(`
		SELECT `+requestColumns+` FROM {table}
		WHERE approvable_type = $1 AND approvable_id = $2 AND deleted_at IS NULL
		ORDER BY (status = 'pending') DESC, created_at DESC, id DESC
		LIMIT 1
	`), approvableType, approvableID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find approval for target: %w", err)
	}
	return &req, nil
}

func (s *ApprovalStore) List(ctx context.Context, filter approval.ListFilter) ([]approval.Request, int, error) {
	where, args := listConditions(filter)

	var total int
	if err := sqlx.GetContext(ctx, conn(ctx, s.db), &total, s.sql(`SELECT COUNT(*) FROM {table}`)+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count approval requests: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(s.sql(`SELECT %s FROM {table}%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`),
		requestColumns, where, len(args)-1, len(args))

	items := []approval.Request{}
	if err := sqlx.SelectContext(ctx, conn(ctx, s.db), &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list approval requests: %w", err)
	}
	return items, total, nil
}

func listConditions(filter approval.ListFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Type != "" {
		add("request_type = $%d", filter.Type)
	}
	if filter.ApprovableType != "" {
		add("approvable_type = $%d", filter.ApprovableType)
	}
	if filter.ApprovableID != "" {
		add("approvable_id = $%d", filter.ApprovableID)
	}
	if filter.RequesterID != "" {
		add("requester_id = $%d", filter.RequesterID)
	}
	if !filter.IncludeDeleted {
		conds = append(conds, "deleted_at IS NULL")
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Finalize only touches pending rows, so a concurrent decision loses.
func (s *ApprovalStore) Finalize(ctx context.Context, d approval.Decision) error {
	res, err := conn(ctx, s.db).ExecContext(ctx, s.sql(`
		UPDATE {table}
		SET status = $2,
			decided_by_id = $3,
			decided_reason = NULLIF($4, ''),
			decided_at = $5,
			updated_at = $5,
			approvable_id = COALESCE(approvable_id, NULLIF($6, ''))
		WHERE id = $1 AND status = 'pending'
	`), d.RequestID, d.Status, d.DecidedByID, d.Reason, d.DecidedAt, d.ApprovableID)
	if err != nil {
		return fmt.Errorf("finalize approval request: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize approval request: %w", err)
	}
	if rows == 0 {
		current, err := s.Get(ctx, d.RequestID)
		if err != nil {
			return err
		}
		return approval.InvalidStateError(current.ID, current.Status)
	}
	return nil
}

func (s *ApprovalStore) Archive(ctx context.Context, id string, at time.Time) error {
	res, err := conn(ctx, s.db).ExecContext(ctx, s.sql(`
		UPDATE {table} SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`), id, at)
	if err != nil {
		return fmt.Errorf("archive approval request: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *ApprovalStore) ApprovableTypes(ctx context.Context) ([]string, error) {
	types := []string{}
	err := sqlx.SelectContext(ctx, conn(ctx, s.db), &types, s.sql(`
		SELECT DISTINCT approvable_type FROM {table}
		WHERE deleted_at IS NULL
		ORDER BY approvable_type
	`))
	if err != nil {
		return nil, fmt.Errorf("list approvable types: %w", err)
	}
	return types, nil
}

// Search is the database fallback for the review-queue search. It matches
// the query against the type, requester and captured payloads.
func (s *ApprovalStore) Search(ctx context.Context, query string, filter approval.ListFilter) ([]approval.Request, error) {
	where, args := listConditions(filter)
	args = append(args, "%"+escapeLike(strings.TrimSpace(query))+"%")
	match := fmt.Sprintf(`(approvable_type ILIKE $%[1]d OR requester_id ILIKE $%[1]d OR COALESCE(approvable_id, '') ILIKE $%[1]d
		OR attributes::text ILIKE $%[1]d OR original_data::text ILIKE $%[1]d)`, len(args))
	if where == "" {
		where = " WHERE " + match
	} else {
		where += " AND " + match
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, filter.Offset)
	sqlQuery := fmt.Sprintf(s.sql(`SELECT %s FROM {table}%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`),
		requestColumns, where, len(args)-1, len(args))

	items := []approval.Request{}
	if err := sqlx.SelectContext(ctx, conn(ctx, s.db), &items, sqlQuery, args...); err != nil {
		return nil, fmt.Errorf("search approval requests: %w", err)
	}
	return items, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
