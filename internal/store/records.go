package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"approvaldesk/internal/approval"
	"approvaldesk/internal/attrs"
	"approvaldesk/internal/util"
)

// Keys managed by the table itself. They are never written into data.
var reservedKeys = map[string]struct{}{"id": {}, "created_at": {}, "updated_at": {}}

// RecordStore keeps approvable records as JSON documents, with pivot links
// and owned children in side tables.
type RecordStore struct {
	db *sqlx.DB
}

func NewRecordStore(db *sqlx.DB) *RecordStore {
	return &RecordStore{db: db}
}

type recordRow struct {
	ID        string     `db:"id"`
	Data      *attrs.Map `db:"data"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

func writable(data *attrs.Map) *attrs.Map {
	return attrs.OrEmpty(data).Filter(func(key string) bool {
		_, reserved := reservedKeys[key]
		return !reserved
	})
}

func (s *RecordStore) Create(ctx context.Context, recordType string, data *attrs.Map) (string, error) {
	id := util.NewID("rec")
	_, err := conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO records (id, record_type, data) VALUES ($1, $2, $3::jsonb)
	`, id, recordType, writable(data))
	if err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}
	return id, nil
}

// Find returns the record data with id and timestamps folded in, the shape
// captured as a request snapshot.
func (s *RecordStore) Find(ctx context.Context, recordType, id string) (*attrs.Map, error) {
	var row recordRow
	err := sqlx.GetContext(ctx, conn(ctx, s.db), &row, `
		SELECT id, data, created_at, updated_at FROM records WHERE record_type = $1 AND id = $2
	`, recordType, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, approval.NotFoundError(recordType, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find record: %w", err)
	}
	out := attrs.New()
	out.Set("id", row.ID)
	for _, k := range row.Data.Keys() {
		v, _ := row.Data.Get(k)
		out.Set(k, v)
	}
	out.Set("created_at", row.CreatedAt.UTC().Format(time.RFC3339))
	out.Set("updated_at", row.UpdatedAt.UTC().Format(time.RFC3339))
	return out, nil
}

// Update merges data over the stored document.
func (s *RecordStore) Update(ctx context.Context, recordType, id string, data *attrs.Map) error {
	res, err := conn(ctx, s.db).ExecContext(ctx, `
		UPDATE records SET data = data || $3::jsonb, updated_at = NOW()
		WHERE record_type = $1 AND id = $2
	`, recordType, id, writable(data))
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	return requireRow(res, recordType, id)
}

func (s *RecordStore) Delete(ctx context.Context, recordType, id string) error {
	res, err := conn(ctx, s.db).ExecContext(ctx, `DELETE FROM records WHERE record_type = $1 AND id = $2`, recordType, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return requireRow(res, recordType, id)
}

func requireRow(res sql.Result, recordType, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return approval.NotFoundError(recordType, id)
	}
	return nil
}

func (s *RecordStore) SyncRelated(ctx context.Context, ref approval.RelationRef, ids []string) error {
	if _, err := conn(ctx, s.db).ExecContext(ctx, `
		DELETE FROM record_links WHERE owner_type = $1 AND owner_id = $2 AND relation = $3
	`, ref.OwnerType, ref.OwnerID, ref.Relation); err != nil {
		return fmt.Errorf("clear links: %w", err)
	}
	return s.AttachRelated(ctx, ref, ids)
}

func (s *RecordStore) AttachRelated(ctx context.Context, ref approval.RelationRef, ids []string) error {
	for _, related := range ids {
		if _, err := conn(ctx, s.db).ExecContext(ctx, `
			INSERT INTO record_links (owner_type, owner_id, relation, related_id, polymorphic)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (owner_type, owner_id, relation, related_id) DO NOTHING
		`, ref.OwnerType, ref.OwnerID, ref.Relation, related, ref.Polymorphic); err != nil {
			return fmt.Errorf("attach link %s: %w", related, err)
		}
	}
	return nil
}

// Related lists the linked ids of one relation.
func (s *RecordStore) Related(ctx context.Context, ref approval.RelationRef) ([]string, error) {
	ids := []string{}
	err := sqlx.SelectContext(ctx, conn(ctx, s.db), &ids, `
		SELECT related_id FROM record_links
		WHERE owner_type = $1 AND owner_id = $2 AND relation = $3
		ORDER BY created_at, related_id
	`, ref.OwnerType, ref.OwnerID, ref.Relation)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return ids, nil
}

func (s *RecordStore) ReplaceChildren(ctx context.Context, ref approval.RelationRef, items []*attrs.Map) error {
	if _, err := conn(ctx, s.db).ExecContext(ctx, `
		DELETE FROM record_children WHERE owner_type = $1 AND owner_id = $2 AND relation = $3
	`, ref.OwnerType, ref.OwnerID, ref.Relation); err != nil {
		return fmt.Errorf("clear children: %w", err)
	}
	for i, item := range items {
		if err := s.insertChild(ctx, ref, i, item); err != nil {
			return err
		}
	}
	return nil
}

// MergeChildren updates items whose id matches an existing child and
// creates the rest.
func (s *RecordStore) MergeChildren(ctx context.Context, ref approval.RelationRef, items []*attrs.Map) error {
	var next int
	if err := sqlx.GetContext(ctx, conn(ctx, s.db), &next, `
		SELECT COALESCE(MAX(position) + 1, 0) FROM record_children
		WHERE owner_type = $1 AND owner_id = $2 AND relation = $3
	`, ref.OwnerType, ref.OwnerID, ref.Relation); err != nil {
		return fmt.Errorf("child position: %w", err)
	}

	for _, item := range items {
		if raw, ok := item.Get("id"); ok && raw != nil {
			res, err := conn(ctx, s.db).ExecContext(ctx, `
				UPDATE record_children SET data = data || $5::jsonb, updated_at = NOW()
				WHERE owner_type = $1 AND owner_id = $2 AND relation = $3 AND id = $4
			`, ref.OwnerType, ref.OwnerID, ref.Relation, fmt.Sprint(raw), writable(item))
			if err != nil {
				return fmt.Errorf("update child: %w", err)
			}
			if rows, _ := res.RowsAffected(); rows > 0 {
				continue
			}
		}
		if err := s.insertChild(ctx, ref, next, item); err != nil {
			return err
		}
		next++
	}
	return nil
}

func (s *RecordStore) insertChild(ctx context.Context, ref approval.RelationRef, position int, item *attrs.Map) error {
	_, err := conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO record_children (id, owner_type, owner_id, relation, polymorphic, position, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
	`, util.NewID("chd"), ref.OwnerType, ref.OwnerID, ref.Relation, ref.Polymorphic, position, writable(item))
	if err != nil {
		return fmt.Errorf("insert child: %w", err)
	}
	return nil
}

// Children lists the owned children of one relation in position order, with
// their ids folded in.
func (s *RecordStore) Children(ctx context.Context, ref approval.RelationRef) ([]*attrs.Map, error) {
	var rows []recordRow
	err := sqlx.SelectContext(ctx, conn(ctx, s.db), &rows, `
		SELECT id, data, created_at, updated_at FROM record_children
		WHERE owner_type = $1 AND owner_id = $2 AND relation = $3
		ORDER BY position, created_at
	`, ref.OwnerType, ref.OwnerID, ref.Relation)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	out := make([]*attrs.Map, 0, len(rows))
	for _, row := range rows {
		child := attrs.New()
		child.Set("id", row.ID)
		for _, k := range row.Data.Keys() {
			v, _ := row.Data.Get(k)
			child.Set(k, v)
		}
		out = append(out, child)
	}
	return out, nil
}
