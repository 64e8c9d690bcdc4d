package store

import (
	"context"
	"errors"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"approvaldesk/internal/approval"
	"approvaldesk/internal/attrs"
	"approvaldesk/internal/util"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("APPROVALDESK_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("APPROVALDESK_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func editRequest(target string) *approval.Request {
	id := target
	return &approval.Request{
		ID:             util.NewID("apr"),
		Type:           approval.RequestEdit,
		RequesterID:    "u-1",
		ApprovableType: "company",
		ApprovableID:   &id,
		Attributes:     attrs.FromGo(map[string]any{"name": "B"}),
		OriginalData:   attrs.FromGo(map[string]any{"name": "A"}),
		Status:         approval.StatusPending,
	}
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	version, err := Version(ctx, db)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if version != 2 {
		t.Fatalf("version = %d, want 2", version)
	}
	if err := Rollback(ctx, db); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("migrate again: %v", err)
	}
}

func TestApprovalStoreLifecyclePostgres(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	s, err := NewApprovalStore(db, "")
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	first := editRequest("c-1")
	if err := s.Create(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	err = s.Create(ctx, editRequest("c-1"))
	if !errors.Is(err, approval.ErrConflict) {
		t.Fatalf("second pending create err = %v, want conflict", err)
	}

	pending, err := s.HasPending(ctx, "company", "c-1")
	if err != nil || !pending {
		t.Fatalf("has pending = %v, %v", pending, err)
	}

	got, err := s.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v, _ := got.Attributes.Get("name"); v != "B" {
		t.Fatalf("attributes = %v", got.Attributes)
	}

	decision := approval.Decision{RequestID: first.ID, Status: approval.StatusRejected, DecidedByID: "rev", Reason: "no", DecidedAt: time.Now().UTC()}
	if err := s.Finalize(ctx, decision); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := s.Finalize(ctx, decision); !errors.Is(err, approval.ErrInvalidState) {
		t.Fatalf("second finalize err = %v, want invalid state", err)
	}
	if err := s.Finalize(ctx, approval.Decision{RequestID: "missing", Status: approval.StatusApproved, DecidedAt: time.Now()}); !errors.Is(err, approval.ErrNotFound) {
		t.Fatalf("missing finalize err = %v, want not found", err)
	}

	if err := s.Create(ctx, editRequest("c-1")); err != nil {
		t.Fatalf("create after decision: %v", err)
	}
	latest, err := s.FindPendingOrLatest(ctx, "company", "c-1")
	if err != nil || latest == nil || !latest.IsPending() {
		t.Fatalf("pending or latest = %+v, %v", latest, err)
	}

	items, total, err := s.List(ctx, approval.ListFilter{Status: approval.StatusRejected})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].DecidedReason == nil || *items[0].DecidedReason != "no" {
		t.Fatalf("list = %d %+v", total, items)
	}

	if err := s.Archive(ctx, first.ID, time.Now().UTC()); err != nil {
		t.Fatalf("archive: %v", err)
	}
	_, total, err = s.List(ctx, approval.ListFilter{Status: approval.StatusRejected})
	if err != nil || total != 0 {
		t.Fatalf("archived still listed: %d %v", total, err)
	}

	found, err := s.Search(ctx, "compa", approval.ListFilter{})
	if err != nil || len(found) != 1 {
		t.Fatalf("search = %d %v", len(found), err)
	}
}

func TestRecordStorePostgres(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	records := NewRecordStore(db)
	tx := NewTxManager(db)

	var id string
	err := tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		id, err = records.Create(ctx, "company", attrs.FromGo(map[string]any{"id": "ignored", "name": "Acme", "city": "Oslo"}))
		return err
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := records.Update(ctx, "company", id, attrs.FromGo(map[string]any{"city": "Bergen"})); err != nil {
		t.Fatalf("update: %v", err)
	}
	row, err := records.Find(ctx, "company", id)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if v, _ := row.Get("id"); v != id {
		t.Fatalf("id = %v", v)
	}
	if v, _ := row.Get("city"); v != "Bergen" {
		t.Fatalf("city = %v", v)
	}
	if v, _ := row.Get("name"); v != "Acme" {
		t.Fatalf("name = %v", v)
	}

	ref := approval.RelationRef{OwnerType: "company", OwnerID: id, Relation: "tags"}
	if err := records.AttachRelated(ctx, ref, []string{"1", "2"}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := records.SyncRelated(ctx, ref, []string{"2", "3"}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	links, err := records.Related(ctx, ref)
	if err != nil {
		t.Fatalf("related: %v", err)
	}
	if !reflect.DeepEqual(links, []string{"2", "3"}) {
		t.Fatalf("links = %v", links)
	}

	children := approval.RelationRef{OwnerType: "company", OwnerID: id, Relation: "contacts"}
	if err := records.ReplaceChildren(ctx, children, []*attrs.Map{attrs.FromGo(map[string]any{"name": "Ann"})}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	current, err := records.Children(ctx, children)
	if err != nil || len(current) != 1 {
		t.Fatalf("children = %v %v", current, err)
	}
	existingID, _ := current[0].Get("id")
	if err := records.MergeChildren(ctx, children, []*attrs.Map{
		attrs.FromGo(map[string]any{"id": existingID, "name": "Anne"}),
		attrs.FromGo(map[string]any{"name": "Bob"}),
	}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	current, err = records.Children(ctx, children)
	if err != nil || len(current) != 2 {
		t.Fatalf("children after merge = %v %v", current, err)
	}
	if v, _ := current[0].Get("name"); v != "Anne" {
		t.Fatalf("merged child = %v", v)
	}

	rollback := errors.New("rollback")
	err = tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := records.Delete(ctx, "company", id); err != nil {
			return err
		}
		return rollback
	})
	if !errors.Is(err, rollback) {
		t.Fatalf("tx err = %v", err)
	}
	if _, err := records.Find(ctx, "company", id); err != nil {
		t.Fatalf("delete not rolled back: %v", err)
	}

	if err := records.Delete(ctx, "company", id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := records.Find(ctx, "company", id); !errors.Is(err, approval.ErrNotFound) {
		t.Fatalf("find after delete err = %v", err)
	}
}
