package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

var contactRowColumns = []string{
	"id", "first_name", "last_name", "email", "phone", "company", "job_title", "stage", "source", "score",
	"address", "city", "state", "zip", "country", "website", "notes", "owner_id", "created_at", "updated_at",
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE contacts SET stage").WithArgs("ctc_1", "won").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(tx *PostgresStore) error {
		return tx.SetContactStage(context.Background(), "ctc_1", "won")
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE contacts SET stage").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx *PostgresStore) error {
		return tx.SetContactStage(context.Background(), "ctc_missing", "won")
	})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWithTxNestedReusesTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	calls := 0
	err := s.WithTx(context.Background(), func(outer *PostgresStore) error {
		return outer.WithTx(context.Background(), func(inner *PostgresStore) error {
			calls++
			if inner != outer {
				t.Fatalf("expected nested WithTx to reuse the outer store")
			}
			return nil
		})
	})
	if err != nil || calls != 1 {
		t.Fatalf("WithTx nested: err=%v calls=%d", err, calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteContactMissingReturnsNoRows(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM contacts WHERE id").WithArgs("ctc_x").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.DeleteContact(context.Background(), "ctc_x"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestListContactsAppliesFilterAndLoadsTags(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM contacts c WHERE c.stage = \$1 AND c.source = \$2`).
		WithArgs("qualified", "referral").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))
	mock.ExpectQuery(`FROM contacts c WHERE c.stage = \$1 AND c.source = \$2 ORDER BY c.score DESC NULLS LAST, c.id LIMIT \$3 OFFSET \$4`).
		WithArgs("qualified", "referral", 10, 10).
		WillReturnRows(sqlmock.NewRows(contactRowColumns).AddRow(
			"ctc_1", "Ada", "Lovelace", "ada@example.com", "", "Analytical", "", "qualified", "referral", 90,
			"", "", "", "", "", "", "", "", now, now,
		))
	mock.ExpectQuery("FROM contact_tags ct").
		WithArgs("ctc_1").
		WillReturnRows(sqlmock.NewRows([]string{"contact_id", "id", "name", "color", "owner_id", "created_at"}).
			AddRow("ctc_1", "tag_1", "VIP", "#ff0000", "", now))

	items, total, err := s.ListContacts(context.Background(), ContactFilter{
		Stage: "qualified", Source: "referral", Sort: "score", Desc: true, Limit: 10, Offset: 10,
	})
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if total != 11 || len(items) != 1 {
		t.Fatalf("expected total 11 and 1 item, got %d and %d", total, len(items))
	}
	if len(items[0].Tags) != 1 || items[0].Tags[0].Name != "VIP" {
		t.Fatalf("expected VIP tag, got %+v", items[0].Tags)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListContactsEmptyIDsMatchesNothing(t *testing.T) {
	s, mock := newMockStore(t)
	items, total, err := s.ListContacts(context.Background(), ContactFilter{IDs: []string{}})
	if err != nil || total != 0 || len(items) != 0 {
		t.Fatalf("expected empty result, got items=%d total=%d err=%v", len(items), total, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected queries: %v", err)
	}
}

func TestListContactsIgnoresUnknownSort(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM contacts c$`).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`ORDER BY c.created_at ASC NULLS LAST, c.id$`).WillReturnRows(sqlmock.NewRows(contactRowColumns))

	if _, _, err := s.ListContacts(context.Background(), ContactFilter{Sort: "password; DROP TABLE"}); err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetDocumentForUpdateLocksRow(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`FROM documents WHERE id=\$1 FOR UPDATE`).
		WithArgs("doc_1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "title", "description", "status", "contact_id", "loan_id", "message",
			"expires_at", "sent_at", "completed_at", "owner_id", "created_at", "updated_at",
		}).AddRow("doc_1", "Disclosure", "", "sent", "", "", "", nil, now, nil, "usr_1", now, now))

	doc, err := s.GetDocumentForUpdate(context.Background(), "doc_1")
	if err != nil {
		t.Fatalf("GetDocumentForUpdate: %v", err)
	}
	if doc.Status != "sent" || doc.SentAt == nil || doc.CompletedAt != nil || doc.ExpiresAt != nil {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func TestFillFieldStoresValue(t *testing.T) {
	s, mock := newMockStore(t)
	filledAt := time.Now().UTC()
	mock.ExpectExec("UPDATE document_fields SET value").
		WithArgs("fld_1", "Ada Lovelace", filledAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.FillField(context.Background(), "fld_1", "Ada Lovelace", filledAt); err != nil {
		t.Fatalf("FillField: %v", err)
	}
}

func TestSetEmailFlagRejectsUnknownFlag(t *testing.T) {
	s, _ := newMockStore(t)
	if err := s.SetEmailFlag(context.Background(), "usr_1", "eml_1", "deleted", true); err == nil {
		t.Fatalf("expected error for unknown flag")
	}
}

func TestRecordSyncResultKeepsLastSyncWhenNil(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`last_sync_at=COALESCE\(\$2, last_sync_at\)`).
		WithArgs("acc_1", nil, "connection refused").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.RecordSyncResult(context.Background(), "acc_1", nil, "connection refused"); err != nil {
		t.Fatalf("RecordSyncResult: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatalf("expected unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) || IsUniqueViolation(errors.New("boom")) {
		t.Fatalf("expected other errors not to match")
	}
}

func TestPlaceholders(t *testing.T) {
	if got := placeholders(3, 3); got != "$3, $4, $5" {
		t.Fatalf("placeholders(3,3)=%q", got)
	}
}
