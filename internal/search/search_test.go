package search

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"brokercrm/internal/store"
	"github.com/DATA-DOG/go-sqlmock"
	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

func TestPrefixQuery(t *testing.T) {
	cases := map[string]string{
		"":                 "",
		"   ":              "",
		"Dana":             "dana:*",
		"dana smith":       "dana:* & smith:*",
		"dana@example.com": "dana:* & example:* & com:*",
		"O'Neil & (co)":    "o:* & neil:* & co:*",
		"José Ñúñez":       "josé:* & ñúñez:*",
		"555-0100":         "555:* & 0100:*",
	}
	for input, want := range cases {
		if got := PrefixQuery(input); got != want {
			t.Fatalf("PrefixQuery(%q)=%q, want %q", input, got, want)
		}
	}
}

func TestRecordFromContact(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := RecordFromContact(store.Contact{ID: "ctc_1", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", CreatedAt: created})
	if rec.FullName != "Ada Lovelace" || rec.CreatedAt != created.Unix() || rec.Email != "ada@example.com" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestPgFTSContactIDs(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`WHERE fts @@ to_tsquery\('simple', \$1\)`).
		WithArgs("ada:* & love:*", 1000).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("ctc_2").AddRow("ctc_1"))

	ids, err := NewPgFTS(db).ContactIDs(context.Background(), Query{Text: "Ada Love"})
	if err != nil {
		t.Fatalf("ContactIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != "ctc_2" || ids[1] != "ctc_1" {
		t.Fatalf("unexpected ids %v", ids)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPgFTSSkipsBlankQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	ids, err := NewPgFTS(db).ContactIDs(context.Background(), Query{Text: " -- "})
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected no ids, got %v err=%v", ids, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected query: %v", err)
	}
}

func TestServiceFallsBackWithoutMeili(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	mock.ExpectQuery("FROM contacts").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("ctc_9"))

	svc := NewService(nil, NewPgFTS(db), zap.NewNop())
	ids, err := svc.ContactIDs(context.Background(), "acme")
	if err != nil || len(ids) != 1 || ids[0] != "ctc_9" {
		t.Fatalf("expected pgfts result, got %v err=%v", ids, err)
	}

	// Index calls are no-ops without Meilisearch.
	svc.IndexContact(ContactRecord{ID: "ctc_9"})
	svc.DeleteContacts("ctc_9")
	svc.ReindexAllFromPG(context.Background())
}

func TestDecodeString(t *testing.T) {
	hit := meili.Hit{
		"id":    json.RawMessage(`"ctc_1"`),
		"score": json.RawMessage(`5`),
	}
	if got := decodeString(hit, "id"); got != "ctc_1" {
		t.Fatalf("expected ctc_1, got %q", got)
	}
	if got := decodeString(hit, "score"); got != "" {
		t.Fatalf("expected empty for non-string, got %q", got)
	}
	if got := decodeString(hit, "missing"); got != "" {
		t.Fatalf("expected empty for missing key, got %q", got)
	}
}
