package blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestKeySanitizesParts(t *testing.T) {
	cases := []struct {
		scope, owner, id, name string
		want                   string
	}{
		{"documents", "doc_1", "att_1", "loan.pdf", "documents/doc_1/att_1-loan.pdf"},
		{"emails", "eml_1", "att_2", "../../etc/passwd", "emails/eml_1/att_2-__etc_passwd"},
		{"emails", "", "att_3", " ", "emails/_/att_3-_"},
	}
	for _, tc := range cases {
		if got := Key(tc.scope, tc.owner, tc.id, tc.name); got != tc.want {
			t.Fatalf("Key(%q,%q,%q,%q)=%q, want %q", tc.scope, tc.owner, tc.id, tc.name, got, tc.want)
		}
	}
}

func TestNewRequiresEndpointAndBucket(t *testing.T) {
	if _, err := New(Config{Bucket: "b"}); err == nil {
		t.Fatalf("expected error without endpoint")
	}
	if _, err := New(Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatalf("expected error without bucket")
	}
}

func TestPutAndDeleteHitBucketPaths(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Method+" "+r.URL.Path)
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			w.Header().Set("ETag", `"abc"`)
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	store, err := New(Config{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "key",
		SecretKey: "secret",
		Bucket:    "crm-attachments",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := store.Put(ctx, "documents/doc_1/att_1-a.pdf", "application/pdf", []byte("%PDF-1.4")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Delete(ctx, "documents/doc_1/att_1-a.pdf"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{
		"PUT /crm-attachments/documents/doc_1/att_1-a.pdf",
		"DELETE /crm-attachments/documents/doc_1/att_1-a.pdf",
	}
	if len(seen) != len(want) {
		t.Fatalf("expected requests %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("request %d: expected %q, got %q", i, want[i], seen[i])
		}
	}
}
