package export

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"brokercrm/internal/store"
)

func TestWriteContactsCSVHeaderOnlyWhenEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteContactsCSV(&buf, nil); err != nil {
		t.Fatalf("WriteContactsCSV: %v", err)
	}
	want := "First Name,Last Name,Email,Phone,Company,Job Title,Stage,Source,Score,Address,City,State,Zip,Country,Website,Created At\n"
	if buf.String() != want {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestWriteContactsCSVQuotesFields(t *testing.T) {
	created := time.Date(2024, 3, 9, 14, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	err := WriteContactsCSV(&buf, []store.Contact{{
		ID: "ctc_1", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com",
		Company: "Analytical, Ltd", Stage: "won", Score: 88, CreatedAt: created,
	}})
	if err != nil {
		t.Fatalf("WriteContactsCSV: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %d lines", len(lines))
	}
	want := `Ada,Lovelace,ada@example.com,,"Analytical, Ltd",,won,,88,,,,,,,2024-03-09T14:30:00Z`
	if lines[1] != want {
		t.Fatalf("row=%q\nwant %q", lines[1], want)
	}
}

func TestParseContactsCSVRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteContactsCSV(&buf, []store.Contact{
		{FirstName: "Grace", LastName: "Hopper", Email: "grace@navy.mil", Stage: "new", Score: 40},
		{FirstName: "Alan", LastName: "Turing", City: "London"},
	}); err != nil {
		t.Fatalf("WriteContactsCSV: %v", err)
	}
	contacts, err := ParseContactsCSV(&buf)
	if err != nil {
		t.Fatalf("ParseContactsCSV: %v", err)
	}
	if len(contacts) != 2 || contacts[0].Email != "grace@navy.mil" || contacts[0].Score != 40 || contacts[1].City != "London" {
		t.Fatalf("unexpected contacts %+v", contacts)
	}
}

func TestParseContactsCSVRequiresNameColumns(t *testing.T) {
	_, err := ParseContactsCSV(strings.NewReader("Email,Phone\na@b.co,1\n"))
	if !errors.Is(err, ErrInvalidCSV) {
		t.Fatalf("expected ErrInvalidCSV, got %v", err)
	}
	if _, err := ParseContactsCSV(strings.NewReader("")); !errors.Is(err, ErrInvalidCSV) {
		t.Fatalf("expected ErrInvalidCSV for empty input, got %v", err)
	}
}

func TestContactsCSVFilename(t *testing.T) {
	got := ContactsCSVFilename(time.Date(2024, 12, 1, 23, 0, 0, 0, time.UTC))
	if got != "contacts-2024-12-01.csv" {
		t.Fatalf("unexpected filename %q", got)
	}
}

func TestRenderDealSheet(t *testing.T) {
	amount, value, score := 400000.0, 500000.0, 720
	data := DealSheetData{
		Loan: store.Loan{
			LoanType: "fha", Amount: &amount, EstimatedValue: &value, CreditScore: &score,
			PropertyAddress: "1 Main St", PropertyCity: "Austin",
		},
		Borrower: store.Contact{FirstName: "Dana", LastName: "<Smith>"},
	}
	html, err := RenderDealSheet(data)
	if err != nil {
		t.Fatalf("RenderDealSheet: %v", err)
	}
	for _, want := range []string{"FHA", "$400,000", "$500,000", "80%", "720", "1 Main St, Austin", "Dana &lt;Smith&gt;"} {
		if !strings.Contains(html, want) {
			t.Fatalf("expected %q in deal sheet:\n%s", want, html)
		}
	}
	if strings.Contains(html, "Down Payment") || strings.Contains(html, "Annual Income") {
		t.Fatalf("expected unset rows to be omitted")
	}
	if got := DealSubject(data); got != "Deal Submission: Dana <Smith> - FHA - $400,000" {
		t.Fatalf("unexpected subject %q", got)
	}
}

func TestDealSheetLTVUnknown(t *testing.T) {
	if got := (DealSheetData{}).LTV(); got != "TBD" {
		t.Fatalf("expected TBD, got %q", got)
	}
	if got := formatMoney(nil); got != "TBD" {
		t.Fatalf("expected TBD, got %q", got)
	}
}

type fakeRenderer struct {
	html  string
	title string
}

func (f *fakeRenderer) RenderPDF(_ context.Context, html, title string) (*Result, error) {
	f.html, f.title = html, title
	return &Result{Data: []byte("%PDF"), Filename: sanitizeFilename(title) + ".pdf", MimeType: "application/pdf"}, nil
}

func TestCertificatePDFRendersAuditTrail(t *testing.T) {
	signedAt := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	value := "Ada Lovelace"
	renderer := &fakeRenderer{}
	svc := NewService(renderer)

	result, err := svc.CertificatePDF(context.Background(), CertificateData{
		Document:   store.Document{ID: "doc_1", Title: "Loan Disclosure", Status: "completed"},
		Recipients: []store.DocumentRecipient{{ID: "rcp_1", Name: "Ada", Email: "ada@example.com", Role: "signer", Status: "signed", SignedAt: &signedAt, IPAddress: "10.0.0.1"}},
		Fields:     []store.DocumentField{{ID: "fld_1", RecipientID: "rcp_1", Type: "signature", Value: &value, FilledAt: &signedAt}},
		Audit:      []store.DocumentAuditEntry{{ID: "aud_1", Action: "completed", CreatedAt: signedAt}},
	})
	if err != nil {
		t.Fatalf("CertificatePDF: %v", err)
	}
	if result.Filename != "certificate-Loan-Disclosure.pdf" || result.MimeType != "application/pdf" {
		t.Fatalf("unexpected result %+v", result)
	}
	for _, want := range []string{"Certificate of Completion", "Ada Lovelace", "10.0.0.1", "completed", "Jun 1, 2024"} {
		if !strings.Contains(renderer.html, want) {
			t.Fatalf("expected %q in certificate html", want)
		}
	}
}

func TestCertificatePDFWithoutRenderer(t *testing.T) {
	_, err := NewService(nil).CertificatePDF(context.Background(), CertificateData{})
	if !errors.Is(err, ErrPDFDependencyMissing) {
		t.Fatalf("expected ErrPDFDependencyMissing, got %v", err)
	}
}

func TestChromeRendererMissingBinary(t *testing.T) {
	renderer := &ChromeRenderer{ExecPath: "/nonexistent/chromium-for-tests"}
	if _, err := renderer.binary(); err == nil {
		t.Fatalf("expected lookup of a missing binary to fail")
	}

	t.Setenv("PATH", t.TempDir())
	_, err := NewChromeRenderer().RenderPDF(context.Background(), "<p>x</p>", "x")
	if !errors.Is(err, ErrPDFDependencyMissing) {
		t.Fatalf("expected ErrPDFDependencyMissing, got %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"Loan Disclosure":       "Loan-Disclosure",
		"!!!":                   "document",
		"a/b\\c":                "abc",
		strings.Repeat("x", 60): strings.Repeat("x", 50),
	}
	for input, want := range tests {
		if got := sanitizeFilename(input); got != want {
			t.Fatalf("sanitizeFilename(%q)=%q, want %q", input, got, want)
		}
	}
}
