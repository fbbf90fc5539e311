package export

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"brokercrm/internal/store"
)

var (
	dealSheetTemplate   *template.Template
	certificateTemplate *template.Template
)

func init() {
	funcMap := template.FuncMap{
		"upper": strings.ToUpper,
		"money": formatMoney,
		"formatTime": func(t *time.Time) string {
			if t == nil {
				return ""
			}
			return t.UTC().Format("Jan 2, 2006 15:04 MST")
		},
		"fieldValue": func(v *string) string {
			if v == nil {
				return ""
			}
			return *v
		},
	}
	dealSheetTemplate = template.Must(template.New("deal-sheet").Funcs(funcMap).Parse(dealSheetHTML))
	certificateTemplate = template.Must(template.New("certificate").Funcs(funcMap).Parse(certificateHTML))
}

func formatMoney(v *float64) string {
	if v == nil || *v == 0 {
		return "TBD"
	}
	return "$" + humanize.Commaf(math.Round(*v*100)/100)
}

// DealSheetData holds the loan and borrower shown to lenders.
type DealSheetData struct {
	Loan     store.Loan
	Borrower store.Contact
}

func (d DealSheetData) BorrowerName() string {
	name := strings.TrimSpace(d.Borrower.FirstName + " " + d.Borrower.LastName)
	if name == "" {
		return d.Loan.ContactName
	}
	return name
}

func (d DealSheetData) PropertyAddress() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{d.Loan.PropertyAddress, d.Loan.PropertyCity, d.Loan.PropertyState} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// LTV is the loan-to-value ratio as a whole percentage, or "TBD".
func (d DealSheetData) LTV() string {
	if d.Loan.Amount == nil || d.Loan.EstimatedValue == nil || *d.Loan.EstimatedValue == 0 {
		return "TBD"
	}
	return fmt.Sprintf("%d%%", int(math.Round(*d.Loan.Amount / *d.Loan.EstimatedValue * 100)))
}

// RenderDealSheet renders the HTML summary sent to lenders.
func RenderDealSheet(data DealSheetData) (string, error) {
	var buf bytes.Buffer
	if err := dealSheetTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// DealSubject is the default subject line of a lender submission.
func DealSubject(data DealSheetData) string {
	return fmt.Sprintf("Deal Submission: %s - %s - %s",
		data.BorrowerName(), strings.ToUpper(data.Loan.LoanType), formatMoney(data.Loan.Amount))
}

// CertificateData is the completion record of a signing envelope.
type CertificateData struct {
	Document    store.Document
	Recipients  []store.DocumentRecipient
	Fields      []store.DocumentField
	Audit       []store.DocumentAuditEntry
	GeneratedAt time.Time
}

func (c CertificateData) RecipientName(id string) string {
	for _, r := range c.Recipients {
		if r.ID == id {
			return r.Name
		}
	}
	return ""
}

// RenderCertificate renders the certificate of completion as HTML.
func RenderCertificate(data CertificateData) (string, error) {
	if data.GeneratedAt.IsZero() {
		data.GeneratedAt = time.Now()
	}
	var buf bytes.Buffer
	if err := certificateTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const dealSheetHTML = `<div style="font-family: Arial, sans-serif; max-width: 600px;">
<h2 style="color: #1a1a1a; border-bottom: 2px solid #e5e7eb; padding-bottom: 8px;">Deal Submission</h2>
<table style="width: 100%; border-collapse: collapse;">
  <tr><td style="padding: 6px 0; color: #6b7280; width: 160px;">Borrower</td><td style="padding: 6px 0; font-weight: 500;">{{.BorrowerName}}</td></tr>
  <tr><td style="padding: 6px 0; color: #6b7280;">Loan Type</td><td style="padding: 6px 0; font-weight: 500;">{{upper .Loan.LoanType}}</td></tr>
  <tr><td style="padding: 6px 0; color: #6b7280;">Loan Amount</td><td style="padding: 6px 0; font-weight: 500;">{{money .Loan.Amount}}</td></tr>
  {{with .PropertyAddress}}<tr><td style="padding: 6px 0; color: #6b7280;">Property Address</td><td style="padding: 6px 0; font-weight: 500;">{{.}}</td></tr>{{end}}
  {{if .Loan.EstimatedValue}}<tr><td style="padding: 6px 0; color: #6b7280;">Property Value</td><td style="padding: 6px 0; font-weight: 500;">{{money .Loan.EstimatedValue}}</td></tr>{{end}}
  {{if .Loan.DownPayment}}<tr><td style="padding: 6px 0; color: #6b7280;">Down Payment</td><td style="padding: 6px 0; font-weight: 500;">{{money .Loan.DownPayment}}</td></tr>{{end}}
  <tr><td style="padding: 6px 0; color: #6b7280;">LTV</td><td style="padding: 6px 0; font-weight: 500;">{{.LTV}}</td></tr>
  {{with .Loan.CreditScore}}<tr><td style="padding: 6px 0; color: #6b7280;">Credit Score</td><td style="padding: 6px 0; font-weight: 500;">{{.}}</td></tr>{{end}}
  {{with .Loan.DebtToIncomeRatio}}<tr><td style="padding: 6px 0; color: #6b7280;">DTI</td><td style="padding: 6px 0; font-weight: 500;">{{.}}%</td></tr>{{end}}
  {{if .Loan.AnnualIncome}}<tr><td style="padding: 6px 0; color: #6b7280;">Annual Income</td><td style="padding: 6px 0; font-weight: 500;">{{money .Loan.AnnualIncome}}</td></tr>{{end}}
</table>
<p style="margin-top: 16px; color: #6b7280; font-size: 14px;">Please provide your best rate quote at your earliest convenience. Thank you.</p>
</div>`

const certificateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Certificate of Completion - {{.Document.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 800px; margin: 2rem auto; color: #1a1a1a; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    h2 { margin-top: 2rem; font-size: 1.1em; }
    table { width: 100%; border-collapse: collapse; font-size: 0.9em; }
    th, td { text-align: left; padding: 4px 6px; border-bottom: 1px solid #e5e7eb; }
    .meta { color: #666; font-size: 0.9em; }
  </style>
</head>
<body>
  <h1>Certificate of Completion</h1>
  <p><strong>{{.Document.Title}}</strong></p>
  <div class="meta">
    Document ID {{.Document.ID}} | Status {{.Document.Status}}
    {{with formatTime .Document.SentAt}} | Sent {{.}}{{end}}
    {{with formatTime .Document.CompletedAt}} | Completed {{.}}{{end}}
  </div>

  <h2>Recipients</h2>
  <table>
    <tr><th>Name</th><th>Email</th><th>Role</th><th>Status</th><th>Signed</th><th>IP address</th></tr>
    {{range .Recipients}}<tr><td>{{.Name}}</td><td>{{.Email}}</td><td>{{.Role}}</td><td>{{.Status}}</td><td>{{formatTime .SignedAt}}</td><td>{{.IPAddress}}</td></tr>
    {{end}}
  </table>

  <h2>Fields</h2>
  <table>
    <tr><th>Recipient</th><th>Type</th><th>Label</th><th>Value</th><th>Filled</th></tr>
    {{range .Fields}}<tr><td>{{$.RecipientName .RecipientID}}</td><td>{{.Type}}</td><td>{{.Label}}</td><td>{{fieldValue .Value}}</td><td>{{formatTime .FilledAt}}</td></tr>
    {{end}}
  </table>

  <h2>Audit trail</h2>
  <table>
    <tr><th>Time</th><th>Action</th><th>Actor</th><th>IP address</th></tr>
    {{range .Audit}}<tr><td>{{.CreatedAt.UTC.Format "Jan 2, 2006 15:04:05 MST"}}</td><td>{{.Action}}</td><td>{{.ActorName}}{{if .ActorEmail}} &lt;{{.ActorEmail}}&gt;{{end}}</td><td>{{.IPAddress}}</td></tr>
    {{end}}
  </table>

  <p class="meta">Generated {{.GeneratedAt.UTC.Format "Jan 2, 2006 15:04 MST"}}</p>
</body>
</html>`
