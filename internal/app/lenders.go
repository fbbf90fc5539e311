package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"brokercrm/internal/email"
	"brokercrm/internal/export"
	"brokercrm/internal/obs"
	"brokercrm/internal/rbac"
	"brokercrm/internal/store"
	"brokercrm/internal/util"
	"go.uber.org/zap"
)

const maxLendersPerSubmission = 15

var quoteStatuses = []string{"pending", "received", "declined"}

type LenderInput struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Company              string `json:"company"`
	Phone                string `json:"phone"`
	Notes                string `json:"notes"`
	SubmissionGuidelines string `json:"submissionGuidelines"`
	SortOrder            int    `json:"sortOrder"`
}

func (in LenderInput) apply(l store.Lender) (store.Lender, error) {
	l.Name = strings.TrimSpace(in.Name)
	l.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if l.Name == "" || l.Email == "" {
		return l, validationError("Name and email are required")
	}
	if !validEmail(l.Email) {
		return l, validationError("Invalid email address")
	}
	l.Company = strings.TrimSpace(in.Company)
	l.Phone = strings.TrimSpace(in.Phone)
	l.Notes = in.Notes
	l.SubmissionGuidelines = in.SubmissionGuidelines
	l.SortOrder = in.SortOrder
	return l, nil
}

func (s *Service) CreateLender(ctx context.Context, session Session, input LenderInput) (store.Lender, error) {
	lender, err := input.apply(store.Lender{
		ID:       util.NewID("lnd"),
		IsActive: true,
		OwnerID:  session.UserID,
	})
	if err != nil {
		return store.Lender{}, err
	}
	if err := s.store.CreateLender(ctx, lender); err != nil {
		return store.Lender{}, err
	}
	return s.store.GetLender(ctx, lender.ID)
}

func (s *Service) UpdateLender(ctx context.Context, id string, input LenderInput) (store.Lender, error) {
	current, err := s.store.GetLender(ctx, id)
	if err != nil {
		return store.Lender{}, notFoundAs(err, "Lender not found")
	}
	lender, err := input.apply(current)
	if err != nil {
		return store.Lender{}, err
	}
	if err := s.store.UpdateLender(ctx, lender); err != nil {
		return store.Lender{}, notFoundAs(err, "Lender not found")
	}
	return s.store.GetLender(ctx, id)
}

func (s *Service) SetLenderActive(ctx context.Context, id string, active bool) (store.Lender, error) {
	lender, err := s.store.GetLender(ctx, id)
	if err != nil {
		return store.Lender{}, notFoundAs(err, "Lender not found")
	}
	lender.IsActive = active
	if err := s.store.UpdateLender(ctx, lender); err != nil {
		return store.Lender{}, notFoundAs(err, "Lender not found")
	}
	return lender, nil
}

func (s *Service) DeleteLender(ctx context.Context, session Session, id string) error {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only admins can delete lenders", nil)
	}
	return notFoundAs(s.store.DeleteLender(ctx, id), "Lender not found")
}

func (s *Service) ListLenders(ctx context.Context, activeOnly bool) ([]store.Lender, error) {
	return s.store.ListLenders(ctx, activeOnly)
}

type SubmissionInput struct {
	LenderIDs []string `json:"lenderIds"`
	Subject   string   `json:"subject"`
	Message   string   `json:"message"`
	AccountID string   `json:"accountId"`
}

// SubmitToLenders mails the deal to every selected lender in one message,
// blind-copied so lenders never see each other, and opens a pending quote per lender.
func (s *Service) SubmitToLenders(ctx context.Context, session Session, loanID string, input SubmissionInput) (store.LenderSubmission, error) {
	ids := uniqueStrings(input.LenderIDs)
	if len(ids) == 0 || len(ids) > maxLendersPerSubmission {
		return store.LenderSubmission{}, validationError(fmt.Sprintf("Select between 1 and %d lenders", maxLendersPerSubmission))
	}
	lenders, err := s.store.GetLendersByIDs(ctx, ids)
	if err != nil {
		return store.LenderSubmission{}, err
	}
	if len(lenders) == 0 {
		return store.LenderSubmission{}, validationError("No valid lenders found")
	}
	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return store.LenderSubmission{}, notFoundAs(err, "Loan not found")
	}
	account, err := s.submissionAccount(ctx, session, input.AccountID)
	if err != nil {
		return store.LenderSubmission{}, err
	}

	sheet := export.DealSheetData{Loan: loan}
	if loan.ContactID != "" {
		if borrower, err := s.store.GetContact(ctx, loan.ContactID); err == nil {
			sheet.Borrower = borrower
		}
	}
	subject := strings.TrimSpace(input.Subject)
	if subject == "" {
		subject = export.DealSubject(sheet)
	}
	body := strings.TrimSpace(input.Message)
	if body == "" {
		if body, err = export.RenderDealSheet(sheet); err != nil {
			return store.LenderSubmission{}, fmt.Errorf("render deal sheet: %w", err)
		}
	}

	lenderIDs := make([]string, 0, len(lenders))
	lenderEmails := make([]string, 0, len(lenders))
	names := make([]string, 0, len(lenders))
	for _, l := range lenders {
		lenderIDs = append(lenderIDs, l.ID)
		lenderEmails = append(lenderEmails, l.Email)
		names = append(names, l.Name)
	}

	emailID := util.NewID("eml")
	messageID, err := s.sendFrom(ctx, account, email.Outgoing{
		To:      []string{account.Email},
		Bcc:     lenderEmails,
		Subject: subject,
		HTML:    body,
	})
	if err != nil {
		return store.LenderSubmission{}, err
	}
	if messageID == "" {
		messageID = "<" + emailID + "@crm.local>"
	}

	now := s.now().UTC()
	bodyText := email.StripHTML(body)
	submission := store.LenderSubmission{
		ID:           util.NewID("sub"),
		LoanID:       loan.ID,
		EmailID:      emailID,
		Subject:      subject,
		Message:      body,
		LenderIDs:    lenderIDs,
		LenderEmails: lenderEmails,
		SentAt:       now,
		OwnerID:      session.UserID,
		Quotes:       make([]store.LenderQuote, 0, len(lenders)),
	}
	for _, l := range lenders {
		submission.Quotes = append(submission.Quotes, store.LenderQuote{
			ID:           util.NewID("qte"),
			SubmissionID: submission.ID,
			LenderID:     l.ID,
			LenderName:   l.Name,
			Status:       "pending",
		})
	}

	err = s.store.Tx(ctx, func(tx dataStore) error {
		if err := tx.InsertEmail(ctx, store.Email{
			ID:        emailID,
			AccountID: account.ID,
			MessageID: messageID,
			Direction: "outbound",
			Status:    "sent",
			FromEmail: account.Email,
			FromName:  account.Name,
			To:        addressRecords([]string{account.Email}),
			Bcc:       addressRecords(lenderEmails),
			Subject:   subject,
			BodyHTML:  body,
			BodyText:  bodyText,
			Snippet:   email.Truncate(bodyText, 200),
			IsRead:    true,
			ContactID: loan.ContactID,
			UserID:    session.UserID,
			SentAt:    &now,
		}); err != nil {
			return err
		}
		if err := tx.CreateSubmission(ctx, submission); err != nil {
			return err
		}
		for _, q := range submission.Quotes {
			if err := tx.CreateQuote(ctx, q); err != nil {
				return err
			}
		}
		return tx.InsertLoanActivity(ctx, s.loanActivity(session, loan.ID, "document_sent",
			fmt.Sprintf("Submitted to %d lender(s): %s", len(lenders), strings.Join(names, ", ")),
			map[string]any{"submissionId": submission.ID, "lenderIds": lenderIDs}))
	})
	if err != nil {
		s.logger.Error("record lender submission", zap.String("loan_id", loan.ID), zap.Error(err))
		return store.LenderSubmission{}, err
	}
	obs.LenderSubmissions.Inc()
	submission.CreatedAt = now
	return submission, nil
}

func (s *Service) submissionAccount(ctx context.Context, session Session, accountID string) (store.EmailAccount, error) {
	if accountID != "" {
		account, err := s.store.GetEmailAccount(ctx, session.UserID, accountID)
		if err != nil {
			return store.EmailAccount{}, notFoundAs(err, "Email account not found")
		}
		return account, nil
	}
	accounts, err := s.store.ListEmailAccounts(ctx, session.UserID, true)
	if err != nil {
		return store.EmailAccount{}, err
	}
	if len(accounts) == 0 {
		return store.EmailAccount{}, validationError("No email account configured. Please add an email account in Settings.")
	}
	return accounts[0], nil
}

func (s *Service) ListSubmissions(ctx context.Context, loanID string) ([]store.LenderSubmission, error) {
	return s.store.ListSubmissions(ctx, loanID)
}

func (s *Service) UpdateQuoteStatus(ctx context.Context, id, status string) (store.LenderQuote, error) {
	if !oneOf(status, quoteStatuses) {
		return store.LenderQuote{}, validationError("Invalid quote status")
	}
	quote, err := s.store.GetQuote(ctx, id)
	if err != nil {
		return store.LenderQuote{}, notFoundAs(err, "Quote not found")
	}
	quote.Status = status
	if status == "received" {
		quote.ReceivedAt = timePtr(s.now().UTC())
	}
	if err := s.store.UpdateQuote(ctx, quote); err != nil {
		return store.LenderQuote{}, notFoundAs(err, "Quote not found")
	}
	return quote, nil
}

type QuoteInput struct {
	Rate       *float64 `json:"rate"`
	Points     *float64 `json:"points"`
	Fees       *float64 `json:"fees"`
	LoanAmount *float64 `json:"loanAmount"`
	TermMonths *int     `json:"termMonths"`
	Notes      string   `json:"notes"`
}

// SaveQuote records the lender's terms and marks the quote received.
func (s *Service) SaveQuote(ctx context.Context, id string, input QuoteInput) (store.LenderQuote, error) {
	positive := func(v float64) bool { return v > 0 }
	nonNegative := func(v float64) bool { return v >= 0 }
	err := firstFailure(
		rule{floatOutside(input.Rate, func(v float64) bool { return v >= 0 && v <= 100 }), "Rate must be between 0 and 100"},
		rule{floatOutside(input.Points, nonNegative), "Points cannot be negative"},
		rule{floatOutside(input.Fees, nonNegative), "Fees cannot be negative"},
		rule{floatOutside(input.LoanAmount, positive), "Amount must be positive"},
		rule{intOutside(input.TermMonths, func(v int) bool { return v > 0 }), "Term must be positive"},
	)
	if err != nil {
		return store.LenderQuote{}, err
	}
	quote, err := s.store.GetQuote(ctx, id)
	if err != nil {
		return store.LenderQuote{}, notFoundAs(err, "Quote not found")
	}
	quote.Rate = input.Rate
	quote.Points = input.Points
	quote.Fees = input.Fees
	quote.LoanAmount = input.LoanAmount
	quote.TermMonths = input.TermMonths
	quote.Notes = input.Notes
	quote.Status = "received"
	if quote.ReceivedAt == nil {
		quote.ReceivedAt = timePtr(s.now().UTC())
	}
	if err := s.store.UpdateQuote(ctx, quote); err != nil {
		return store.LenderQuote{}, notFoundAs(err, "Quote not found")
	}
	return quote, nil
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
