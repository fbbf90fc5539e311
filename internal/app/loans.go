package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"brokercrm/internal/store"
	"brokercrm/internal/util"
)

const loanPageSize = 10

var (
	loanStages = []string{
		"application", "processing", "underwriting", "conditional_approval",
		"approved", "closing", "funded", "denied", "withdrawn",
	}
	loanTypes = []string{
		"conventional", "fha", "va", "usda", "jumbo", "heloc", "refinance",
		"construction", "commercial", "personal", "auto", "other",
	}
	loanActivityTypes = []string{
		"stage_changed", "document_requested", "document_received", "document_sent",
		"note_added", "rate_locked", "appraisal_ordered", "appraisal_received",
		"closing_scheduled", "funded", "condition_added", "condition_cleared",
	}
	conditionStatuses = []string{"pending", "received", "approved", "waived"}
)

type LoanInput struct {
	ContactID         string   `json:"contactId"`
	LoanType          string   `json:"loanType"`
	Stage             string   `json:"stage"`
	Amount            *float64 `json:"amount"`
	InterestRate      *float64 `json:"interestRate"`
	TermMonths        *int     `json:"termMonths"`
	PropertyAddress   string   `json:"propertyAddress"`
	PropertyCity      string   `json:"propertyCity"`
	PropertyState     string   `json:"propertyState"`
	PropertyZip       string   `json:"propertyZip"`
	EstimatedValue    *float64 `json:"estimatedValue"`
	DownPayment       *float64 `json:"downPayment"`
	CreditScore       *int     `json:"creditScore"`
	AnnualIncome      *float64 `json:"annualIncome"`
	DebtToIncomeRatio *float64 `json:"debtToIncomeRatio"`
	Lender            string   `json:"lender"`
	LoanNumber        string   `json:"loanNumber"`
	ClosingDate       string   `json:"closingDate"`
	Notes             string   `json:"notes"`
}

func (in LoanInput) apply(l store.Loan) (store.Loan, error) {
	if in.Stage == "" {
		in.Stage = "application"
	}
	positive := func(v float64) bool { return v > 0 }
	percent := func(v float64) bool { return v >= 0 && v <= 100 }
	err := firstFailure(
		rule{strings.TrimSpace(in.ContactID) == "", "Contact is required"},
		rule{!oneOf(in.LoanType, loanTypes), "Loan type is required"},
		rule{!oneOf(in.Stage, loanStages), "Invalid stage"},
		rule{floatOutside(in.Amount, positive), "Amount must be positive"},
		rule{floatOutside(in.InterestRate, func(v float64) bool { return v >= 0 }), "Rate must be positive"},
		rule{floatOutside(in.InterestRate, percent), "Rate too high"},
		rule{intOutside(in.TermMonths, func(v int) bool { return v > 0 }), "Term must be positive"},
		rule{floatOutside(in.EstimatedValue, positive), "Estimated value must be positive"},
		rule{floatOutside(in.DownPayment, func(v float64) bool { return v >= 0 }), "Down payment cannot be negative"},
		rule{intOutside(in.CreditScore, func(v int) bool { return v >= 300 && v <= 850 }), "Credit score must be between 300 and 850"},
		rule{floatOutside(in.AnnualIncome, positive), "Annual income must be positive"},
		rule{floatOutside(in.DebtToIncomeRatio, percent), "Debt-to-income ratio must be between 0 and 100"},
		rule{in.ClosingDate != "" && !validDate(in.ClosingDate), "Invalid closing date"},
	)
	if err != nil {
		return store.Loan{}, err
	}

	l.ContactID = strings.TrimSpace(in.ContactID)
	l.LoanType = in.LoanType
	l.Stage = in.Stage
	l.Amount = in.Amount
	l.InterestRate = in.InterestRate
	l.TermMonths = in.TermMonths
	l.PropertyAddress = strings.TrimSpace(in.PropertyAddress)
	l.PropertyCity = strings.TrimSpace(in.PropertyCity)
	l.PropertyState = strings.TrimSpace(in.PropertyState)
	l.PropertyZip = strings.TrimSpace(in.PropertyZip)
	l.EstimatedValue = in.EstimatedValue
	l.DownPayment = in.DownPayment
	l.CreditScore = in.CreditScore
	l.AnnualIncome = in.AnnualIncome
	l.DebtToIncomeRatio = in.DebtToIncomeRatio
	l.Lender = strings.TrimSpace(in.Lender)
	l.LoanNumber = strings.TrimSpace(in.LoanNumber)
	l.ClosingDate = in.ClosingDate
	l.Notes = in.Notes
	return l, nil
}

func (s *Service) CreateLoan(ctx context.Context, session Session, input LoanInput) (store.Loan, error) {
	loan, err := input.apply(store.Loan{ID: util.NewID("loan"), OwnerID: session.UserID})
	if err != nil {
		return store.Loan{}, err
	}
	if _, err := s.store.GetContact(ctx, loan.ContactID); err != nil {
		return store.Loan{}, notFoundAs(err, "Contact not found")
	}

	err = s.store.Tx(ctx, func(tx dataStore) error {
		if err := tx.CreateLoan(ctx, loan); err != nil {
			return err
		}
		return tx.InsertLoanActivity(ctx, s.loanActivity(session, loan.ID, "stage_changed",
			"Loan application created", map[string]string{"to": loan.Stage}))
	})
	if err != nil {
		return store.Loan{}, err
	}
	return s.store.GetLoan(ctx, loan.ID)
}

func (s *Service) UpdateLoan(ctx context.Context, session Session, id string, input LoanInput) (store.Loan, error) {
	existing, err := s.store.GetLoan(ctx, id)
	if err != nil {
		return store.Loan{}, notFoundAs(err, "Loan not found")
	}
	updated, err := input.apply(existing)
	if err != nil {
		return store.Loan{}, err
	}

	err = s.store.Tx(ctx, func(tx dataStore) error {
		if err := tx.UpdateLoan(ctx, updated); err != nil {
			return notFoundAs(err, "Loan not found")
		}
		if existing.Stage != updated.Stage {
			return tx.InsertLoanActivity(ctx, s.loanStageActivity(session, id, existing.Stage, updated.Stage))
		}
		return nil
	})
	if err != nil {
		return store.Loan{}, err
	}
	return s.store.GetLoan(ctx, id)
}

func (s *Service) UpdateLoanStage(ctx context.Context, session Session, id, stage string) (store.Loan, error) {
	if !oneOf(stage, loanStages) {
		return store.Loan{}, validationError("Invalid stage")
	}
	existing, err := s.store.GetLoan(ctx, id)
	if err != nil {
		return store.Loan{}, notFoundAs(err, "Loan not found")
	}
	if existing.Stage == stage {
		return existing, nil
	}
	err = s.store.Tx(ctx, func(tx dataStore) error {
		if err := tx.SetLoanStage(ctx, id, stage); err != nil {
			return notFoundAs(err, "Loan not found")
		}
		return tx.InsertLoanActivity(ctx, s.loanStageActivity(session, id, existing.Stage, stage))
	})
	if err != nil {
		return store.Loan{}, err
	}
	existing.Stage = stage
	return existing, nil
}

func (s *Service) DeleteLoan(ctx context.Context, id string) error {
	return notFoundAs(s.store.DeleteLoan(ctx, id), "Loan not found")
}

type LoanQuery struct {
	Stage     string
	ContactID string
	Page      int
}

func (s *Service) ListLoans(ctx context.Context, query LoanQuery) (Page[store.Loan], error) {
	page := normalizePage(query.Page)
	items, total, err := s.store.ListLoans(ctx, store.LoanFilter{
		Stage:     query.Stage,
		ContactID: query.ContactID,
		Limit:     loanPageSize,
		Offset:    (page - 1) * loanPageSize,
	})
	if err != nil {
		return Page[store.Loan]{}, err
	}
	return newPage(items, total, page, loanPageSize), nil
}

type LoanDetail struct {
	store.Loan
	Conditions  []store.LoanCondition    `json:"conditions"`
	Activities  []store.LoanActivity     `json:"activities"`
	Submissions []store.LenderSubmission `json:"submissions"`
}

func (s *Service) GetLoan(ctx context.Context, id string) (LoanDetail, error) {
	loan, err := s.store.GetLoan(ctx, id)
	if err != nil {
		return LoanDetail{}, notFoundAs(err, "Loan not found")
	}
	detail := LoanDetail{Loan: loan}
	if detail.Conditions, err = s.store.ListConditions(ctx, id); err != nil {
		return LoanDetail{}, err
	}
	if detail.Activities, err = s.store.ListLoanActivities(ctx, id); err != nil {
		return LoanDetail{}, err
	}
	if detail.Submissions, err = s.store.ListSubmissions(ctx, id); err != nil {
		return LoanDetail{}, err
	}
	return detail, nil
}

type LoanStageGroup struct {
	Stage string       `json:"stage"`
	Loans []store.Loan `json:"loans"`
}

func (s *Service) LoanPipeline(ctx context.Context) ([]LoanStageGroup, error) {
	loans, _, err := s.store.ListLoans(ctx, store.LoanFilter{})
	if err != nil {
		return nil, err
	}
	groups := make([]LoanStageGroup, len(loanStages))
	index := make(map[string]int, len(loanStages))
	for i, stage := range loanStages {
		groups[i] = LoanStageGroup{Stage: stage, Loans: make([]store.Loan, 0)}
		index[stage] = i
	}
	for _, l := range loans {
		if i, ok := index[l.Stage]; ok {
			groups[i].Loans = append(groups[i].Loans, l)
		}
	}
	return groups, nil
}

type ConditionInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	DueDate     string `json:"dueDate"`
}

func (s *Service) AddCondition(ctx context.Context, session Session, loanID string, input ConditionInput) (store.LoanCondition, error) {
	title := strings.TrimSpace(input.Title)
	err := firstFailure(
		rule{title == "", "Title is required"},
		rule{input.DueDate != "" && !validDate(input.DueDate), "Invalid due date"},
	)
	if err != nil {
		return store.LoanCondition{}, err
	}
	if _, err := s.store.GetLoan(ctx, loanID); err != nil {
		return store.LoanCondition{}, notFoundAs(err, "Loan not found")
	}

	condition := store.LoanCondition{
		ID:          util.NewID("cond"),
		LoanID:      loanID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Status:      "pending",
		DueDate:     input.DueDate,
	}
	err = s.store.Tx(ctx, func(tx dataStore) error {
		if err := tx.CreateCondition(ctx, condition); err != nil {
			return err
		}
		return tx.InsertLoanActivity(ctx, s.loanActivity(session, loanID, "condition_added", "Condition added: "+title, nil))
	})
	if err != nil {
		return store.LoanCondition{}, err
	}
	return s.store.GetCondition(ctx, condition.ID)
}

// UpdateConditionStatus stamps clearedAt for approved and waived conditions and clears it otherwise.
func (s *Service) UpdateConditionStatus(ctx context.Context, session Session, id, status string) (store.LoanCondition, error) {
	if !oneOf(status, conditionStatuses) {
		return store.LoanCondition{}, validationError("Invalid condition status")
	}
	condition, err := s.store.GetCondition(ctx, id)
	if err != nil {
		return store.LoanCondition{}, notFoundAs(err, "Condition not found")
	}

	cleared := status == "approved" || status == "waived"
	var clearedAt *time.Time
	if cleared {
		clearedAt = timePtr(s.now().UTC())
	}
	err = s.store.Tx(ctx, func(tx dataStore) error {
		if err := tx.SetConditionStatus(ctx, id, status, clearedAt); err != nil {
			return notFoundAs(err, "Condition not found")
		}
		if !cleared {
			return nil
		}
		return tx.InsertLoanActivity(ctx, s.loanActivity(session, condition.LoanID, "condition_cleared",
			fmt.Sprintf("Condition %s: %s", status, condition.Title), nil))
	})
	if err != nil {
		return store.LoanCondition{}, err
	}
	condition.Status = status
	condition.ClearedAt = clearedAt
	return condition, nil
}

func (s *Service) AddLoanActivity(ctx context.Context, session Session, loanID, kind, description string) (store.LoanActivity, error) {
	description = strings.TrimSpace(description)
	err := firstFailure(
		rule{!oneOf(kind, loanActivityTypes), "Invalid activity type"},
		rule{description == "", "Description is required"},
	)
	if err != nil {
		return store.LoanActivity{}, err
	}
	if _, err := s.store.GetLoan(ctx, loanID); err != nil {
		return store.LoanActivity{}, notFoundAs(err, "Loan not found")
	}
	activity := s.loanActivity(session, loanID, kind, description, nil)
	if err := s.store.InsertLoanActivity(ctx, activity); err != nil {
		return store.LoanActivity{}, err
	}
	activity.CreatedAt = s.now().UTC()
	return activity, nil
}

func (s *Service) loanActivity(session Session, loanID, kind, description string, metadata any) store.LoanActivity {
	a := store.LoanActivity{
		ID:          util.NewID("lact"),
		LoanID:      loanID,
		Type:        kind,
		Description: description,
		UserID:      session.UserID,
	}
	if metadata != nil {
		a.Metadata = metadataJSON(metadata)
	}
	return a
}

func (s *Service) loanStageActivity(session Session, loanID, from, to string) store.LoanActivity {
	return s.loanActivity(session, loanID, "stage_changed",
		fmt.Sprintf("Stage changed from %s to %s", from, to),
		map[string]string{"from": from, "to": to})
}
