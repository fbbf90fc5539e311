package app

import (
	"context"
	"testing"
)

func floatPtr(v float64) *float64 { return &v }

func seedContact(t *testing.T, svc *Service) string {
	t.Helper()
	contact, err := svc.CreateContact(context.Background(), testSession, ContactInput{
		FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com",
	})
	if err != nil {
		t.Fatalf("CreateContact: %v", err)
	}
	return contact.ID
}

func TestCreateLoanValidation(t *testing.T) {
	svc := newTestService(newFakeStore(), Deps{})
	ctx := context.Background()
	contactID := seedContact(t, svc)

	cases := []struct {
		input   LoanInput
		status  int
		message string
	}{
		{LoanInput{LoanType: "fha"}, 422, "Contact is required"},
		{LoanInput{ContactID: contactID}, 422, "Loan type is required"},
		{LoanInput{ContactID: contactID, LoanType: "fha", Amount: floatPtr(0)}, 422, "Amount must be positive"},
		{LoanInput{ContactID: contactID, LoanType: "fha", InterestRate: floatPtr(120)}, 422, "Rate too high"},
		{LoanInput{ContactID: contactID, LoanType: "fha", CreditScore: intPtr(900)}, 422, "Credit score must be between 300 and 850"},
		{LoanInput{ContactID: contactID, LoanType: "fha", ClosingDate: "06/30/2024"}, 422, "Invalid closing date"},
		{LoanInput{ContactID: "ctc_missing", LoanType: "fha"}, 404, "Contact not found"},
	}
	for _, tc := range cases {
		_, err := svc.CreateLoan(ctx, testSession, tc.input)
		if domain := expectDomainError(t, err, tc.status); domain.Message != tc.message {
			t.Fatalf("expected %q, got %q", tc.message, domain.Message)
		}
	}
}

func TestLoanStageChangesAreLogged(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs, Deps{})
	ctx := context.Background()
	contactID := seedContact(t, svc)

	loan, err := svc.CreateLoan(ctx, testSession, LoanInput{ContactID: contactID, LoanType: "conventional", Amount: floatPtr(350000)})
	if err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}
	if loan.Stage != "application" {
		t.Fatalf("expected default stage application, got %q", loan.Stage)
	}
	if _, err := svc.UpdateLoanStage(ctx, testSession, loan.ID, "underwriting"); err != nil {
		t.Fatalf("UpdateLoanStage: %v", err)
	}
	if _, err := svc.UpdateLoanStage(ctx, testSession, loan.ID, "underwriting"); err != nil {
		t.Fatalf("UpdateLoanStage unchanged: %v", err)
	}

	detail, err := svc.GetLoan(ctx, loan.ID)
	if err != nil {
		t.Fatalf("GetLoan: %v", err)
	}
	if detail.Stage != "underwriting" || len(detail.Activities) != 2 {
		t.Fatalf("expected underwriting with 2 activities, got %q and %d", detail.Stage, len(detail.Activities))
	}
	if detail.Activities[0].Description != "Stage changed from application to underwriting" {
		t.Fatalf("unexpected newest activity %q", detail.Activities[0].Description)
	}

	pipeline, err := svc.LoanPipeline(ctx)
	if err != nil {
		t.Fatalf("LoanPipeline: %v", err)
	}
	if len(pipeline) != len(loanStages) || pipeline[2].Stage != "underwriting" || len(pipeline[2].Loans) != 1 {
		t.Fatalf("unexpected pipeline %+v", pipeline)
	}
}

func TestConditionStatusStampsClearedAt(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs, Deps{})
	ctx := context.Background()
	contactID := seedContact(t, svc)
	loan, err := svc.CreateLoan(ctx, testSession, LoanInput{ContactID: contactID, LoanType: "va"})
	if err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}

	condition, err := svc.AddCondition(ctx, testSession, loan.ID, ConditionInput{Title: "Pay stubs", DueDate: "2024-06-20"})
	if err != nil {
		t.Fatalf("AddCondition: %v", err)
	}
	if condition.Status != "pending" {
		t.Fatalf("expected pending condition, got %q", condition.Status)
	}

	cleared, err := svc.UpdateConditionStatus(ctx, testSession, condition.ID, "approved")
	if err != nil {
		t.Fatalf("UpdateConditionStatus: %v", err)
	}
	if cleared.ClearedAt == nil || !cleared.ClearedAt.Equal(testNow) {
		t.Fatalf("expected clearedAt stamped, got %v", cleared.ClearedAt)
	}
	reopened, err := svc.UpdateConditionStatus(ctx, testSession, condition.ID, "received")
	if err != nil {
		t.Fatalf("UpdateConditionStatus: %v", err)
	}
	if reopened.ClearedAt != nil {
		t.Fatalf("expected clearedAt reset, got %v", reopened.ClearedAt)
	}

	_, err = svc.UpdateConditionStatus(ctx, testSession, condition.ID, "done")
	expectDomainError(t, err, 422)
	_, err = svc.AddCondition(ctx, testSession, "loan_missing", ConditionInput{Title: "Appraisal"})
	expectDomainError(t, err, 404)

	kinds := make(map[string]int)
	for _, a := range fs.loanActivities {
		kinds[a.Type]++
	}
	if kinds["condition_added"] != 1 || kinds["condition_cleared"] != 1 {
		t.Fatalf("unexpected loan activities %v", kinds)
	}
}

func TestAddLoanActivityValidatesType(t *testing.T) {
	svc := newTestService(newFakeStore(), Deps{})
	ctx := context.Background()
	contactID := seedContact(t, svc)
	loan, _ := svc.CreateLoan(ctx, testSession, LoanInput{ContactID: contactID, LoanType: "jumbo"})

	_, err := svc.AddLoanActivity(ctx, testSession, loan.ID, "lunch", "Met borrower")
	expectDomainError(t, err, 422)

	activity, err := svc.AddLoanActivity(ctx, testSession, loan.ID, "rate_locked", " Locked at 6.25% ")
	if err != nil {
		t.Fatalf("AddLoanActivity: %v", err)
	}
	if activity.Description != "Locked at 6.25%" || activity.UserID != testSession.UserID {
		t.Fatalf("unexpected activity %+v", activity)
	}
}

func TestListFollowUpsReportsOverdue(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs, Deps{})
	ctx := context.Background()

	past, err := svc.CreateFollowUp(ctx, testSession, FollowUpInput{Title: "Call back", DueDate: "2024-06-10"})
	if err != nil {
		t.Fatalf("CreateFollowUp: %v", err)
	}
	if _, err := svc.CreateFollowUp(ctx, testSession, FollowUpInput{Title: "Send docs", Type: "email", DueDate: "2024-06-14", DueTime: "09:30"}); err != nil {
		t.Fatalf("CreateFollowUp: %v", err)
	}
	done, err := svc.CreateFollowUp(ctx, testSession, FollowUpInput{Title: "Old task", DueDate: "2024-06-01"})
	if err != nil {
		t.Fatalf("CreateFollowUp: %v", err)
	}
	if _, err := svc.CompleteFollowUp(ctx, done.ID); err != nil {
		t.Fatalf("CompleteFollowUp: %v", err)
	}

	all, err := svc.ListFollowUps(ctx, FollowUpQuery{})
	if err != nil {
		t.Fatalf("ListFollowUps: %v", err)
	}
	if len(all) != 3 || all[0].Status != "completed" || all[1].Status != "overdue" || all[2].Status != "scheduled" {
		t.Fatalf("unexpected follow-ups %+v", all)
	}

	overdue, err := svc.ListFollowUps(ctx, FollowUpQuery{Status: "overdue"})
	if err != nil {
		t.Fatalf("ListFollowUps overdue: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != past.ID {
		t.Fatalf("expected only the past follow-up, got %+v", overdue)
	}

	scheduled, err := svc.ListFollowUps(ctx, FollowUpQuery{Status: "scheduled"})
	if err != nil {
		t.Fatalf("ListFollowUps scheduled: %v", err)
	}
	if len(scheduled) != 1 || scheduled[0].Title != "Send docs" {
		t.Fatalf("expected only the future follow-up, got %+v", scheduled)
	}
}

func TestFollowUpLifecycle(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs, Deps{})
	ctx := context.Background()

	_, err := svc.CreateFollowUp(ctx, testSession, FollowUpInput{Title: "Call", DueDate: "tomorrow"})
	expectDomainError(t, err, 422)
	_, err = svc.CreateFollowUp(ctx, testSession, FollowUpInput{Title: "Call", DueDate: "2024-06-20", Type: "fax"})
	expectDomainError(t, err, 422)
	_, err = svc.CreateFollowUp(ctx, testSession, FollowUpInput{Title: "Call", DueDate: "2024-06-20", ContactID: "ctc_missing"})
	expectDomainError(t, err, 404)

	item, err := svc.CreateFollowUp(ctx, testSession, FollowUpInput{Title: "Call", DueDate: "2024-06-20"})
	if err != nil {
		t.Fatalf("CreateFollowUp: %v", err)
	}
	if item.Type != "reminder" || item.Status != "scheduled" {
		t.Fatalf("unexpected defaults %+v", item)
	}

	completed, err := svc.CompleteFollowUp(ctx, item.ID)
	if err != nil {
		t.Fatalf("CompleteFollowUp: %v", err)
	}
	if completed.Status != "completed" || completed.CompletedAt == nil {
		t.Fatalf("expected completedAt stamped, got %+v", completed)
	}

	moved, err := svc.RescheduleFollowUp(ctx, item.ID, "2024-06-25", "14:00")
	if err != nil {
		t.Fatalf("RescheduleFollowUp: %v", err)
	}
	if moved.Status != "scheduled" || moved.CompletedAt != nil || moved.DueDate != "2024-06-25" {
		t.Fatalf("expected rescheduled follow-up, got %+v", moved)
	}
	_, err = svc.RescheduleFollowUp(ctx, item.ID, "2024-06-25", "2pm")
	expectDomainError(t, err, 422)

	if err := svc.DeleteFollowUp(ctx, item.ID); err != nil {
		t.Fatalf("DeleteFollowUp: %v", err)
	}
	expectDomainError(t, svc.DeleteFollowUp(ctx, item.ID), 404)
}
