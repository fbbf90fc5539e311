package app

import (
	"context"
	"strings"

	"brokercrm/internal/store"
	"brokercrm/internal/util"
)

var (
	followUpTypes    = []string{"call", "email", "meeting", "task", "reminder"}
	followUpStatuses = []string{"scheduled", "completed", "cancelled", "overdue"}
)

type FollowUpInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	DueDate     string `json:"dueDate"`
	DueTime     string `json:"dueTime"`
	ContactID   string `json:"contactId"`
	LoanID      string `json:"loanId"`
}

func (in FollowUpInput) apply(f store.FollowUp) (store.FollowUp, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.DueDate = strings.TrimSpace(in.DueDate)
	in.DueTime = strings.TrimSpace(in.DueTime)
	if in.Type == "" {
		in.Type = "reminder"
	}
	err := firstFailure(
		rule{in.Title == "", "Title is required"},
		rule{in.DueDate == "", "Due date is required"},
		rule{!validDate(in.DueDate), "Invalid due date"},
		rule{in.DueTime != "" && !validClock(in.DueTime), "Invalid due time"},
		rule{!oneOf(in.Type, followUpTypes), "Invalid follow-up type"},
		rule{in.Status != "" && !oneOf(in.Status, followUpStatuses), "Invalid follow-up status"},
	)
	if err != nil {
		return store.FollowUp{}, err
	}
	f.Title = in.Title
	f.Description = strings.TrimSpace(in.Description)
	f.Type = in.Type
	f.DueDate = in.DueDate
	f.DueTime = in.DueTime
	f.ContactID = in.ContactID
	f.LoanID = in.LoanID
	if in.Status != "" {
		f.Status = in.Status
	}
	return f, nil
}

func (s *Service) CreateFollowUp(ctx context.Context, session Session, input FollowUpInput) (store.FollowUp, error) {
	input.Status = ""
	f, err := input.apply(store.FollowUp{ID: util.NewID("fu"), Status: "scheduled", OwnerID: session.UserID})
	if err != nil {
		return store.FollowUp{}, err
	}
	if f.ContactID != "" {
		if _, err := s.store.GetContact(ctx, f.ContactID); err != nil {
			return store.FollowUp{}, notFoundAs(err, "Contact not found")
		}
	}
	if err := s.store.CreateFollowUp(ctx, f); err != nil {
		return store.FollowUp{}, err
	}
	return s.store.GetFollowUp(ctx, f.ID)
}

func (s *Service) UpdateFollowUp(ctx context.Context, id string, input FollowUpInput) (store.FollowUp, error) {
	existing, err := s.store.GetFollowUp(ctx, id)
	if err != nil {
		return store.FollowUp{}, notFoundAs(err, "Follow-up not found")
	}
	updated, err := input.apply(existing)
	if err != nil {
		return store.FollowUp{}, err
	}
	return s.saveFollowUp(ctx, updated)
}

func (s *Service) RescheduleFollowUp(ctx context.Context, id, dueDate, dueTime string) (store.FollowUp, error) {
	f, err := s.store.GetFollowUp(ctx, id)
	if err != nil {
		return store.FollowUp{}, notFoundAs(err, "Follow-up not found")
	}
	err = firstFailure(
		rule{!validDate(dueDate), "Invalid due date"},
		rule{dueTime != "" && !validClock(dueTime), "Invalid due time"},
	)
	if err != nil {
		return store.FollowUp{}, err
	}
	f.DueDate = dueDate
	f.DueTime = dueTime
	f.Status = "scheduled"
	return s.saveFollowUp(ctx, f)
}

func (s *Service) CompleteFollowUp(ctx context.Context, id string) (store.FollowUp, error) {
	f, err := s.store.GetFollowUp(ctx, id)
	if err != nil {
		return store.FollowUp{}, notFoundAs(err, "Follow-up not found")
	}
	f.Status = "completed"
	return s.saveFollowUp(ctx, f)
}

// saveFollowUp stamps completedAt when the status turns completed and clears it otherwise.
func (s *Service) saveFollowUp(ctx context.Context, f store.FollowUp) (store.FollowUp, error) {
	if f.Status == "completed" {
		if f.CompletedAt == nil {
			f.CompletedAt = timePtr(s.now().UTC())
		}
	} else {
		f.CompletedAt = nil
	}
	if err := s.store.UpdateFollowUp(ctx, f); err != nil {
		return store.FollowUp{}, notFoundAs(err, "Follow-up not found")
	}
	return s.withOverdue(f), nil
}

func (s *Service) DeleteFollowUp(ctx context.Context, id string) error {
	return notFoundAs(s.store.DeleteFollowUp(ctx, id), "Follow-up not found")
}

type FollowUpQuery struct {
	From   string
	To     string
	Status string
}

// ListFollowUps reports scheduled items whose due date has passed as overdue,
// and filters on that reported status.
func (s *Service) ListFollowUps(ctx context.Context, query FollowUpQuery) ([]store.FollowUp, error) {
	if query.Status != "" && !oneOf(query.Status, followUpStatuses) {
		return nil, validationError("Invalid follow-up status")
	}
	filter := store.FollowUpFilter{From: query.From, To: query.To, Status: query.Status}
	if query.Status == "overdue" {
		filter.Status = "scheduled"
	}
	items, err := s.store.ListFollowUps(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]store.FollowUp, 0, len(items))
	for _, f := range items {
		f = s.withOverdue(f)
		if query.Status != "" && f.Status != query.Status {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *Service) withOverdue(f store.FollowUp) store.FollowUp {
	today := s.now().UTC().Format("2006-01-02")
	if f.Status == "scheduled" && f.DueDate != "" && f.DueDate < today {
		f.Status = "overdue"
	}
	return f
}
