package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"brokercrm/internal/export"
	"brokercrm/internal/search"
	"brokercrm/internal/store"
	"brokercrm/internal/util"
	"go.uber.org/zap"
)

const (
	contactPageSize   = 10
	importBatchSize   = 100
	contactEmailLimit = 10
	activityLimit     = 50
)

var (
	contactStages  = []string{"new", "contacted", "qualified", "proposal", "negotiation", "won", "lost"}
	contactSources = []string{"website", "referral", "social_media", "cold_call", "email_campaign", "advertisement", "trade_show", "other"}
	contactSorts   = []string{"createdAt", "firstName", "lastName", "email", "company", "stage", "score"}
)

type ContactInput struct {
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Email     string   `json:"email"`
	Phone     string   `json:"phone"`
	Company   string   `json:"company"`
	JobTitle  string   `json:"jobTitle"`
	Stage     string   `json:"stage"`
	Source    string   `json:"source"`
	Score     *int     `json:"score"`
	Address   string   `json:"address"`
	City      string   `json:"city"`
	State     string   `json:"state"`
	Zip       string   `json:"zip"`
	Country   string   `json:"country"`
	Website   string   `json:"website"`
	Notes     string   `json:"notes"`
	TagIDs    []string `json:"tagIds"`
}

func (in ContactInput) apply(c store.Contact) (store.Contact, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.TrimSpace(in.Email)
	in.Website = strings.TrimSpace(in.Website)
	err := firstFailure(
		rule{in.FirstName == "", "First name is required"},
		rule{in.LastName == "", "Last name is required"},
		rule{in.Email != "" && !validEmail(in.Email), "Invalid email address"},
		rule{in.Website != "" && !validURL(in.Website), "Invalid website URL"},
		rule{intOutside(in.Score, func(v int) bool { return v >= 0 && v <= 100 }), "Score must be between 0 and 100"},
		rule{in.Stage != "" && !oneOf(in.Stage, contactStages), "Invalid stage"},
		rule{in.Source != "" && !oneOf(in.Source, contactSources), "Invalid source"},
	)
	if err != nil {
		return store.Contact{}, err
	}

	c.FirstName = in.FirstName
	c.LastName = in.LastName
	c.Email = in.Email
	c.Phone = strings.TrimSpace(in.Phone)
	c.Company = strings.TrimSpace(in.Company)
	c.JobTitle = strings.TrimSpace(in.JobTitle)
	if in.Stage != "" {
		c.Stage = in.Stage
	}
	if c.Stage == "" {
		c.Stage = "new"
	}
	c.Source = in.Source
	if in.Score != nil {
		c.Score = *in.Score
	}
	c.Address = strings.TrimSpace(in.Address)
	c.City = strings.TrimSpace(in.City)
	c.State = strings.TrimSpace(in.State)
	c.Zip = strings.TrimSpace(in.Zip)
	c.Country = strings.TrimSpace(in.Country)
	c.Website = in.Website
	c.Notes = in.Notes
	return c, nil
}

func (s *Service) CreateContact(ctx context.Context, session Session, input ContactInput) (store.Contact, error) {
	contact, err := input.apply(store.Contact{
		ID:      util.NewID("ctc"),
		OwnerID: session.UserID,
	})
	if err != nil {
		return store.Contact{}, err
	}

	err = s.store.Tx(ctx, func(tx dataStore) error {
		if err := tx.CreateContact(ctx, contact); err != nil {
			return err
		}
		if len(input.TagIDs) > 0 {
			if err := tx.ReplaceContactTags(ctx, contact.ID, input.TagIDs); err != nil {
				return err
			}
		}
		return tx.InsertActivity(ctx, s.contactActivity(session, contact.ID, "contact_created", "Contact created", nil))
	})
	if err != nil {
		return store.Contact{}, err
	}
	return s.reloadContact(ctx, contact.ID)
}

func (s *Service) UpdateContact(ctx context.Context, session Session, id string, input ContactInput) (store.Contact, error) {
	existing, err := s.store.GetContact(ctx, id)
	if err != nil {
		return store.Contact{}, notFoundAs(err, "Contact not found")
	}
	updated, err := input.apply(existing)
	if err != nil {
		return store.Contact{}, err
	}

	err = s.store.Tx(ctx, func(tx dataStore) error {
		if err := tx.UpdateContact(ctx, updated); err != nil {
			return notFoundAs(err, "Contact not found")
		}
		if input.TagIDs != nil {
			if err := tx.ReplaceContactTags(ctx, id, input.TagIDs); err != nil {
				return err
			}
		}
		if existing.Stage != updated.Stage {
			if err := tx.InsertActivity(ctx, s.stageActivity(session, id, existing.Stage, updated.Stage)); err != nil {
				return err
			}
		}
		return tx.InsertActivity(ctx, s.contactActivity(session, id, "contact_updated", "Contact information updated", nil))
	})
	if err != nil {
		return store.Contact{}, err
	}
	return s.reloadContact(ctx, id)
}

func (s *Service) UpdateContactStage(ctx context.Context, session Session, id, stage string) (store.Contact, error) {
	if !oneOf(stage, contactStages) {
		return store.Contact{}, validationError("Invalid stage")
	}
	existing, err := s.store.GetContact(ctx, id)
	if err != nil {
		return store.Contact{}, notFoundAs(err, "Contact not found")
	}
	if existing.Stage == stage {
		return existing, nil
	}
	err = s.store.Tx(ctx, func(tx dataStore) error {
		if err := tx.SetContactStage(ctx, id, stage); err != nil {
			return notFoundAs(err, "Contact not found")
		}
		return tx.InsertActivity(ctx, s.stageActivity(session, id, existing.Stage, stage))
	})
	if err != nil {
		return store.Contact{}, err
	}
	return s.reloadContact(ctx, id)
}

func (s *Service) DeleteContact(ctx context.Context, id string) error {
	if err := s.store.DeleteContact(ctx, id); err != nil {
		return notFoundAs(err, "Contact not found")
	}
	if s.search != nil {
		s.search.DeleteContacts(id)
	}
	return nil
}

func (s *Service) DeleteContacts(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, validationError("No contacts selected")
	}
	deleted, err := s.store.DeleteContacts(ctx, ids)
	if err != nil {
		return 0, err
	}
	if s.search != nil {
		s.search.DeleteContacts(ids...)
	}
	return deleted, nil
}

func (s *Service) AssignTags(ctx context.Context, session Session, id string, tagIDs []string) (store.Contact, error) {
	if _, err := s.store.GetContact(ctx, id); err != nil {
		return store.Contact{}, notFoundAs(err, "Contact not found")
	}
	if tagIDs == nil {
		tagIDs = []string{}
	}
	err := s.store.Tx(ctx, func(tx dataStore) error {
		if err := tx.ReplaceContactTags(ctx, id, tagIDs); err != nil {
			return err
		}
		return tx.InsertActivity(ctx, s.contactActivity(session, id, "tag_added", "Tags were updated", nil))
	})
	if err != nil {
		return store.Contact{}, err
	}
	return s.reloadContact(ctx, id)
}

type ContactQuery struct {
	Q      string
	Stage  string
	Source string
	TagID  string
	Page   int
	Sort   string
	Order  string
}

func (s *Service) ListContacts(ctx context.Context, query ContactQuery) (Page[store.Contact], error) {
	page := normalizePage(query.Page)
	filter := store.ContactFilter{
		Stage:  query.Stage,
		Source: query.Source,
		TagID:  query.TagID,
		Sort:   "createdAt",
		Desc:   !strings.EqualFold(query.Order, "asc"),
		Limit:  contactPageSize,
		Offset: (page - 1) * contactPageSize,
	}
	if oneOf(query.Sort, contactSorts) {
		filter.Sort = query.Sort
	}
	if text := strings.TrimSpace(query.Q); text != "" && s.search != nil {
		ids, err := s.search.ContactIDs(ctx, text)
		if err != nil {
			return Page[store.Contact]{}, err
		}
		if ids == nil {
			ids = []string{}
		}
		filter.IDs = ids
	}

	items, total, err := s.store.ListContacts(ctx, filter)
	if err != nil {
		return Page[store.Contact]{}, err
	}
	return newPage(items, total, page, contactPageSize), nil
}

type ContactDetail struct {
	store.Contact
	Notes      []store.Note     `json:"notes"`
	Activities []store.Activity `json:"activities"`
	Loans      []store.Loan     `json:"loans"`
	Documents  []store.Document `json:"documents"`
	Emails     []store.Email    `json:"emails"`
}

func (s *Service) GetContact(ctx context.Context, id string) (ContactDetail, error) {
	contact, err := s.store.GetContact(ctx, id)
	if err != nil {
		return ContactDetail{}, notFoundAs(err, "Contact not found")
	}
	detail := ContactDetail{Contact: contact}
	if detail.Notes, err = s.store.ListNotes(ctx, id); err != nil {
		return ContactDetail{}, err
	}
	if detail.Activities, err = s.store.ListActivities(ctx, id, activityLimit); err != nil {
		return ContactDetail{}, err
	}
	if detail.Loans, _, err = s.store.ListLoans(ctx, store.LoanFilter{ContactID: id}); err != nil {
		return ContactDetail{}, err
	}
	if detail.Documents, _, err = s.store.ListDocuments(ctx, "", id, 0, 0); err != nil {
		return ContactDetail{}, err
	}
	if detail.Emails, err = s.store.ListContactEmails(ctx, id, contactEmailLimit); err != nil {
		return ContactDetail{}, err
	}
	return detail, nil
}

type ContactStageGroup struct {
	Stage    string          `json:"stage"`
	Contacts []store.Contact `json:"contacts"`
}

func (s *Service) ContactPipeline(ctx context.Context) ([]ContactStageGroup, error) {
	contacts, err := s.store.ListAllContacts(ctx)
	if err != nil {
		return nil, err
	}
	groups := make([]ContactStageGroup, len(contactStages))
	index := make(map[string]int, len(contactStages))
	for i, stage := range contactStages {
		groups[i] = ContactStageGroup{Stage: stage, Contacts: make([]store.Contact, 0)}
		index[stage] = i
	}
	for _, c := range contacts {
		if i, ok := index[c.Stage]; ok {
			groups[i].Contacts = append(groups[i].Contacts, c)
		}
	}
	return groups, nil
}

type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}

// ImportContacts validates every row, then inserts the valid ones in batches.
func (s *Service) ImportContacts(ctx context.Context, session Session, rows []ContactInput) (ImportResult, error) {
	result := ImportResult{Errors: make([]string, 0)}
	if len(rows) == 0 {
		return result, validationError("No contacts to import")
	}

	valid := make([]store.Contact, 0, len(rows))
	for i, row := range rows {
		contact, err := row.apply(store.Contact{ID: util.NewID("ctc"), OwnerID: session.UserID})
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %s", i+1, err.Error()))
			continue
		}
		valid = append(valid, contact)
	}

	for start := 0; start < len(valid); start += importBatchSize {
		batch := valid[start:min(start+importBatchSize, len(valid))]
		err := s.store.Tx(ctx, func(tx dataStore) error {
			for _, contact := range batch {
				if err := tx.CreateContact(ctx, contact); err != nil {
					return err
				}
				if err := tx.InsertActivity(ctx, s.contactActivity(session, contact.ID, "contact_created", "Imported from CSV", nil)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return result, fmt.Errorf("import batch %d: %w", start/importBatchSize+1, err)
		}
		result.Imported += len(batch)
		for _, contact := range batch {
			s.indexContact(contact)
		}
	}

	s.logger.Info("contacts imported", zap.Int("imported", result.Imported), zap.Int("skipped", result.Skipped))
	return result, nil
}

func (s *Service) ImportContactsCSV(ctx context.Context, session Session, r io.Reader) (ImportResult, error) {
	parsed, err := export.ParseContactsCSV(r)
	if err != nil {
		return ImportResult{}, validationError(err.Error())
	}
	rows := make([]ContactInput, 0, len(parsed))
	for _, c := range parsed {
		score := c.Score
		rows = append(rows, ContactInput{
			FirstName: c.FirstName, LastName: c.LastName, Email: c.Email, Phone: c.Phone,
			Company: c.Company, JobTitle: c.JobTitle, Stage: c.Stage, Source: c.Source, Score: &score,
			Address: c.Address, City: c.City, State: c.State, Zip: c.Zip, Country: c.Country, Website: c.Website,
		})
	}
	return s.ImportContacts(ctx, session, rows)
}

func (s *Service) ExportContactsCSV(ctx context.Context) (*export.Result, error) {
	contacts, err := s.store.ListAllContacts(ctx)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := export.WriteContactsCSV(&buf, contacts); err != nil {
		return nil, err
	}
	return &export.Result{
		Data:     buf.Bytes(),
		Filename: export.ContactsCSVFilename(s.now()),
		MimeType: "text/csv",
	}, nil
}

type Dashboard struct {
	TotalContacts    int              `json:"totalContacts"`
	NewThisWeek      int              `json:"newThisWeek"`
	WonDeals         int              `json:"wonDeals"`
	LostDeals        int              `json:"lostDeals"`
	ConversionRate   int              `json:"conversionRate"`
	ByStage          map[string]int   `json:"byStage"`
	RecentContacts   []store.Contact  `json:"recentContacts"`
	RecentActivities []store.Activity `json:"recentActivities"`
}

func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	counts, err := s.store.DashboardCounts(ctx, startOfWeek(s.now()))
	if err != nil {
		return Dashboard{}, err
	}
	recent, err := s.store.RecentContacts(ctx, 5)
	if err != nil {
		return Dashboard{}, err
	}
	activities, err := s.store.RecentActivities(ctx, 10)
	if err != nil {
		return Dashboard{}, err
	}
	byStage := make(map[string]int, len(contactStages))
	for _, stage := range contactStages {
		byStage[stage] = counts.ByStage[stage]
	}
	return Dashboard{
		TotalContacts:    counts.TotalContacts,
		NewThisWeek:      counts.NewThisWeek,
		WonDeals:         counts.Won,
		LostDeals:        counts.Lost,
		ConversionRate:   conversionRate(counts.Won, counts.Lost),
		ByStage:          byStage,
		RecentContacts:   recent,
		RecentActivities: activities,
	}, nil
}

func conversionRate(won, lost int) int {
	if won+lost == 0 {
		return 0
	}
	return int(math.Round(float64(won) / float64(won+lost) * 100))
}

// startOfWeek returns Sunday 00:00 UTC of the week containing t.
func startOfWeek(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -int(day.Weekday()))
}

func (s *Service) reloadContact(ctx context.Context, id string) (store.Contact, error) {
	contact, err := s.store.GetContact(ctx, id)
	if err != nil {
		return store.Contact{}, notFoundAs(err, "Contact not found")
	}
	s.indexContact(contact)
	return contact, nil
}

func (s *Service) indexContact(contact store.Contact) {
	if s.search != nil {
		s.search.IndexContact(search.RecordFromContact(contact))
	}
}

func (s *Service) contactActivity(session Session, contactID, kind, description string, metadata any) store.Activity {
	a := store.Activity{
		ID:          util.NewID("act"),
		ContactID:   contactID,
		Type:        kind,
		Description: description,
		UserID:      session.UserID,
	}
	if metadata != nil {
		a.Metadata = metadataJSON(metadata)
	}
	return a
}

func (s *Service) stageActivity(session Session, contactID, from, to string) store.Activity {
	return s.contactActivity(session, contactID, "stage_changed",
		fmt.Sprintf("Stage changed from %s to %s", from, to),
		map[string]string{"from": from, "to": to})
}
