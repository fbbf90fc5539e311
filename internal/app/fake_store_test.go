package app

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"brokercrm/internal/store"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeStore is an in-memory dataStore. Records keep insertion order. Tx runs
// fn directly without rollback; txCalls counts transactions.
type fakeStore struct {
	mu    sync.Mutex
	clock time.Time

	users          []store.User
	refresh        map[string]store.User
	revoked        map[string]time.Time
	contacts       []store.Contact
	contactTags    map[string][]string
	tags           []store.Tag
	notes          []store.Note
	activities     []store.Activity
	followUps      []store.FollowUp
	loans          []store.Loan
	loanActivities []store.LoanActivity
	conditions     []store.LoanCondition
	documents      []store.Document
	recipients     []store.DocumentRecipient
	attachments    []store.DocumentAttachment
	fields         []store.DocumentField
	audit          []store.DocumentAuditEntry
	accounts       []store.EmailAccount
	emails         []store.Email
	emailFiles     []store.EmailAttachment
	lenders        []store.Lender
	submissions    []store.LenderSubmission
	quotes         []store.LenderQuote

	txCalls int

	createContactFn func(context.Context, store.Contact) error
	insertEmailFn   func(context.Context, store.Email) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clock:       testNow.Add(-24 * time.Hour),
		refresh:     make(map[string]store.User),
		revoked:     make(map[string]time.Time),
		contactTags: make(map[string][]string),
	}
}

// stamp returns strictly increasing timestamps so ordering by creation is stable.
func (f *fakeStore) stamp() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) created(at time.Time) time.Time {
	if at.IsZero() {
		return f.stamp()
	}
	return at
}

func find[T any](items []T, match func(T) bool) int {
	for i, item := range items {
		if match(item) {
			return i
		}
	}
	return -1
}

func filter[T any](items []T, keep func(T) bool) []T {
	out := make([]T, 0)
	for _, item := range items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}

func notFound(what string) error {
	return fmt.Errorf("%s: %w", what, sql.ErrNoRows)
}

func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505"}
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return make([]T, 0)
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return slices.Clone(items)
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) Tx(_ context.Context, fn func(dataStore) error) error {
	f.mu.Lock()
	f.txCalls++
	f.mu.Unlock()
	return fn(f)
}

// Users and sessions.

func (f *fakeStore) CreateUser(_ context.Context, u store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if find(f.users, func(x store.User) bool { return strings.EqualFold(x.Email, u.Email) }) >= 0 {
		return uniqueViolation()
	}
	u.CreatedAt = f.created(u.CreatedAt)
	u.UpdatedAt = u.CreatedAt
	f.users = append(f.users, u)
	return nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := find(f.users, func(x store.User) bool { return strings.EqualFold(x.Email, email) }); i >= 0 {
		return f.users[i], nil
	}
	return store.User{}, notFound("get user")
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := find(f.users, func(x store.User) bool { return x.ID == id }); i >= 0 {
		return f.users[i], nil
	}
	return store.User{}, notFound("get user")
}

func (f *fakeStore) CountUsers(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users), nil
}

func (f *fakeStore) ListUsers(context.Context) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.users), nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, hash string, user store.User, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[hash] = user
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, hash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.refresh[hash]
	if !ok {
		return store.User{}, notFound("lookup refresh session")
	}
	return user, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, hash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = expiresAt
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.revoked[jti]
	return ok, nil
}

// Contacts.

func (f *fakeStore) withTags(c store.Contact) store.Contact {
	c.Tags = make([]store.Tag, 0)
	for _, id := range f.contactTags[c.ID] {
		if i := find(f.tags, func(t store.Tag) bool { return t.ID == id }); i >= 0 {
			c.Tags = append(c.Tags, f.tags[i])
		}
	}
	return c
}

func (f *fakeStore) CreateContact(ctx context.Context, c store.Contact) error {
	if f.createContactFn != nil {
		if err := f.createContactFn(ctx, c); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c.CreatedAt = f.created(c.CreatedAt)
	c.UpdatedAt = c.CreatedAt
	c.Tags = nil
	f.contacts = append(f.contacts, c)
	return nil
}

func (f *fakeStore) UpdateContact(_ context.Context, c store.Contact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := find(f.contacts, func(x store.Contact) bool { return x.ID == c.ID })
	if i < 0 {
		return notFound("update contact")
	}
	c.CreatedAt = f.contacts[i].CreatedAt
	c.UpdatedAt = f.stamp()
	c.Tags = nil
	f.contacts[i] = c
	return nil
}

func (f *fakeStore) SetContactStage(_ context.Context, id, stage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := find(f.contacts, func(x store.Contact) bool { return x.ID == id })
	if i < 0 {
		return notFound("set contact stage")
	}
	f.contacts[i].Stage = stage
	f.contacts[i].UpdatedAt = f.stamp()
	return nil
}

func (f *fakeStore) GetContact(_ context.Context, id string) (store.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := find(f.contacts, func(x store.Contact) bool { return x.ID == id }); i >= 0 {
		return f.withTags(f.contacts[i]), nil
	}
	return store.Contact{}, notFound("get contact")
}

func (f *fakeStore) FindContactByEmail(_ context.Context, email string) (store.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := find(f.contacts, func(x store.Contact) bool { return x.Email != "" && strings.EqualFold(x.Email, email) }); i >= 0 {
		return f.withTags(f.contacts[i]), nil
	}
	return store.Contact{}, notFound("find contact")
}

func (f *fakeStore) DeleteContact(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := len(f.contacts)
	f.contacts = filter(f.contacts, func(x store.Contact) bool { return x.ID != id })
	if len(f.contacts) == before {
		return notFound("delete contact")
	}
	delete(f.contactTags, id)
	return nil
}

func (f *fakeStore) DeleteContacts(_ context.Context, ids []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := len(f.contacts)
	f.contacts = filter(f.contacts, func(x store.Contact) bool { return !slices.Contains(ids, x.ID) })
	return before - len(f.contacts), nil
}

func (f *fakeStore) ListContacts(_ context.Context, cf store.ContactFilter) ([]store.Contact, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cf.IDs != nil && len(cf.IDs) == 0 {
		return make([]store.Contact, 0), 0, nil
	}
	matched := filter(f.contacts, func(c store.Contact) bool {
		switch {
		case cf.IDs != nil && !slices.Contains(cf.IDs, c.ID):
			return false
		case cf.Stage != "" && c.Stage != cf.Stage:
			return false
		case cf.Source != "" && c.Source != cf.Source:
			return false
		case cf.TagID != "" && !slices.Contains(f.contactTags[c.ID], cf.TagID):
			return false
		}
		return true
	})
	if cf.Desc {
		slices.Reverse(matched)
	}
	items := page(matched, cf.Limit, cf.Offset)
	for i := range items {
		items[i] = f.withTags(items[i])
	}
	return items, len(matched), nil
}

func (f *fakeStore) ListAllContacts(context.Context) ([]store.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Contact, 0, len(f.contacts))
	for _, c := range f.contacts {
		out = append(out, f.withTags(c))
	}
	return out, nil
}

func (f *fakeStore) RecentContacts(_ context.Context, limit int) ([]store.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := slices.Clone(f.contacts)
	slices.Reverse(items)
	return page(items, limit, 0), nil
}

func (f *fakeStore) ReplaceContactTags(_ context.Context, contactID string, tagIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contactTags[contactID] = slices.Clone(tagIDs)
	return nil
}

func (f *fakeStore) DashboardCounts(_ context.Context, weekStart time.Time) (store.DashboardCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := store.DashboardCounts{ByStage: make(map[string]int)}
	for _, c := range f.contacts {
		counts.TotalContacts++
		counts.ByStage[c.Stage]++
		if !c.CreatedAt.Before(weekStart) {
			counts.NewThisWeek++
		}
		switch c.Stage {
		case "won":
			counts.Won++
		case "lost":
			counts.Lost++
		}
	}
	return counts, nil
}

// Tags.

func (f *fakeStore) CreateTag(_ context.Context, t store.Tag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if find(f.tags, func(x store.Tag) bool { return strings.EqualFold(x.Name, t.Name) }) >= 0 {
		return uniqueViolation()
	}
	t.CreatedAt = f.created(t.CreatedAt)
	f.tags = append(f.tags, t)
	return nil
}

func (f *fakeStore) UpdateTag(_ context.Context, t store.Tag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := find(f.tags, func(x store.Tag) bool { return x.ID == t.ID })
	if i < 0 {
		return notFound("update tag")
	}
	t.CreatedAt = f.tags[i].CreatedAt
	f.tags[i] = t
	return nil
}

func (f *fakeStore) DeleteTag(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := len(f.tags)
	f.tags = filter(f.tags, func(x store.Tag) bool { return x.ID != id })
	if len(f.tags) == before {
		return notFound("delete tag")
	}
	for contactID, ids := range f.contactTags {
		f.contactTags[contactID] = filter(ids, func(x string) bool { return x != id })
	}
	return nil
}

func (f *fakeStore) GetTag(_ context.Context, id string) (store.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := find(f.tags, func(x store.Tag) bool { return x.ID == id }); i >= 0 {
		return f.tags[i], nil
	}
	return store.Tag{}, notFound("get tag")
}

func (f *fakeStore) GetTagByName(_ context.Context, name string) (store.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := find(f.tags, func(x store.Tag) bool { return strings.EqualFold(x.Name, name) }); i >= 0 {
		return f.tags[i], nil
	}
	return store.Tag{}, notFound("get tag")
}

func (f *fakeStore) ListTags(context.Context) ([]store.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.tags), nil
}

// Notes and activities.

func (f *fakeStore) CreateNote(_ context.Context, n store.Note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n.CreatedAt = f.created(n.CreatedAt)
	n.UpdatedAt = n.CreatedAt
	f.notes = append(f.notes, n)
	return nil
}

func (f *fakeStore) GetNote(_ context.Context, id string) (store.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := find(f.notes, func(x store.Note) bool { return x.ID == id }); i >= 0 {
		return f.notes[i], nil
	}
	return store.Note{}, notFound("get note")
}

func (f *fakeStore) UpdateNote(_ context.Context, n store.Note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := find(f.notes, func(x store.Note) bool { return x.ID == n.ID })
	if i < 0 {
		return notFound("update note")
	}
	n.UpdatedAt = f.stamp()
	f.notes[i] = n
	return nil
}

func (f *fakeStore) DeleteNote(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := len(f.notes)
	f.notes = filter(f.notes, func(x store.Note) bool { return x.ID != id })
	if len(f.notes) == before {
		return notFound("delete note")
	}
	return nil
}

func (f *fakeStore) ListNotes(_ context.Context, contactID string) ([]store.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filter(f.notes, func(x store.Note) bool { return x.ContactID == contactID }), nil
}

func (f *fakeStore) InsertActivity(_ context.Context, a store.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.CreatedAt = f.created(a.CreatedAt)
	f.activities = append(f.activities, a)
	return nil
}

func (f *fakeStore) ListActivities(_ context.Context, contactID string, limit int) ([]store.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := filter(f.activities, func(x store.Activity) bool { return x.ContactID == contactID })
	slices.Reverse(items)
	return page(items, limit, 0), nil
}

func (f *fakeStore) RecentActivities(_ context.Context, limit int) ([]store.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := slices.Clone(f.activities)
	slices.Reverse(items)
	return page(items, limit, 0), nil
}

// Follow-ups.

func (f *fakeStore) CreateFollowUp(_ context.Context, item store.FollowUp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.CreatedAt = f.created(item.CreatedAt)
	item.UpdatedAt = item.CreatedAt
	f.followUps = append(f.followUps, item)
	return nil
}

func (f *fakeStore) GetFollowUp(_ context.Context, id string) (store.FollowUp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := find(f.followUps, func(x store.FollowUp) bool { return x.ID == id }); i >= 0 {
		return f.followUps[i], nil
	}
	return store.FollowUp{}, notFound("get follow-up")
}

func (f *fakeStore) UpdateFollowUp(_ context.Context, item store.FollowUp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := find(f.followUps, func(x store.FollowUp) bool { return x.ID == item.ID })
	if i < 0 {
		return notFound("update follow-up")
	}
	item.UpdatedAt = f.stamp()
	f.followUps[i] = item
	return nil
}

func (f *fakeStore) DeleteFollowUp(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := len(f.followUps)
	f.followUps = filter(f.followUps, func(x store.FollowUp) bool { return x.ID != id })
	if len(f.followUps) == before {
		return notFound("delete follow-up")
	}
	return nil
}

func (f *fakeStore) ListFollowUps(_ context.Context, ff store.FollowUpFilter) ([]store.FollowUp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := filter(f.followUps, func(x store.FollowUp) bool {
		switch {
		case ff.From != "" && x.DueDate < ff.From:
			return false
		case ff.To != "" && x.DueDate > ff.To:
			return false
		case ff.Status != "" && x.Status != ff.Status:
			return false
		}
		return true
	})
	slices.SortStableFunc(items, func(a, b store.FollowUp) int { return strings.Compare(a.DueDate, b.DueDate) })
	return items, nil
}

// Loans.

func (f *fakeStore) CreateLoan(_ context.Context, l store.Loan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l.CreatedAt = f.created(l.CreatedAt)
	l.UpdatedAt = l.CreatedAt
	f.loans = append(f.loans, l)
	return nil
}

func (f *fakeStore) UpdateLoan(_ context.Context, l store.Loan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := find(f.loans, func(x store.Loan) bool { return x.ID == l.ID })
	if i < 0 {
		return notFound("update loan")
	}
	l.CreatedAt = f.loans[i].CreatedAt
	l.UpdatedAt = f.stamp()
	f.loans[i] = l
	return nil
}

func (f *fakeStore) SetLoanStage(_ context.Context, id, stage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := find(f.loans, func(x store.Loan) bool { return x.ID == id })
	if i < 0 {
		return notFound("set loan stage")
	}
	f.loans[i].Stage = stage
	return nil
}

func (f *fakeStore) GetLoan(_ context.Context, id string) (store.Loan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := find(f.loans, func(x store.Loan) bool { return x.ID == id }); i >= 0 {
		return f.loans[i], nil
	}
	return store.Loan{}, notFound("get loan")
}

func (f *fakeStore) DeleteLoan(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := len(f.loans)
	f.loans = filter(f.loans, func(x store.Loan) bool { return x.ID != id })
	if len(f.loans) == before {
		return notFound("delete loan")
	}
	return nil
}

func (f *fakeStore) ListLoans(_ context.Context, lf store.LoanFilter) ([]store.Loan, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	matched := filter(f.loans, func(x store.Loan) bool {
		return (lf.Stage == "" || x.Stage == lf.Stage) && (lf.ContactID == "" || x.ContactID == lf.ContactID)
	})
	slices.Reverse(matched)
	return page(matched, lf.Limit, lf.Offset), len(matched), nil
}

func (f *fakeStore) InsertLoanActivity(_ context.Context, a store.LoanActivity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.CreatedAt = f.created(a.CreatedAt)
	f.loanActivities = append(f.loanActivities, a)
	return nil
}

func (f *fakeStore) ListLoanActivities(_ context.Context, loanID string) ([]store.LoanActivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := filter(f.loanActivities, func(x store.LoanActivity) bool { return x.LoanID == loanID })
	slices.Reverse(items)
	return items, nil
}

func (f *fakeStore) CreateCondition(_ context.Context, c store.LoanCondition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.CreatedAt = f.created(c.CreatedAt)
	f.conditions = append(f.conditions, c)
	return nil
}

func (f *fakeStore) GetCondition(_ context.Context, id string) (store.LoanCondition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := find(f.conditions, func(x store.LoanCondition) bool { return x.ID == id }); i >= 0 {
		return f.conditions[i], nil
	}
	return store.LoanCondition{}, notFound("get condition")
}

func (f *fakeStore) SetConditionStatus(_ context.Context, id, status string, clearedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := find(f.conditions, func(x store.LoanCondition) bool { return x.ID == id })
	if i < 0 {
		return notFound("set condition status")
	}
	f.conditions[i].Status = status
	f.conditions[i].ClearedAt = clearedAt
	return nil
}

func (f *fakeStore) ListConditions(_ context.Context, loanID string) ([]store.LoanCondition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filter(f.conditions, func(x store.LoanCondition) bool { return x.LoanID == loanID }), nil
}

// Documents.

func (f *fakeStore) CreateDocument(_ context.Context, d store.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.CreatedAt = f.created(d.CreatedAt)
	d.UpdatedAt = d.CreatedAt
	f.documents = append(f.documents, d)
	return nil
}

func (f *fakeStore) UpdateDocument(_ context.Context, d store.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := find(f.documents, func(x store.Document) bool { return x.ID == d.ID })
	if i < 0 {
		return notFound("update document")
	}
	d.CreatedAt = f.documents[i].CreatedAt
	d.UpdatedAt = f.stamp()
	f.documents[i] = d
	return nil
}

func (f *fakeStore) GetDocument(_ context.Context, id string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := find(f.documents, func(x store.Document) bool { return x.ID == id }); i >= 0 {
		return f.documents[i], nil
	}
	return store.Document{}, notFound("get document")
}

func (f *fakeStore) GetDocumentForUpdate(ctx context.Context, id string) (store.Document, error) {
	return f.GetDocument(ctx, id)
}

func (f *fakeStore) DeleteDocument(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := len(f.documents)
	f.documents = filter(f.documents, func(x store.Document) bool { return x.ID != id })
	if len(f.documents) == before {
		return notFound("delete document")
	}
	f.recipients = filter(f.recipients, func(x store.DocumentRecipient) bool { return x.DocumentID != id })
	f.attachments = filter(f.attachments, func(x store.DocumentAttachment) bool { return x.DocumentID != id })
	f.fields = filter(f.fields, func(x store.DocumentField) bool { return x.DocumentID != id })
	f.audit = filter(f.audit, func(x store.DocumentAuditEntry) bool { return x.DocumentID != id })
	return nil
}

func (f *fakeStore) ListDocuments(_ context.Context, status, contactID string, limit, offset int) ([]store.Document, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	matched := filter(f.documents, func(x store.Document) bool {
		return (status == "" || x.Status == status) && (contactID == "" || x.ContactID == contactID)
	})
	slices.Reverse(matched)
	return page(matched, limit, offset), len(matched), nil
}

func (f *fakeStore) CreateRecipient(_ context.Context, r store.DocumentRecipient) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.CreatedAt = f.created(r.CreatedAt)
	f.recipients = append(f.recipients, r)
	return nil
}

func (f *fakeStore) UpdateRecipient(_ context.Context, r store.DocumentRecipient) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := find(f.recipients, func(x store.DocumentRecipient) bool { return x.ID == r.ID })
	if i < 0 {
		return notFound("update recipient")
	}
	f.recipients[i] = r
	return nil
}

func (f *fakeStore) SetRecipientsStatus(_ context.Context, documentID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.recipients {
		if f.recipients[i].DocumentID == documentID {
			f.recipients[i].Status = status
		}
	}
	return nil
}

func (f *fakeStore) GetRecipientByToken(_ context.Context, token string) (store.DocumentRecipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := find(f.recipients, func(x store.DocumentRecipient) bool { return x.AccessToken == token }); i >= 0 {
		return f.recipients[i], nil
	}
	return store.DocumentRecipient{}, notFound("get recipient by token")
}

func (f *fakeStore) DeleteRecipient(_ context.Context, documentID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := len(f.recipients)
	f.recipients = filter(f.recipients, func(x store.DocumentRecipient) bool { return x.DocumentID != documentID || x.ID != id })
	if len(f.recipients) == before {
		return notFound("delete recipient")
	}
	f.fields = filter(f.fields, func(x store.DocumentField) bool { return x.RecipientID != id })
	return nil
}

func (f *fakeStore) ListRecipients(_ context.Context, documentID string) ([]store.DocumentRecipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := filter(f.recipients, func(x store.DocumentRecipient) bool { return x.DocumentID == documentID })
	slices.SortStableFunc(items, func(a, b store.DocumentRecipient) int { return a.Order - b.Order })
	return items, nil
}

func (f *fakeStore) CreateAttachment(_ context.Context, a store.DocumentAttachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.CreatedAt = f.created(a.CreatedAt)
	f.attachments = append(f.attachments, a)
	return nil
}

func (f *fakeStore) GetAttachment(_ context.Context, documentID, id string) (store.DocumentAttachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := find(f.attachments, func(x store.DocumentAttachment) bool { return x.DocumentID == documentID && x.ID == id }); i >= 0 {
		return f.attachments[i], nil
	}
	return store.DocumentAttachment{}, notFound("get attachment")
}

func (f *fakeStore) DeleteAttachment(_ context.Context, documentID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := len(f.attachments)
	f.attachments = filter(f.attachments, func(x store.DocumentAttachment) bool { return x.DocumentID != documentID || x.ID != id })
	if len(f.attachments) == before {
		return notFound("delete attachment")
	}
	return nil
}

func (f *fakeStore) ListAttachments(_ context.Context, documentID string) ([]store.DocumentAttachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filter(f.attachments, func(x store.DocumentAttachment) bool { return x.DocumentID == documentID }), nil
}

func (f *fakeStore) CreateField(_ context.Context, fld store.DocumentField) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fld.CreatedAt = f.created(fld.CreatedAt)
	f.fields = append(f.fields, fld)
	return nil
}

func (f *fakeStore) GetField(_ context.Context, id string) (store.DocumentField, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := find(f.fields, func(x store.DocumentField) bool { return x.ID == id }); i >= 0 {
		return f.fields[i], nil
	}
	return store.DocumentField{}, notFound("get field")
}

func (f *fakeStore) FillField(_ context.Context, id, value string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := find(f.fields, func(x store.DocumentField) bool { return x.ID == id })
	if i < 0 {
		return notFound("fill field")
	}
	f.fields[i].Value = &value
	f.fields[i].FilledAt = &at
	return nil
}

func (f *fakeStore) DeleteField(_ context.Context, documentID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := len(f.fields)
	f.fields = filter(f.fields, func(x store.DocumentField) bool { return x.DocumentID != documentID || x.ID != id })
	if len(f.fields) == before {
		return notFound("delete field")
	}
	return nil
}

func (f *fakeStore) ListFields(_ context.Context, documentID string) ([]store.DocumentField, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filter(f.fields, func(x store.DocumentField) bool { return x.DocumentID == documentID }), nil
}

func (f *fakeStore) ListRecipientFields(_ context.Context, recipientID string) ([]store.DocumentField, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filter(f.fields, func(x store.DocumentField) bool { return x.RecipientID == recipientID }), nil
}

func (f *fakeStore) InsertAudit(_ context.Context, e store.DocumentAuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.CreatedAt = f.created(e.CreatedAt)
	f.audit = append(f.audit, e)
	return nil
}

func (f *fakeStore) ListAudit(_ context.Context, documentID string) ([]store.DocumentAuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filter(f.audit, func(x store.DocumentAuditEntry) bool { return x.DocumentID == documentID }), nil
}

func (f *fakeStore) auditActions(documentID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var actions []string
	for _, e := range f.audit {
		if e.DocumentID == documentID {
			actions = append(actions, e.Action)
		}
	}
	return actions
}

// Email.

func (f *fakeStore) CreateEmailAccount(_ context.Context, a store.EmailAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.CreatedAt = f.created(a.CreatedAt)
	a.UpdatedAt = a.CreatedAt
	f.accounts = append(f.accounts, a)
	return nil
}

func (f *fakeStore) GetEmailAccount(_ context.Context, userID, id string) (store.EmailAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := find(f.accounts, func(x store.EmailAccount) bool { return x.UserID == userID && x.ID == id }); i >= 0 {
		return f.accounts[i], nil
	}
	return store.EmailAccount{}, notFound("get email account")
}

func (f *fakeStore) ListEmailAccounts(_ context.Context, userID string, activeOnly bool) ([]store.EmailAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filter(f.accounts, func(x store.EmailAccount) bool {
		return x.UserID == userID && (!activeOnly || x.IsActive)
	}), nil
}

func (f *fakeStore) DeleteEmailAccount(_ context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := len(f.accounts)
	f.accounts = filter(f.accounts, func(x store.EmailAccount) bool { return x.UserID != userID || x.ID != id })
	if len(f.accounts) == before {
		return notFound("delete email account")
	}
	return nil
}

func (f *fakeStore) RecordSyncResult(_ context.Context, id string, syncedAt *time.Time, syncError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := find(f.accounts, func(x store.EmailAccount) bool { return x.ID == id })
	if i < 0 {
		return notFound("record sync result")
	}
	if syncedAt != nil {
		f.accounts[i].LastSyncAt = syncedAt
	}
	f.accounts[i].SyncError = syncError
	return nil
}

func (f *fakeStore) EmailExists(_ context.Context, messageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return find(f.emails, func(x store.Email) bool { return x.MessageID == messageID }) >= 0, nil
}

func (f *fakeStore) InsertEmail(ctx context.Context, e store.Email) error {
	if f.insertEmailFn != nil {
		if err := f.insertEmailFn(ctx, e); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if find(f.emails, func(x store.Email) bool { return x.MessageID == e.MessageID }) >= 0 {
		return uniqueViolation()
	}
	e.CreatedAt = f.created(e.CreatedAt)
	f.emails = append(f.emails, e)
	return nil
}

func (f *fakeStore) InsertEmailAttachment(_ context.Context, a store.EmailAttachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emailFiles = append(f.emailFiles, a)
	return nil
}

func (f *fakeStore) ownsAccount(userID, accountID string) bool {
	return find(f.accounts, func(x store.EmailAccount) bool { return x.ID == accountID && x.UserID == userID }) >= 0
}

func (f *fakeStore) GetEmail(_ context.Context, userID, id string) (store.Email, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := find(f.emails, func(x store.Email) bool { return x.ID == id && f.ownsAccount(userID, x.AccountID) }); i >= 0 {
		return f.emails[i], nil
	}
	return store.Email{}, notFound("get email")
}

func (f *fakeStore) ListEmails(_ context.Context, userID string, ef store.EmailFilter) ([]store.Email, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	matched := filter(f.emails, func(x store.Email) bool {
		switch {
		case !f.ownsAccount(userID, x.AccountID), x.IsArchived != ef.Archived:
			return false
		case ef.AccountID != "" && x.AccountID != ef.AccountID:
			return false
		case ef.Direction != "" && x.Direction != ef.Direction:
			return false
		case ef.Starred != nil && x.IsStarred != *ef.Starred:
			return false
		case ef.ContactID != "" && x.ContactID != ef.ContactID:
			return false
		}
		return true
	})
	slices.Reverse(matched)
	return page(matched, ef.Limit, ef.Offset), len(matched), nil
}

func (f *fakeStore) ListContactEmails(_ context.Context, contactID string, limit int) ([]store.Email, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := filter(f.emails, func(x store.Email) bool { return x.ContactID == contactID })
	slices.Reverse(items)
	return page(items, limit, 0), nil
}

func (f *fakeStore) SetEmailFlag(_ context.Context, userID, id, flag string, value bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := find(f.emails, func(x store.Email) bool { return x.ID == id && f.ownsAccount(userID, x.AccountID) })
	if i < 0 {
		return notFound("set email flag")
	}
	switch flag {
	case "read":
		f.emails[i].IsRead = value
	case "starred":
		f.emails[i].IsStarred = value
	case "archived":
		f.emails[i].IsArchived = value
	default:
		return fmt.Errorf("unknown email flag %q", flag)
	}
	return nil
}

func (f *fakeStore) DeleteEmail(_ context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := len(f.emails)
	f.emails = filter(f.emails, func(x store.Email) bool { return x.ID != id || !f.ownsAccount(userID, x.AccountID) })
	if len(f.emails) == before {
		return notFound("delete email")
	}
	return nil
}

func (f *fakeStore) LinkEmailsFromSender(_ context.Context, sender, contactID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	linked := 0
	for i := range f.emails {
		if f.emails[i].ContactID == "" && strings.EqualFold(f.emails[i].FromEmail, sender) {
			f.emails[i].ContactID = contactID
			linked++
		}
	}
	return linked, nil
}

// Lenders.

func (f *fakeStore) CreateLender(_ context.Context, l store.Lender) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l.CreatedAt = f.created(l.CreatedAt)
	l.UpdatedAt = l.CreatedAt
	f.lenders = append(f.lenders, l)
	return nil
}

func (f *fakeStore) UpdateLender(_ context.Context, l store.Lender) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := find(f.lenders, func(x store.Lender) bool { return x.ID == l.ID })
	if i < 0 {
		return notFound("update lender")
	}
	l.UpdatedAt = f.stamp()
	f.lenders[i] = l
	return nil
}

func (f *fakeStore) GetLender(_ context.Context, id string) (store.Lender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := find(f.lenders, func(x store.Lender) bool { return x.ID == id }); i >= 0 {
		return f.lenders[i], nil
	}
	return store.Lender{}, notFound("get lender")
}

func (f *fakeStore) DeleteLender(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := len(f.lenders)
	f.lenders = filter(f.lenders, func(x store.Lender) bool { return x.ID != id })
	if len(f.lenders) == before {
		return notFound("delete lender")
	}
	return nil
}

func (f *fakeStore) ListLenders(_ context.Context, activeOnly bool) ([]store.Lender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filter(f.lenders, func(x store.Lender) bool { return !activeOnly || x.IsActive }), nil
}

func (f *fakeStore) GetLendersByIDs(_ context.Context, ids []string) ([]store.Lender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filter(f.lenders, func(x store.Lender) bool { return x.IsActive && slices.Contains(ids, x.ID) }), nil
}

func (f *fakeStore) CreateSubmission(_ context.Context, sub store.LenderSubmission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub.CreatedAt = f.created(sub.CreatedAt)
	sub.Quotes = nil
	f.submissions = append(f.submissions, sub)
	return nil
}

func (f *fakeStore) CreateQuote(_ context.Context, q store.LenderQuote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q.CreatedAt = f.created(q.CreatedAt)
	q.UpdatedAt = q.CreatedAt
	f.quotes = append(f.quotes, q)
	return nil
}

func (f *fakeStore) GetQuote(_ context.Context, id string) (store.LenderQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := find(f.quotes, func(x store.LenderQuote) bool { return x.ID == id }); i >= 0 {
		return f.quotes[i], nil
	}
	return store.LenderQuote{}, notFound("get quote")
}

func (f *fakeStore) UpdateQuote(_ context.Context, q store.LenderQuote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := find(f.quotes, func(x store.LenderQuote) bool { return x.ID == q.ID })
	if i < 0 {
		return notFound("update quote")
	}
	q.UpdatedAt = f.stamp()
	f.quotes[i] = q
	return nil
}

func (f *fakeStore) ListSubmissions(_ context.Context, loanID string) ([]store.LenderSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := filter(f.submissions, func(x store.LenderSubmission) bool { return x.LoanID == loanID })
	for i := range items {
		items[i].Quotes = filter(f.quotes, func(q store.LenderQuote) bool { return q.SubmissionID == items[i].ID })
	}
	return items, nil
}
