// Package search resolves free-text contact queries to contact IDs.
package search

import (
	"context"
	"strings"
	"time"
	"unicode"

	"brokercrm/internal/store"
)

// Query describes a contact search request.
type Query struct {
	Text  string
	Limit int
}

const defaultLimit = 1000

// Searcher returns matching contact IDs, best match first.
type Searcher interface {
	ContactIDs(ctx context.Context, q Query) ([]string, error)
	Healthy() bool
}

// ContactRecord is the data we index for a contact.
type ContactRecord struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	FullName  string `json:"fullName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Company   string `json:"company"`
	Stage     string `json:"stage"`
	Source    string `json:"source"`
	CreatedAt int64  `json:"createdAt"`
}

func RecordFromContact(c store.Contact) ContactRecord {
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return ContactRecord{
		ID:        c.ID,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		FullName:  strings.TrimSpace(c.FirstName + " " + c.LastName),
		Email:     c.Email,
		Phone:     c.Phone,
		Company:   c.Company,
		Stage:     c.Stage,
		Source:    c.Source,
		CreatedAt: created.Unix(),
	}
}

// PrefixQuery turns free text into a to_tsquery expression where every term
// is prefix-matched and all terms must match. Returns "" when nothing is searchable.
func PrefixQuery(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(words))
	for _, w := range words {
		terms = append(terms, w+":*")
	}
	return strings.Join(terms, " & ")
}
