package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"brokercrm/internal/store"
)

var contactHeader = []string{
	"First Name", "Last Name", "Email", "Phone", "Company", "Job Title", "Stage", "Source",
	"Score", "Address", "City", "State", "Zip", "Country", "Website", "Created At",
}

// ContactsCSVFilename returns the download name for an export taken at now.
func ContactsCSVFilename(now time.Time) string {
	return "contacts-" + now.Format("2006-01-02") + ".csv"
}

// WriteContactsCSV writes the header row followed by one row per contact.
func WriteContactsCSV(w io.Writer, contacts []store.Contact) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(contactHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, c := range contacts {
		record := []string{
			c.FirstName, c.LastName, c.Email, c.Phone, c.Company, c.JobTitle, c.Stage, c.Source,
			strconv.Itoa(c.Score), c.Address, c.City, c.State, c.Zip, c.Country, c.Website,
			c.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %s: %w", c.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ParseContactsCSV reads rows in the export layout. Columns are matched by
// header name, so a subset or a different order is accepted; First Name and
// Last Name are required columns.
func ParseContactsCSV(r io.Reader) ([]store.Contact, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrInvalidCSV)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, required := range []string{"first name", "last name"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("%w: missing %q column", ErrInvalidCSV, required)
		}
	}

	contacts := make([]store.Contact, 0)
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
		}
		get := func(name string) string {
			i, ok := columns[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}
		c := store.Contact{
			FirstName: get("first name"),
			LastName:  get("last name"),
			Email:     get("email"),
			Phone:     get("phone"),
			Company:   get("company"),
			JobTitle:  get("job title"),
			Stage:     get("stage"),
			Source:    get("source"),
			Address:   get("address"),
			City:      get("city"),
			State:     get("state"),
			Zip:       get("zip"),
			Country:   get("country"),
			Website:   get("website"),
		}
		if score, err := strconv.Atoi(get("score")); err == nil {
			c.Score = score
		}
		contacts = append(contacts, c)
	}
	return contacts, nil
}
