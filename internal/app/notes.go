package app

import (
	"context"
	"strings"

	"brokercrm/internal/store"
	"brokercrm/internal/util"
)

const defaultTagColor = "#6366f1"

func (s *Service) AddNote(ctx context.Context, session Session, contactID, content string, pinned bool) (store.Note, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return store.Note{}, validationError("Note content is required")
	}
	if _, err := s.store.GetContact(ctx, contactID); err != nil {
		return store.Note{}, notFoundAs(err, "Contact not found")
	}

	note := store.Note{
		ID:        util.NewID("note"),
		ContactID: contactID,
		Content:   content,
		Pinned:    pinned,
		AuthorID:  session.UserID,
	}
	err := s.store.Tx(ctx, func(tx dataStore) error {
		if err := tx.CreateNote(ctx, note); err != nil {
			return err
		}
		return tx.InsertActivity(ctx, s.contactActivity(session, contactID, "note_added", "Note added", nil))
	})
	if err != nil {
		return store.Note{}, err
	}
	return s.store.GetNote(ctx, note.ID)
}

type NoteUpdate struct {
	Content *string `json:"content"`
	Pinned  *bool   `json:"pinned"`
}

func (s *Service) UpdateNote(ctx context.Context, id string, update NoteUpdate) (store.Note, error) {
	note, err := s.store.GetNote(ctx, id)
	if err != nil {
		return store.Note{}, notFoundAs(err, "Note not found")
	}
	if update.Content != nil {
		content := strings.TrimSpace(*update.Content)
		if content == "" {
			return store.Note{}, validationError("Note content is required")
		}
		note.Content = content
	}
	if update.Pinned != nil {
		note.Pinned = *update.Pinned
	}
	if err := s.store.UpdateNote(ctx, note); err != nil {
		return store.Note{}, notFoundAs(err, "Note not found")
	}
	return s.store.GetNote(ctx, id)
}

func (s *Service) SetNotePinned(ctx context.Context, id string, pinned bool) (store.Note, error) {
	return s.UpdateNote(ctx, id, NoteUpdate{Pinned: &pinned})
}

func (s *Service) DeleteNote(ctx context.Context, id string) error {
	return notFoundAs(s.store.DeleteNote(ctx, id), "Note not found")
}

type TagInput struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (in TagInput) validate() (TagInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Color = strings.TrimSpace(in.Color)
	if in.Color == "" {
		in.Color = defaultTagColor
	}
	err := firstFailure(
		rule{in.Name == "" || len([]rune(in.Name)) > 30, "Tag name must be between 1 and 30 characters"},
		rule{!hexColorPattern.MatchString(in.Color), "Invalid hex color"},
	)
	return in, err
}

func tagExists() error {
	return conflictError("A tag with this name already exists")
}

func (s *Service) CreateTag(ctx context.Context, session Session, input TagInput) (store.Tag, error) {
	input, err := input.validate()
	if err != nil {
		return store.Tag{}, err
	}
	if _, err := s.store.GetTagByName(ctx, input.Name); err == nil {
		return store.Tag{}, tagExists()
	}

	tag := store.Tag{ID: util.NewID("tag"), Name: input.Name, Color: input.Color, OwnerID: session.UserID}
	if err := s.store.CreateTag(ctx, tag); err != nil {
		if store.IsUniqueViolation(err) {
			return store.Tag{}, tagExists()
		}
		return store.Tag{}, err
	}
	return s.store.GetTag(ctx, tag.ID)
}

func (s *Service) UpdateTag(ctx context.Context, id string, input TagInput) (store.Tag, error) {
	input, err := input.validate()
	if err != nil {
		return store.Tag{}, err
	}
	tag, err := s.store.GetTag(ctx, id)
	if err != nil {
		return store.Tag{}, notFoundAs(err, "Tag not found")
	}
	if other, err := s.store.GetTagByName(ctx, input.Name); err == nil && other.ID != id {
		return store.Tag{}, tagExists()
	}
	tag.Name = input.Name
	tag.Color = input.Color
	if err := s.store.UpdateTag(ctx, tag); err != nil {
		if store.IsUniqueViolation(err) {
			return store.Tag{}, tagExists()
		}
		return store.Tag{}, notFoundAs(err, "Tag not found")
	}
	return tag, nil
}

func (s *Service) DeleteTag(ctx context.Context, id string) error {
	return notFoundAs(s.store.DeleteTag(ctx, id), "Tag not found")
}

func (s *Service) ListTags(ctx context.Context) ([]store.Tag, error) {
	return s.store.ListTags(ctx)
}
