package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"brokercrm/internal/blob"
	"brokercrm/internal/obs"
	"brokercrm/internal/store"
	"brokercrm/internal/util"
)

var (
	errInvalidAccessToken = domainError(http.StatusForbidden, "FORBIDDEN", "Invalid access token", nil)
	errDocumentExpired    = domainError(http.StatusGone, "GONE", "This document has expired", nil)
	errDocumentVoided     = domainError(http.StatusGone, "GONE", "This document has been voided", nil)
)

func recipientAudit(r store.DocumentRecipient, action, ip string, metadata any) store.DocumentAuditEntry {
	entry := store.DocumentAuditEntry{
		ID:         util.NewID("aud"),
		DocumentID: r.DocumentID,
		Action:     action,
		ActorEmail: r.Email,
		ActorName:  r.Name,
		IPAddress:  ip,
	}
	if metadata != nil {
		entry.Metadata = metadataJSON(metadata)
	}
	return entry
}

// signingState is the recipient and locked document of one recipient-side transaction.
type signingState struct {
	recipient store.DocumentRecipient
	document  store.Document
	expired   bool
}

// lockForRecipient resolves the token, locks the document row, and re-reads the
// recipient under the lock. A document past its expiry is moved to expired.
func (s *Service) lockForRecipient(ctx context.Context, tx dataStore, token string) (signingState, error) {
	recipient, err := tx.GetRecipientByToken(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return signingState{}, errInvalidAccessToken
		}
		return signingState{}, err
	}
	doc, err := tx.GetDocumentForUpdate(ctx, recipient.DocumentID)
	if err != nil {
		return signingState{}, notFoundAs(err, "Document not found")
	}
	if recipient, err = tx.GetRecipientByToken(ctx, token); err != nil {
		return signingState{}, err
	}

	state := signingState{recipient: recipient, document: doc}
	if doc.ExpiresAt != nil && s.now().After(*doc.ExpiresAt) && oneOf(doc.Status, signableStatuses) {
		state.document.Status = "expired"
		if err := tx.UpdateDocument(ctx, state.document); err != nil {
			return signingState{}, err
		}
		state.expired = true
	}
	return state, nil
}

// accessError reports why a recipient may not see the document at all.
func accessError(doc store.Document) error {
	switch doc.Status {
	case "draft":
		return notFoundError("Document not found")
	case "voided":
		return errDocumentVoided
	case "expired":
		return errDocumentExpired
	}
	return nil
}

// signable reports why a recipient may not act on the document.
func signable(state signingState) error {
	if err := accessError(state.document); err != nil {
		return err
	}
	if !oneOf(state.document.Status, signableStatuses) {
		return conflictError("This document is no longer open for signing")
	}
	switch state.recipient.Status {
	case "signed":
		return conflictError("You have already signed this document")
	case "declined":
		return conflictError("You have declined this document")
	}
	return nil
}

type SigningSession struct {
	Document    store.Document             `json:"document"`
	Recipient   store.DocumentRecipient    `json:"recipient"`
	Fields      []store.DocumentField      `json:"fields"`
	Attachments []store.DocumentAttachment `json:"attachments"`
}

// OpenSigningSession is what a recipient sees when following their link.
// Opening the link counts as viewing the document.
func (s *Service) OpenSigningSession(ctx context.Context, token, ip string) (SigningSession, error) {
	var state signingState
	err := s.store.Tx(ctx, func(tx dataStore) error {
		var err error
		state, err = s.lockForRecipient(ctx, tx, token)
		if err != nil {
			return err
		}
		if state.expired || accessError(state.document) != nil {
			return nil
		}
		return s.markViewed(ctx, tx, &state, ip)
	})
	if err != nil {
		return SigningSession{}, err
	}
	if err := accessError(state.document); err != nil {
		return SigningSession{}, err
	}

	session := SigningSession{Document: state.document, Recipient: state.recipient}
	if session.Fields, err = s.store.ListRecipientFields(ctx, state.recipient.ID); err != nil {
		return SigningSession{}, err
	}
	if session.Attachments, err = s.store.ListAttachments(ctx, state.document.ID); err != nil {
		return SigningSession{}, err
	}
	return session, nil
}

// MarkDocumentViewed records the first view of a recipient. Later calls change nothing.
func (s *Service) MarkDocumentViewed(ctx context.Context, token, ip string) error {
	return s.store.Tx(ctx, func(tx dataStore) error {
		state, err := s.lockForRecipient(ctx, tx, token)
		if err != nil {
			return err
		}
		if state.expired || accessError(state.document) != nil {
			return nil
		}
		return s.markViewed(ctx, tx, &state, ip)
	})
}

func (s *Service) markViewed(ctx context.Context, tx dataStore, state *signingState, ip string) error {
	if state.recipient.ViewedAt != nil {
		return nil
	}
	now := s.now().UTC()
	if state.recipient.Status == "sent" {
		state.recipient.Status = "viewed"
	}
	state.recipient.ViewedAt = &now
	if err := tx.UpdateRecipient(ctx, state.recipient); err != nil {
		return err
	}
	if state.document.Status == "sent" {
		state.document.Status = "viewed"
		if err := tx.UpdateDocument(ctx, state.document); err != nil {
			return err
		}
	}
	return tx.InsertAudit(ctx, recipientAudit(state.recipient, "viewed", ip, nil))
}

type SignResult struct {
	FieldID         string `json:"fieldId"`
	RecipientStatus string `json:"recipientStatus"`
	DocumentStatus  string `json:"documentStatus"`
	Completed       bool   `json:"completed"`
}

// SignField stores one field value for the token's recipient. When that fills
// the recipient's last required field the recipient is signed, and when every
// signer is signed the document completes. All of it happens under the
// document row lock.
func (s *Service) SignField(ctx context.Context, token, fieldID, value, ip string) (SignResult, error) {
	var result SignResult
	var expired bool
	err := s.store.Tx(ctx, func(tx dataStore) error {
		state, err := s.lockForRecipient(ctx, tx, token)
		if err != nil {
			return err
		}
		if state.expired {
			expired = true
			return nil
		}
		if err := signable(state); err != nil {
			return err
		}

		field, err := tx.GetField(ctx, fieldID)
		if err != nil {
			return notFoundAs(err, "Field not found")
		}
		if field.DocumentID != state.document.ID {
			return notFoundError("Field not found")
		}
		if field.RecipientID != state.recipient.ID {
			return domainError(http.StatusForbidden, "FORBIDDEN", "This field is not assigned to you", nil)
		}
		if strings.TrimSpace(value) == "" {
			return validationError("A value is required")
		}

		now := s.now().UTC()
		if err := tx.FillField(ctx, fieldID, value, now); err != nil {
			return notFoundAs(err, "Field not found")
		}

		fields, err := tx.ListRecipientFields(ctx, state.recipient.ID)
		if err != nil {
			return err
		}
		result = SignResult{FieldID: fieldID, RecipientStatus: state.recipient.Status, DocumentStatus: state.document.Status}
		if !requiredFieldsFilled(fields, fieldID) {
			return tx.InsertAudit(ctx, recipientAudit(state.recipient, "field_filled", ip,
				map[string]string{"fieldId": field.ID, "fieldType": field.Type}))
		}

		recipient := state.recipient
		recipient.Status = "signed"
		recipient.SignedAt = &now
		recipient.IPAddress = ip
		if err := tx.UpdateRecipient(ctx, recipient); err != nil {
			return err
		}
		if err := tx.InsertAudit(ctx, recipientAudit(recipient, "signed", ip, nil)); err != nil {
			return err
		}
		result.RecipientStatus = recipient.Status

		recipients, err := tx.ListRecipients(ctx, state.document.ID)
		if err != nil {
			return err
		}
		doc := state.document
		if allSignersSigned(recipients, recipient.ID) {
			doc.Status = "completed"
			doc.CompletedAt = &now
			result.Completed = true
		} else {
			doc.Status = "partially_signed"
		}
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		result.DocumentStatus = doc.Status
		if result.Completed {
			return tx.InsertAudit(ctx, recipientAudit(recipient, "completed", ip, nil))
		}
		return nil
	})
	if err != nil {
		return SignResult{}, err
	}
	if expired {
		return SignResult{}, errDocumentExpired
	}
	if result.Completed {
		obs.DocumentsCompleted.Inc()
	}
	return result, nil
}

// requiredFieldsFilled counts justFilled as filled regardless of what was read back.
func requiredFieldsFilled(fields []store.DocumentField, justFilled string) bool {
	for _, f := range fields {
		if !f.Required || f.ID == justFilled {
			continue
		}
		if f.Value == nil || *f.Value == "" {
			return false
		}
	}
	return true
}

// allSignersSigned counts justSigned as signed regardless of what was read back.
func allSignersSigned(recipients []store.DocumentRecipient, justSigned string) bool {
	for _, r := range recipients {
		if r.Role != "signer" || r.ID == justSigned {
			continue
		}
		if r.Status != "signed" {
			return false
		}
	}
	return true
}

func (s *Service) DeclineDocument(ctx context.Context, token, reason, ip string) (store.Document, error) {
	var doc store.Document
	var expired bool
	err := s.store.Tx(ctx, func(tx dataStore) error {
		state, err := s.lockForRecipient(ctx, tx, token)
		if err != nil {
			return err
		}
		if state.expired {
			expired = true
			return nil
		}
		if err := signable(state); err != nil {
			return err
		}

		now := s.now().UTC()
		recipient := state.recipient
		recipient.Status = "declined"
		recipient.DeclinedAt = &now
		recipient.DeclineReason = strings.TrimSpace(reason)
		recipient.IPAddress = ip
		if err := tx.UpdateRecipient(ctx, recipient); err != nil {
			return err
		}
		doc = state.document
		doc.Status = "declined"
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		var metadata any
		if recipient.DeclineReason != "" {
			metadata = map[string]string{"reason": recipient.DeclineReason}
		}
		return tx.InsertAudit(ctx, recipientAudit(recipient, "declined", ip, metadata))
	})
	if err != nil {
		return store.Document{}, err
	}
	if expired {
		return store.Document{}, errDocumentExpired
	}
	return doc, nil
}

// SigningAttachment returns an attachment with its bytes for the token's recipient.
// Attachments stored only as a URL come back without bytes.
func (s *Service) SigningAttachment(ctx context.Context, token, attachmentID string) (store.DocumentAttachment, error) {
	recipient, err := s.store.GetRecipientByToken(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.DocumentAttachment{}, errInvalidAccessToken
		}
		return store.DocumentAttachment{}, err
	}
	doc, err := s.store.GetDocument(ctx, recipient.DocumentID)
	if err != nil {
		return store.DocumentAttachment{}, notFoundAs(err, "Document not found")
	}
	if err := accessError(doc); err != nil {
		return store.DocumentAttachment{}, err
	}
	if doc.ExpiresAt != nil && s.now().After(*doc.ExpiresAt) && oneOf(doc.Status, signableStatuses) {
		return store.DocumentAttachment{}, errDocumentExpired
	}

	attachment, err := s.store.GetAttachment(ctx, doc.ID, attachmentID)
	if err != nil {
		return store.DocumentAttachment{}, notFoundAs(err, "Attachment not found")
	}
	if attachment.ObjectKey != "" {
		if s.blobs == nil {
			return store.DocumentAttachment{}, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Attachment storage is not available", nil)
		}
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		data, err := s.blobs.Get(ctx, attachment.ObjectKey)
		if err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				return store.DocumentAttachment{}, notFoundError("Attachment not found")
			}
			return store.DocumentAttachment{}, err
		}
		attachment.FileData = data
	}
	return attachment, nil
}
