package app

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"brokercrm/internal/blob"
	"brokercrm/internal/email"
	"brokercrm/internal/export"
	"brokercrm/internal/store"
	"brokercrm/internal/util"
	"go.uber.org/zap"
)

const (
	documentPageSize = 10
	accessTokenSize  = 32
	appName          = "Broker CRM"
)

var (
	documentStatuses = []string{"draft", "sent", "viewed", "partially_signed", "completed", "declined", "expired", "voided"}
	recipientRoles   = []string{"signer", "cc", "viewer", "approver"}
	fieldTypes       = []string{"signature", "initials", "date", "text", "checkbox", "name", "email", "company", "title"}
	openStatuses     = []string{"draft", "sent", "viewed", "partially_signed"}
	signableStatuses = []string{"sent", "viewed", "partially_signed"}
)

func documentNotEditable() error {
	return conflictError("Only draft documents can be edited")
}

func (s *Service) ownerAudit(session Session, documentID, action string, metadata any) store.DocumentAuditEntry {
	entry := store.DocumentAuditEntry{
		ID:         util.NewID("aud"),
		DocumentID: documentID,
		Action:     action,
		ActorEmail: session.Email,
		ActorName:  firstNonBlank(session.UserName, "System"),
	}
	if metadata != nil {
		entry.Metadata = metadataJSON(metadata)
	}
	return entry
}

type DocumentInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Message     string     `json:"message"`
	ContactID   string     `json:"contactId"`
	LoanID      string     `json:"loanId"`
	ExpiresAt   *time.Time `json:"expiresAt"`
}

func (in DocumentInput) apply(d store.Document) (store.Document, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return store.Document{}, validationError("Title is required")
	}
	d.Title = title
	d.Description = strings.TrimSpace(in.Description)
	d.Message = strings.TrimSpace(in.Message)
	d.ContactID = strings.TrimSpace(in.ContactID)
	d.LoanID = strings.TrimSpace(in.LoanID)
	d.ExpiresAt = in.ExpiresAt
	return d, nil
}

func (s *Service) CreateDocument(ctx context.Context, session Session, input DocumentInput) (store.Document, error) {
	doc, err := input.apply(store.Document{ID: util.NewID("doc"), Status: "draft", OwnerID: session.UserID})
	if err != nil {
		return store.Document{}, err
	}
	if doc.ContactID != "" {
		if _, err := s.store.GetContact(ctx, doc.ContactID); err != nil {
			return store.Document{}, notFoundAs(err, "Contact not found")
		}
	}
	if doc.LoanID != "" {
		if _, err := s.store.GetLoan(ctx, doc.LoanID); err != nil {
			return store.Document{}, notFoundAs(err, "Loan not found")
		}
	}

	err = s.store.Tx(ctx, func(tx dataStore) error {
		if err := tx.CreateDocument(ctx, doc); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, s.ownerAudit(session, doc.ID, "created", nil))
	})
	if err != nil {
		return store.Document{}, err
	}
	return s.store.GetDocument(ctx, doc.ID)
}

func (s *Service) UpdateDocument(ctx context.Context, id string, input DocumentInput) (store.Document, error) {
	doc, err := s.draftDocument(ctx, id)
	if err != nil {
		return store.Document{}, err
	}
	doc, err = input.apply(doc)
	if err != nil {
		return store.Document{}, err
	}
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return store.Document{}, notFoundAs(err, "Document not found")
	}
	return s.store.GetDocument(ctx, id)
}

func (s *Service) ListDocuments(ctx context.Context, status string, page int) (Page[store.Document], error) {
	if status != "" && !oneOf(status, documentStatuses) {
		return Page[store.Document]{}, validationError("Invalid status")
	}
	page = normalizePage(page)
	items, total, err := s.store.ListDocuments(ctx, status, "", documentPageSize, (page-1)*documentPageSize)
	if err != nil {
		return Page[store.Document]{}, err
	}
	return newPage(items, total, page, documentPageSize), nil
}

type DocumentDetail struct {
	store.Document
	Attachments []store.DocumentAttachment `json:"attachments"`
	Recipients  []store.DocumentRecipient  `json:"recipients"`
	Fields      []store.DocumentField      `json:"fields"`
	AuditLog    []store.DocumentAuditEntry `json:"auditLog"`
}

func (s *Service) GetDocument(ctx context.Context, id string) (DocumentDetail, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return DocumentDetail{}, notFoundAs(err, "Document not found")
	}
	detail := DocumentDetail{Document: doc}
	if detail.Attachments, err = s.store.ListAttachments(ctx, id); err != nil {
		return DocumentDetail{}, err
	}
	if detail.Recipients, err = s.store.ListRecipients(ctx, id); err != nil {
		return DocumentDetail{}, err
	}
	if detail.Fields, err = s.store.ListFields(ctx, id); err != nil {
		return DocumentDetail{}, err
	}
	if detail.AuditLog, err = s.store.ListAudit(ctx, id); err != nil {
		return DocumentDetail{}, err
	}
	return detail, nil
}

func (s *Service) draftDocument(ctx context.Context, id string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return store.Document{}, notFoundAs(err, "Document not found")
	}
	if doc.Status != "draft" {
		return store.Document{}, documentNotEditable()
	}
	return doc, nil
}

type RecipientInput struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Order     int    `json:"order"`
	ContactID string `json:"contactId"`
}

func (s *Service) AddRecipient(ctx context.Context, documentID string, input RecipientInput) (store.DocumentRecipient, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Email = strings.TrimSpace(input.Email)
	if input.Role == "" {
		input.Role = "signer"
	}
	if input.Order == 0 {
		input.Order = 1
	}
	err := firstFailure(
		rule{input.Name == "", "Name is required"},
		rule{!validEmail(input.Email), "Invalid email address"},
		rule{!oneOf(input.Role, recipientRoles), "Invalid role"},
		rule{input.Order < 1, "Order must be at least 1"},
	)
	if err != nil {
		return store.DocumentRecipient{}, err
	}
	if _, err := s.draftDocument(ctx, documentID); err != nil {
		return store.DocumentRecipient{}, err
	}

	recipient := store.DocumentRecipient{
		ID:          util.NewID("rcp"),
		DocumentID:  documentID,
		Name:        input.Name,
		Email:       strings.ToLower(input.Email),
		Role:        input.Role,
		Status:      "pending",
		Order:       input.Order,
		AccessToken: util.NewToken(accessTokenSize),
		ContactID:   input.ContactID,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateRecipient(ctx, recipient); err != nil {
		return store.DocumentRecipient{}, err
	}
	return recipient, nil
}

// RemoveRecipient deletes the recipient and, through the schema, its fields.
func (s *Service) RemoveRecipient(ctx context.Context, documentID, recipientID string) error {
	if _, err := s.draftDocument(ctx, documentID); err != nil {
		return err
	}
	return notFoundAs(s.store.DeleteRecipient(ctx, documentID, recipientID), "Recipient not found")
}

type AttachmentInput struct {
	FileName  string `json:"fileName"`
	MimeType  string `json:"mimeType"`
	FileData  string `json:"fileData"`
	FileURL   string `json:"fileUrl"`
	PageCount int    `json:"pageCount"`
	Order     int    `json:"order"`
}

func (s *Service) AddAttachment(ctx context.Context, documentID string, input AttachmentInput) (store.DocumentAttachment, error) {
	input.FileName = strings.TrimSpace(input.FileName)
	input.FileURL = strings.TrimSpace(input.FileURL)
	if input.PageCount == 0 {
		input.PageCount = 1
	}
	if input.Order == 0 {
		input.Order = 1
	}
	if input.MimeType == "" {
		input.MimeType = "application/pdf"
	}
	err := firstFailure(
		rule{input.FileName == "", "File name is required"},
		rule{input.FileData == "" && input.FileURL == "", "Provide file data or a file URL"},
		rule{input.FileURL != "" && !validURL(input.FileURL), "Invalid file URL"},
		rule{input.PageCount < 1, "Page count must be at least 1"},
	)
	if err != nil {
		return store.DocumentAttachment{}, err
	}
	var data []byte
	if input.FileData != "" {
		data, err = base64.StdEncoding.DecodeString(input.FileData)
		if err != nil {
			return store.DocumentAttachment{}, validationError("Invalid file data")
		}
	}
	if _, err := s.draftDocument(ctx, documentID); err != nil {
		return store.DocumentAttachment{}, err
	}

	attachment := store.DocumentAttachment{
		ID:         util.NewID("att"),
		DocumentID: documentID,
		FileName:   input.FileName,
		FileURL:    input.FileURL,
		FileSize:   int64(len(data)),
		MimeType:   input.MimeType,
		PageCount:  input.PageCount,
		Order:      input.Order,
		CreatedAt:  s.now().UTC(),
	}
	if len(data) > 0 {
		if s.blobs != nil {
			key := blob.Key("documents", documentID, attachment.ID, attachment.FileName)
			if err := s.blobs.Put(ctx, key, attachment.MimeType, data); err != nil {
				return store.DocumentAttachment{}, err
			}
			attachment.ObjectKey = key
		} else {
			attachment.FileData = data
		}
	}
	if err := s.store.CreateAttachment(ctx, attachment); err != nil {
		if attachment.ObjectKey != "" {
			s.deleteBlob(attachment.ObjectKey)
		}
		return store.DocumentAttachment{}, err
	}
	attachment.FileData = nil
	return attachment, nil
}

func (s *Service) RemoveAttachment(ctx context.Context, documentID, attachmentID string) error {
	if _, err := s.draftDocument(ctx, documentID); err != nil {
		return err
	}
	attachment, err := s.store.GetAttachment(ctx, documentID, attachmentID)
	if err != nil {
		return notFoundAs(err, "Attachment not found")
	}
	if err := s.store.DeleteAttachment(ctx, documentID, attachmentID); err != nil {
		return notFoundAs(err, "Attachment not found")
	}
	if attachment.ObjectKey != "" {
		s.deleteBlob(attachment.ObjectKey)
	}
	return nil
}

type FieldInput struct {
	RecipientID   string  `json:"recipientId"`
	AttachmentID  string  `json:"attachmentId"`
	Type          string  `json:"type"`
	Label         string  `json:"label"`
	Required      *bool   `json:"required"`
	Page          int     `json:"page"`
	XPercent      float64 `json:"xPercent"`
	YPercent      float64 `json:"yPercent"`
	WidthPercent  float64 `json:"widthPercent"`
	HeightPercent float64 `json:"heightPercent"`
}

func (s *Service) AddField(ctx context.Context, documentID string, input FieldInput) (store.DocumentField, error) {
	inRange := func(v float64) bool { return v >= 0 && v <= 100 }
	if input.Page == 0 {
		input.Page = 1
	}
	err := firstFailure(
		rule{!oneOf(input.Type, fieldTypes), "Invalid field type"},
		rule{input.Page < 1, "Page must be at least 1"},
		rule{!inRange(input.XPercent) || !inRange(input.YPercent) || !inRange(input.WidthPercent) || !inRange(input.HeightPercent),
			"Field position must be between 0 and 100"},
	)
	if err != nil {
		return store.DocumentField{}, err
	}
	if _, err := s.draftDocument(ctx, documentID); err != nil {
		return store.DocumentField{}, err
	}

	recipients, err := s.store.ListRecipients(ctx, documentID)
	if err != nil {
		return store.DocumentField{}, err
	}
	if !hasRecipient(recipients, input.RecipientID) {
		return store.DocumentField{}, notFoundError("Recipient not found")
	}
	if input.AttachmentID != "" {
		if _, err := s.store.GetAttachment(ctx, documentID, input.AttachmentID); err != nil {
			return store.DocumentField{}, notFoundAs(err, "Attachment not found")
		}
	}

	required := true
	if input.Required != nil {
		required = *input.Required
	}
	field := store.DocumentField{
		ID:            util.NewID("fld"),
		DocumentID:    documentID,
		RecipientID:   input.RecipientID,
		AttachmentID:  input.AttachmentID,
		Type:          input.Type,
		Label:         strings.TrimSpace(input.Label),
		Required:      required,
		Page:          input.Page,
		XPercent:      input.XPercent,
		YPercent:      input.YPercent,
		WidthPercent:  input.WidthPercent,
		HeightPercent: input.HeightPercent,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.CreateField(ctx, field); err != nil {
		return store.DocumentField{}, err
	}
	return field, nil
}

func hasRecipient(recipients []store.DocumentRecipient, id string) bool {
	for _, r := range recipients {
		if r.ID == id {
			return true
		}
	}
	return false
}

func (s *Service) RemoveField(ctx context.Context, documentID, fieldID string) error {
	if _, err := s.draftDocument(ctx, documentID); err != nil {
		return err
	}
	return notFoundAs(s.store.DeleteField(ctx, documentID, fieldID), "Field not found")
}

// SendDocument moves a draft to sent, then invites every recipient by email.
// Invitation failures are logged and do not undo the send.
func (s *Service) SendDocument(ctx context.Context, session Session, id string) (DocumentDetail, error) {
	var doc store.Document
	var recipients []store.DocumentRecipient
	err := s.store.Tx(ctx, func(tx dataStore) error {
		var err error
		doc, err = tx.GetDocumentForUpdate(ctx, id)
		if err != nil {
			return notFoundAs(err, "Document not found")
		}
		if doc.Status != "draft" {
			return conflictError("Only draft documents can be sent")
		}
		recipients, err = tx.ListRecipients(ctx, id)
		if err != nil {
			return err
		}
		if len(recipients) == 0 {
			return validationError("Add at least one recipient")
		}

		doc.Status = "sent"
		doc.SentAt = timePtr(s.now().UTC())
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		if err := tx.SetRecipientsStatus(ctx, id, "sent"); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, s.ownerAudit(session, id, "sent", map[string]int{"recipientCount": len(recipients)}))
	})
	if err != nil {
		return DocumentDetail{}, err
	}

	s.sendInvitations(ctx, session, doc, recipients)
	return s.GetDocument(ctx, id)
}

func (s *Service) signingURL(token string) string {
	return strings.TrimRight(s.cfg.PublicURL, "/") + "/sign/" + token
}

func (s *Service) sendInvitations(ctx context.Context, session Session, doc store.Document, recipients []store.DocumentRecipient) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		s.logger.Info("signing invitations skipped, system mail not configured", zap.String("document_id", doc.ID))
		return
	}
	for _, r := range recipients {
		err := s.mailer.SendSigningInvitation(ctx, r.Email, email.InvitationData{
			AppName:       appName,
			RecipientName: r.Name,
			SenderName:    session.UserName,
			DocumentTitle: doc.Title,
			Message:       doc.Message,
			SigningURL:    s.signingURL(r.AccessToken),
		})
		if err != nil {
			s.logger.Warn("send signing invitation",
				zap.String("document_id", doc.ID),
				zap.String("recipient_id", r.ID),
				zap.Error(err))
		}
	}
}

func (s *Service) VoidDocument(ctx context.Context, session Session, id string) (store.Document, error) {
	var doc store.Document
	err := s.store.Tx(ctx, func(tx dataStore) error {
		var err error
		doc, err = tx.GetDocumentForUpdate(ctx, id)
		if err != nil {
			return notFoundAs(err, "Document not found")
		}
		if !oneOf(doc.Status, openStatuses) {
			return conflictError("Document can no longer be voided")
		}
		doc.Status = "voided"
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, s.ownerAudit(session, id, "voided", nil))
	})
	if err != nil {
		return store.Document{}, err
	}
	return doc, nil
}

func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	attachments, err := s.store.ListAttachments(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, id); err != nil {
		return notFoundAs(err, "Document not found")
	}
	for _, a := range attachments {
		if a.ObjectKey != "" {
			s.deleteBlob(a.ObjectKey)
		}
	}
	return nil
}

func (s *Service) DownloadCertificate(ctx context.Context, session Session, id string) (*export.Result, error) {
	detail, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	result, err := s.exporter.CertificatePDF(ctx, export.CertificateData{
		Document:    detail.Document,
		Recipients:  detail.Recipients,
		Fields:      detail.Fields,
		Audit:       detail.AuditLog,
		GeneratedAt: s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			return nil, domainError(http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF rendering is not available", nil)
		}
		return nil, err
	}
	if err := s.store.InsertAudit(ctx, s.ownerAudit(session, id, "downloaded", nil)); err != nil {
		s.logger.Warn("record certificate download", zap.String("document_id", id), zap.Error(err))
	}
	return result, nil
}

func (s *Service) deleteBlob(key string) {
	if s.blobs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.logger.Warn("delete blob", zap.String("key", key), zap.Error(err))
	}
}
