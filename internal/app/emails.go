package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"brokercrm/internal/blob"
	"brokercrm/internal/email"
	"brokercrm/internal/obs"
	"brokercrm/internal/store"
	"brokercrm/internal/synclock"
	"brokercrm/internal/util"
	"go.uber.org/zap"
)

const (
	syncBatchLimit  = 25
	syncLookback    = 7 * 24 * time.Hour
	emailPageSize   = 20
	maxEmailPage    = 100
	noSubjectMarker = "(no subject)"
)

type EmailAccountInput struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	IMAPHost   string `json:"imapHost"`
	IMAPPort   *int   `json:"imapPort"`
	IMAPSecure *bool  `json:"imapSecure"`
	SMTPHost   string `json:"smtpHost"`
	SMTPPort   *int   `json:"smtpPort"`
	SMTPSecure *bool  `json:"smtpSecure"`
	Password   string `json:"password"`
}

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func (s *Service) CreateEmailAccount(ctx context.Context, session Session, input EmailAccountInput) (store.EmailAccount, error) {
	account := store.EmailAccount{
		ID:         util.NewID("acct"),
		UserID:     session.UserID,
		Email:      strings.ToLower(strings.TrimSpace(input.Email)),
		Name:       strings.TrimSpace(input.Name),
		IMAPHost:   strings.TrimSpace(input.IMAPHost),
		IMAPPort:   intOr(input.IMAPPort, 993),
		IMAPSecure: boolOr(input.IMAPSecure, true),
		SMTPHost:   strings.TrimSpace(input.SMTPHost),
		SMTPPort:   intOr(input.SMTPPort, 587),
		SMTPSecure: boolOr(input.SMTPSecure, true),
		IsActive:   true,
	}
	err := firstFailure(
		rule{!validEmail(account.Email), "Valid email is required"},
		rule{account.IMAPHost == "", "IMAP host is required"},
		rule{account.IMAPPort <= 0, "IMAP port must be a positive number"},
		rule{account.SMTPHost == "", "SMTP host is required"},
		rule{account.SMTPPort <= 0, "SMTP port must be a positive number"},
		rule{input.Password == "", "Password is required"},
	)
	if err != nil {
		return store.EmailAccount{}, err
	}
	if s.cipher == nil {
		return store.EmailAccount{}, errors.New("encryption key not configured")
	}
	if account.Password, err = s.cipher.Encrypt(input.Password); err != nil {
		return store.EmailAccount{}, fmt.Errorf("encrypt account password: %w", err)
	}
	if err := s.store.CreateEmailAccount(ctx, account); err != nil {
		return store.EmailAccount{}, err
	}
	account.Password = ""
	account.CreatedAt = s.now().UTC()
	account.UpdatedAt = account.CreatedAt
	return account, nil
}

func (s *Service) ListEmailAccounts(ctx context.Context, session Session) ([]store.EmailAccount, error) {
	return s.store.ListEmailAccounts(ctx, session.UserID, false)
}

func (s *Service) DeleteEmailAccount(ctx context.Context, session Session, id string) error {
	return notFoundAs(s.store.DeleteEmailAccount(ctx, session.UserID, id), "Email account not found")
}

func (s *Service) accountPassword(account store.EmailAccount) (string, error) {
	if account.Password == "" {
		return "", nil
	}
	if s.cipher == nil {
		return "", errors.New("encryption key not configured")
	}
	return s.cipher.Decrypt(account.Password)
}

type SyncResult struct {
	Synced  int      `json:"synced"`
	Matched int      `json:"matched"`
	Errors  []string `json:"errors"`
}

// SyncEmail syncs one account, or every active account of the user, one after the other.
func (s *Service) SyncEmail(ctx context.Context, session Session, accountID string) (map[string]SyncResult, error) {
	var accounts []store.EmailAccount
	if accountID != "" {
		account, err := s.store.GetEmailAccount(ctx, session.UserID, accountID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if err == nil {
			accounts = append(accounts, account)
		}
	} else {
		var err error
		if accounts, err = s.store.ListEmailAccounts(ctx, session.UserID, true); err != nil {
			return nil, err
		}
	}
	if len(accounts) == 0 {
		return nil, notFoundError("No accounts found")
	}

	results := make(map[string]SyncResult, len(accounts))
	for _, account := range accounts {
		results[account.ID] = s.syncAccount(ctx, account)
	}
	return results, nil
}

func (s *Service) syncAccount(ctx context.Context, account store.EmailAccount) SyncResult {
	result := SyncResult{Errors: make([]string, 0)}
	log := s.logger.With(zap.String("account_id", account.ID))

	release, err := s.locker.Acquire(ctx, "email-sync:"+account.ID)
	if err != nil {
		if errors.Is(err, synclock.ErrHeld) {
			result.Errors = append(result.Errors, "Sync already in progress")
		} else {
			result.Errors = append(result.Errors, err.Error())
		}
		return result
	}
	defer release()

	fail := func(err error) SyncResult {
		log.Warn("email sync failed", zap.Error(err))
		result.Errors = append(result.Errors, err.Error())
		if err := s.store.RecordSyncResult(ctx, account.ID, nil, err.Error()); err != nil {
			log.Warn("record sync error", zap.Error(err))
		}
		return result
	}

	password, err := s.accountPassword(account)
	if err != nil {
		return fail(fmt.Errorf("decrypt account password: %w", err))
	}
	imapAccount := email.IMAPAccount{
		Host:     account.IMAPHost,
		Port:     account.IMAPPort,
		Secure:   account.IMAPSecure,
		Username: account.Email,
		Password: password,
	}
	if !imapAccount.Configured() || s.mailboxes == nil {
		// Not a connection failure; the account keeps its last sync state.
		log.Info("email sync skipped", zap.Error(email.ErrIMAPNotConfigured))
		result.Errors = append(result.Errors, email.ErrIMAPNotConfigured.Error())
		return result
	}

	mailbox, err := s.mailboxes.Open(ctx, imapAccount)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err := mailbox.Close(); err != nil {
			log.Debug("close mailbox", zap.Error(err))
		}
	}()

	since := s.now().Add(-syncLookback)
	if account.LastSyncAt != nil {
		since = *account.LastSyncAt
	}
	uids, err := mailbox.SearchSince(ctx, since)
	if err != nil {
		return fail(err)
	}
	if len(uids) > syncBatchLimit {
		uids = uids[len(uids)-syncBatchLimit:]
	}

	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, err.Error())
			break
		}
		stored, matched, err := s.storeSyncedMessage(ctx, mailbox, account, uid)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Failed to process message %d: %v", uid, err))
			continue
		}
		if stored {
			result.Synced++
		}
		if matched {
			result.Matched++
		}
	}

	if err := s.store.RecordSyncResult(ctx, account.ID, timePtr(s.now().UTC()), ""); err != nil {
		log.Warn("record sync result", zap.Error(err))
	}
	obs.EmailMessagesSynced.Add(float64(result.Synced))
	log.Info("email sync finished",
		zap.Int("synced", result.Synced),
		zap.Int("matched", result.Matched),
		zap.Int("errors", len(result.Errors)))
	return result
}

func (s *Service) storeSyncedMessage(ctx context.Context, mailbox email.Mailbox, account store.EmailAccount, uid uint32) (stored, matched bool, err error) {
	raw, err := mailbox.Fetch(ctx, uid)
	if err != nil || raw == nil {
		return false, false, err
	}
	parsed, err := email.Parse(bytes.NewReader(raw))
	if err != nil {
		return false, false, err
	}

	id := util.NewID("eml")
	messageID := parsed.MessageID
	if messageID == "" {
		messageID = "<" + id + "@synced.local>"
	}
	exists, err := s.store.EmailExists(ctx, messageID)
	if err != nil || exists {
		return false, false, err
	}

	sender := strings.ToLower(parsed.From.Email)
	var contactID string
	if sender != "" {
		contact, err := s.store.FindContactByEmail(ctx, sender)
		switch {
		case err == nil:
			contactID = contact.ID
		case !errors.Is(err, sql.ErrNoRows):
			return false, false, err
		}
	}

	receivedAt := parsed.Date
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}
	msg := store.Email{
		ID:         id,
		AccountID:  account.ID,
		MessageID:  messageID,
		InReplyTo:  parsed.InReplyTo,
		Direction:  "inbound",
		Status:     "delivered",
		FromEmail:  sender,
		FromName:   parsed.From.Name,
		To:         storeAddresses(parsed.To),
		Cc:         storeAddresses(parsed.Cc),
		Subject:    parsed.Subject,
		BodyHTML:   parsed.HTML,
		BodyText:   parsed.Body(),
		Snippet:    parsed.Snippet(),
		ContactID:  contactID,
		UserID:     account.UserID,
		ReceivedAt: timePtr(receivedAt.UTC()),
	}
	attachments := s.storeAttachments(ctx, account, id, parsed.Attachments)

	err = s.store.Tx(ctx, func(tx dataStore) error {
		if err := tx.InsertEmail(ctx, msg); err != nil {
			return err
		}
		for _, a := range attachments {
			if err := tx.InsertEmailAttachment(ctx, a); err != nil {
				return err
			}
		}
		if contactID == "" {
			return nil
		}
		return tx.InsertActivity(ctx, store.Activity{
			ID:          util.NewID("act"),
			ContactID:   contactID,
			Type:        "email_received",
			Description: "Email received: " + firstNonBlank(parsed.Subject, noSubjectMarker),
			UserID:      account.UserID,
		})
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, contactID != "", nil
}

// storeAttachments uploads attachment bytes when blob storage is configured.
// Upload failures keep the metadata without an object key.
func (s *Service) storeAttachments(ctx context.Context, account store.EmailAccount, emailID string, parts []email.Attachment) []store.EmailAttachment {
	out := make([]store.EmailAttachment, 0, len(parts))
	for _, part := range parts {
		a := store.EmailAttachment{
			ID:       util.NewID("eatt"),
			EmailID:  emailID,
			FileName: firstNonBlank(part.FileName, "attachment"),
			MimeType: part.MimeType,
			Size:     int64(len(part.Data)),
		}
		if s.blobs != nil && len(part.Data) > 0 {
			key := blob.Key("emails", account.ID, a.ID, a.FileName)
			if err := s.blobs.Put(ctx, key, a.MimeType, part.Data); err != nil {
				s.logger.Warn("store email attachment", zap.String("email_id", emailID), zap.Error(err))
			} else {
				a.ObjectKey = key
			}
		}
		out = append(out, a)
	}
	return out
}

func storeAddresses(list []email.Address) []store.EmailAddress {
	out := make([]store.EmailAddress, 0, len(list))
	for _, a := range list {
		out = append(out, store.EmailAddress{Email: strings.ToLower(a.Email), Name: a.Name})
	}
	return out
}

func addressRecords(list []string) []store.EmailAddress {
	out := make([]store.EmailAddress, 0, len(list))
	for _, a := range list {
		out = append(out, store.EmailAddress{Email: a})
	}
	return out
}

func smtpAccount(account store.EmailAccount, password string) email.SMTPAccount {
	return email.SMTPAccount{
		Host:     account.SMTPHost,
		Port:     account.SMTPPort,
		Secure:   account.SMTPSecure,
		Username: account.Email,
		Password: password,
	}
}

func sendFailed(err error) error {
	return domainError(http.StatusBadGateway, "SEND_FAILED", "Failed to send: "+err.Error(), nil)
}

// sendFrom delivers msg through the account's SMTP server.
func (s *Service) sendFrom(ctx context.Context, account store.EmailAccount, msg email.Outgoing) (string, error) {
	if s.sender == nil {
		return "", sendFailed(email.ErrSMTPNotConfigured)
	}
	password, err := s.accountPassword(account)
	if err != nil {
		return "", sendFailed(err)
	}
	msg.From = email.Address{Email: account.Email, Name: account.Name}
	messageID, err := s.sender.Send(ctx, smtpAccount(account, password), msg)
	if err != nil {
		s.logger.Warn("smtp send failed", zap.String("account_id", account.ID), zap.Error(err))
		return "", sendFailed(err)
	}
	return messageID, nil
}

type ComposeInput struct {
	AccountID string `json:"accountId"`
	To        string `json:"to"`
	Cc        string `json:"cc"`
	Bcc       string `json:"bcc"`
	Subject   string `json:"subject"`
	BodyHTML  string `json:"bodyHtml"`
	ContactID string `json:"contactId"`
}

func parseAddressField(value string) ([]string, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	list, err := email.SplitAddresses(value)
	if err != nil {
		return nil, validationError("Invalid email address list")
	}
	return list, nil
}

func (s *Service) ComposeEmail(ctx context.Context, session Session, input ComposeInput) (store.Email, error) {
	err := firstFailure(
		rule{strings.TrimSpace(input.AccountID) == "", "Select an account"},
		rule{strings.TrimSpace(input.To) == "", "Recipient is required"},
		rule{strings.TrimSpace(input.Subject) == "", "Subject is required"},
		rule{strings.TrimSpace(input.BodyHTML) == "", "Message body is required"},
	)
	if err != nil {
		return store.Email{}, err
	}
	to, err := parseAddressField(input.To)
	if err != nil {
		return store.Email{}, err
	}
	cc, err := parseAddressField(input.Cc)
	if err != nil {
		return store.Email{}, err
	}
	bcc, err := parseAddressField(input.Bcc)
	if err != nil {
		return store.Email{}, err
	}
	account, err := s.store.GetEmailAccount(ctx, session.UserID, input.AccountID)
	if err != nil {
		return store.Email{}, notFoundAs(err, "Email account not found")
	}

	id := util.NewID("eml")
	messageID, err := s.sendFrom(ctx, account, email.Outgoing{
		To:      to,
		Cc:      cc,
		Bcc:     bcc,
		Subject: input.Subject,
		HTML:    input.BodyHTML,
	})
	if err != nil {
		return store.Email{}, err
	}
	if messageID == "" {
		messageID = "<" + id + "@crm.local>"
	}

	contactID := input.ContactID
	autoLinked := false
	if contactID == "" {
		for _, addr := range to {
			contact, err := s.store.FindContactByEmail(ctx, addr)
			if err == nil {
				contactID = contact.ID
				autoLinked = true
				break
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return store.Email{}, err
			}
		}
	}

	bodyText := email.StripHTML(input.BodyHTML)
	msg := store.Email{
		ID:        id,
		AccountID: account.ID,
		MessageID: messageID,
		Direction: "outbound",
		Status:    "sent",
		FromEmail: account.Email,
		FromName:  account.Name,
		To:        addressRecords(to),
		Cc:        addressRecords(cc),
		Bcc:       addressRecords(bcc),
		Subject:   input.Subject,
		BodyHTML:  input.BodyHTML,
		BodyText:  bodyText,
		Snippet:   email.Truncate(bodyText, 200),
		IsRead:    true,
		ContactID: contactID,
		UserID:    session.UserID,
		SentAt:    timePtr(s.now().UTC()),
	}
	err = s.store.Tx(ctx, func(tx dataStore) error {
		if err := tx.InsertEmail(ctx, msg); err != nil {
			return err
		}
		if !autoLinked {
			return nil
		}
		return tx.InsertActivity(ctx, s.contactActivity(session, contactID, "email_sent", "Email sent: "+input.Subject, nil))
	})
	if err != nil {
		return store.Email{}, err
	}
	return msg, nil
}

type EmailQuery struct {
	AccountID string
	Direction string
	Archived  bool
	Starred   *bool
	Page      int
	Limit     int
}

func (s *Service) ListEmails(ctx context.Context, session Session, query EmailQuery) (Page[store.Email], error) {
	if query.Direction != "" && query.Direction != "inbound" && query.Direction != "outbound" {
		return Page[store.Email]{}, validationError("Invalid direction")
	}
	page := normalizePage(query.Page)
	limit := query.Limit
	if limit <= 0 {
		limit = emailPageSize
	}
	limit = min(limit, maxEmailPage)
	items, total, err := s.store.ListEmails(ctx, session.UserID, store.EmailFilter{
		AccountID: query.AccountID,
		Direction: query.Direction,
		Archived:  query.Archived,
		Starred:   query.Starred,
		Limit:     limit,
		Offset:    (page - 1) * limit,
	})
	if err != nil {
		return Page[store.Email]{}, err
	}
	return newPage(items, total, page, limit), nil
}

func (s *Service) GetEmail(ctx context.Context, session Session, id string) (store.Email, error) {
	msg, err := s.store.GetEmail(ctx, session.UserID, id)
	if err != nil {
		return store.Email{}, notFoundAs(err, "Email not found")
	}
	return msg, nil
}

func (s *Service) MarkEmailRead(ctx context.Context, session Session, id string) error {
	return notFoundAs(s.store.SetEmailFlag(ctx, session.UserID, id, "read", true), "Email not found")
}

func (s *Service) SetEmailStarred(ctx context.Context, session Session, id string, starred bool) error {
	return notFoundAs(s.store.SetEmailFlag(ctx, session.UserID, id, "starred", starred), "Email not found")
}

func (s *Service) ArchiveEmail(ctx context.Context, session Session, id string) error {
	return notFoundAs(s.store.SetEmailFlag(ctx, session.UserID, id, "archived", true), "Email not found")
}

func (s *Service) DeleteEmail(ctx context.Context, session Session, id string) error {
	return notFoundAs(s.store.DeleteEmail(ctx, session.UserID, id), "Email not found")
}

type ContactFromEmailResult struct {
	ContactID string `json:"contactId"`
	Existed   bool   `json:"existed"`
	Linked    int    `json:"linked"`
}

// CreateContactFromEmail links every email from the sender to a contact,
// creating the contact from the sender's name when none matches.
func (s *Service) CreateContactFromEmail(ctx context.Context, session Session, id string) (ContactFromEmailResult, error) {
	msg, err := s.store.GetEmail(ctx, session.UserID, id)
	if err != nil {
		return ContactFromEmailResult{}, notFoundAs(err, "Email not found")
	}
	if msg.ContactID != "" {
		return ContactFromEmailResult{}, conflictError("Email already linked to a contact")
	}
	sender := strings.ToLower(strings.TrimSpace(msg.FromEmail))
	if sender == "" {
		return ContactFromEmailResult{}, validationError("No sender email")
	}

	existing, err := s.store.FindContactByEmail(ctx, sender)
	if err == nil {
		linked, err := s.store.LinkEmailsFromSender(ctx, sender, existing.ID)
		if err != nil {
			return ContactFromEmailResult{}, err
		}
		return ContactFromEmailResult{ContactID: existing.ID, Existed: true, Linked: linked}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ContactFromEmailResult{}, err
	}

	firstName, lastName := splitSenderName(msg.FromName, sender)
	contact := store.Contact{
		ID:        util.NewID("ctc"),
		FirstName: firstName,
		LastName:  lastName,
		Email:     sender,
		Source:    "email_campaign",
		Stage:     "new",
		OwnerID:   session.UserID,
	}
	var linked int
	err = s.store.Tx(ctx, func(tx dataStore) error {
		if err := tx.CreateContact(ctx, contact); err != nil {
			return err
		}
		var err error
		if linked, err = tx.LinkEmailsFromSender(ctx, sender, contact.ID); err != nil {
			return err
		}
		return tx.InsertActivity(ctx, s.contactActivity(session, contact.ID, "contact_created",
			"Contact created from email: "+firstNonBlank(msg.Subject, noSubjectMarker), nil))
	})
	if err != nil {
		return ContactFromEmailResult{}, err
	}
	s.indexContact(contact)
	return ContactFromEmailResult{ContactID: contact.ID, Linked: linked}, nil
}

// splitSenderName takes the display name, or the address local part, as "first rest...".
func splitSenderName(name, address string) (string, string) {
	source := strings.TrimSpace(name)
	if source == "" {
		source, _, _ = strings.Cut(address, "@")
	}
	parts := strings.Fields(source)
	if len(parts) == 0 {
		return "Unknown", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
