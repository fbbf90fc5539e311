package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"brokercrm/internal/auth"
	"brokercrm/internal/authpw"
	"brokercrm/internal/config"
	"brokercrm/internal/email"
	"brokercrm/internal/export"
	"brokercrm/internal/rbac"
	"brokercrm/internal/search"
	"brokercrm/internal/store"
	"brokercrm/internal/synclock"
	"brokercrm/internal/util"
	"go.uber.org/zap"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	CountUsers(context.Context) (int, error)
	ListUsers(context.Context) ([]store.User, error)
	SaveRefreshSession(context.Context, string, store.User, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	CreateContact(context.Context, store.Contact) error
	UpdateContact(context.Context, store.Contact) error
	SetContactStage(context.Context, string, string) error
	GetContact(context.Context, string) (store.Contact, error)
	FindContactByEmail(context.Context, string) (store.Contact, error)
	DeleteContact(context.Context, string) error
	DeleteContacts(context.Context, []string) (int, error)
	ListContacts(context.Context, store.ContactFilter) ([]store.Contact, int, error)
	ListAllContacts(context.Context) ([]store.Contact, error)
	RecentContacts(context.Context, int) ([]store.Contact, error)
	ReplaceContactTags(context.Context, string, []string) error
	DashboardCounts(context.Context, time.Time) (store.DashboardCounts, error)

	CreateTag(context.Context, store.Tag) error
	UpdateTag(context.Context, store.Tag) error
	DeleteTag(context.Context, string) error
	GetTag(context.Context, string) (store.Tag, error)
	GetTagByName(context.Context, string) (store.Tag, error)
	ListTags(context.Context) ([]store.Tag, error)

	CreateNote(context.Context, store.Note) error
	GetNote(context.Context, string) (store.Note, error)
	UpdateNote(context.Context, store.Note) error
	DeleteNote(context.Context, string) error
	ListNotes(context.Context, string) ([]store.Note, error)
	InsertActivity(context.Context, store.Activity) error
	ListActivities(context.Context, string, int) ([]store.Activity, error)
	RecentActivities(context.Context, int) ([]store.Activity, error)

	CreateFollowUp(context.Context, store.FollowUp) error
	GetFollowUp(context.Context, string) (store.FollowUp, error)
	UpdateFollowUp(context.Context, store.FollowUp) error
	DeleteFollowUp(context.Context, string) error
	ListFollowUps(context.Context, store.FollowUpFilter) ([]store.FollowUp, error)

	CreateLoan(context.Context, store.Loan) error
	UpdateLoan(context.Context, store.Loan) error
	SetLoanStage(context.Context, string, string) error
	GetLoan(context.Context, string) (store.Loan, error)
	DeleteLoan(context.Context, string) error
	ListLoans(context.Context, store.LoanFilter) ([]store.Loan, int, error)
	InsertLoanActivity(context.Context, store.LoanActivity) error
	ListLoanActivities(context.Context, string) ([]store.LoanActivity, error)
	CreateCondition(context.Context, store.LoanCondition) error
	GetCondition(context.Context, string) (store.LoanCondition, error)
	SetConditionStatus(context.Context, string, string, *time.Time) error
	ListConditions(context.Context, string) ([]store.LoanCondition, error)

	CreateDocument(context.Context, store.Document) error
	UpdateDocument(context.Context, store.Document) error
	GetDocument(context.Context, string) (store.Document, error)
	GetDocumentForUpdate(context.Context, string) (store.Document, error)
	DeleteDocument(context.Context, string) error
	ListDocuments(context.Context, string, string, int, int) ([]store.Document, int, error)
	CreateRecipient(context.Context, store.DocumentRecipient) error
	UpdateRecipient(context.Context, store.DocumentRecipient) error
	SetRecipientsStatus(context.Context, string, string) error
	GetRecipientByToken(context.Context, string) (store.DocumentRecipient, error)
	DeleteRecipient(context.Context, string, string) error
	ListRecipients(context.Context, string) ([]store.DocumentRecipient, error)
	CreateAttachment(context.Context, store.DocumentAttachment) error
	GetAttachment(context.Context, string, string) (store.DocumentAttachment, error)
	DeleteAttachment(context.Context, string, string) error
	ListAttachments(context.Context, string) ([]store.DocumentAttachment, error)
	CreateField(context.Context, store.DocumentField) error
	GetField(context.Context, string) (store.DocumentField, error)
	FillField(context.Context, string, string, time.Time) error
	DeleteField(context.Context, string, string) error
	ListFields(context.Context, string) ([]store.DocumentField, error)
	ListRecipientFields(context.Context, string) ([]store.DocumentField, error)
	InsertAudit(context.Context, store.DocumentAuditEntry) error
	ListAudit(context.Context, string) ([]store.DocumentAuditEntry, error)

	CreateEmailAccount(context.Context, store.EmailAccount) error
	GetEmailAccount(context.Context, string, string) (store.EmailAccount, error)
	ListEmailAccounts(context.Context, string, bool) ([]store.EmailAccount, error)
	DeleteEmailAccount(context.Context, string, string) error
	RecordSyncResult(context.Context, string, *time.Time, string) error
	EmailExists(context.Context, string) (bool, error)
	InsertEmail(context.Context, store.Email) error
	InsertEmailAttachment(context.Context, store.EmailAttachment) error
	GetEmail(context.Context, string, string) (store.Email, error)
	ListEmails(context.Context, string, store.EmailFilter) ([]store.Email, int, error)
	ListContactEmails(context.Context, string, int) ([]store.Email, error)
	SetEmailFlag(context.Context, string, string, string, bool) error
	DeleteEmail(context.Context, string, string) error
	LinkEmailsFromSender(context.Context, string, string) (int, error)

	CreateLender(context.Context, store.Lender) error
	UpdateLender(context.Context, store.Lender) error
	GetLender(context.Context, string) (store.Lender, error)
	DeleteLender(context.Context, string) error
	ListLenders(context.Context, bool) ([]store.Lender, error)
	GetLendersByIDs(context.Context, []string) ([]store.Lender, error)
	CreateSubmission(context.Context, store.LenderSubmission) error
	CreateQuote(context.Context, store.LenderQuote) error
	GetQuote(context.Context, string) (store.LenderQuote, error)
	UpdateQuote(context.Context, store.LenderQuote) error
	ListSubmissions(context.Context, string) ([]store.LenderSubmission, error)

	Ping(ctx context.Context) error
	// Tx runs fn with a store bound to one transaction.
	Tx(ctx context.Context, fn func(dataStore) error) error
}

// postgresAdapter gives *store.PostgresStore the transaction shape dataStore expects.
type postgresAdapter struct {
	*store.PostgresStore
}

func (p postgresAdapter) Tx(ctx context.Context, fn func(dataStore) error) error {
	return p.WithTx(ctx, func(tx *store.PostgresStore) error {
		return fn(postgresAdapter{tx})
	})
}

// sessionStore keeps refresh tokens. Redis and Postgres both implement it.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, store.User, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type contactSearch interface {
	ContactIDs(ctx context.Context, text string) ([]string, error)
	IndexContact(rec search.ContactRecord)
	DeleteContacts(ids ...string)
}

type blobStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

type secretCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(encoded string) (string, error)
}

// Deps are the optional collaborators of Service. Nil members fall back to
// in-process or disabled behaviour.
type Deps struct {
	Sessions  sessionStore
	Search    contactSearch
	Blobs     blobStore
	Cipher    secretCipher
	Sender    email.Sender
	Mailboxes email.MailboxOpener
	Mailer    *email.Mailer
	Locker    synclock.Locker
	Exporter  *export.Service
	Logger    *zap.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	passwords *authpw.Service
	search    contactSearch
	blobs     blobStore
	cipher    secretCipher
	sender    email.Sender
	mailboxes email.MailboxOpener
	mailer    *email.Mailer
	locker    synclock.Locker
	exporter  *export.Service
	logger    *zap.Logger
	now       func() time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore, deps Deps) *Service {
	return newService(cfg, postgresAdapter{dataStore}, deps)
}

func newService(cfg config.Config, ds dataStore, deps Deps) *Service {
	s := &Service{
		cfg:       cfg,
		store:     ds,
		sessions:  deps.Sessions,
		passwords: authpw.NewService(ds),
		search:    deps.Search,
		blobs:     deps.Blobs,
		cipher:    deps.Cipher,
		sender:    deps.Sender,
		mailboxes: deps.Mailboxes,
		mailer:    deps.Mailer,
		locker:    deps.Locker,
		exporter:  deps.Exporter,
		logger:    deps.Logger,
		now:       time.Now,
	}
	if s.sessions == nil {
		s.sessions = ds
	}
	if s.locker == nil {
		s.locker = synclock.NewLocalLocker()
	}
	if s.exporter == nil {
		s.exporter = export.NewService(nil)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

type RegisterInput struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (Session, error) {
	user, err := s.passwords.Register(ctx, authpw.RegisterRequest{
		Name:            input.Name,
		Email:           input.Email,
		Password:        input.Password,
		ConfirmPassword: input.ConfirmPassword,
	})
	if err != nil {
		var invalid *authpw.ValidationError
		switch {
		case errors.As(err, &invalid):
			return Session{}, validationError(invalid.Message)
		case errors.Is(err, authpw.ErrEmailTaken):
			return Session{}, domainError(http.StatusConflict, "EMAIL_EXISTS", authpw.ErrEmailTaken.Error(), nil)
		}
		return Session{}, err
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("role", user.Role))
	return s.issueSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, emailAddr, password string) (Session, error) {
	user, err := s.passwords.Authenticate(ctx, emailAddr, password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", authpw.ErrInvalidCredentials.Error(), nil)
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(strings.TrimSpace(refreshToken))
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	if current, err := s.store.GetUserByID(ctx, user.ID); err == nil {
		user = current
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken(48)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		Email:        user.Email,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Email:     user.Email,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token", zap.Error(err))
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh token", zap.Error(err))
		}
	}
	return nil
}

func (s *Service) ListUsers(ctx context.Context, session Session) ([]store.User, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return s.store.ListUsers(ctx)
}

// Page is one page of a listing.
type Page[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalPages int `json:"totalPages"`
}

func newPage[T any](items []T, total, page, size int) Page[T] {
	pages := 0
	if size > 0 {
		pages = (total + size - 1) / size
	}
	return Page[T]{Items: items, Total: total, Page: page, PageSize: size, TotalPages: pages}
}

func normalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

func metadataJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func timePtr(t time.Time) *time.Time {
	return &t
}
