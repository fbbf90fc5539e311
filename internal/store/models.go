package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Contact struct {
	ID        string    `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Company   string    `json:"company,omitempty"`
	JobTitle  string    `json:"jobTitle,omitempty"`
	Stage     string    `json:"stage"`
	Source    string    `json:"source,omitempty"`
	Score     int       `json:"score"`
	Address   string    `json:"address,omitempty"`
	City      string    `json:"city,omitempty"`
	State     string    `json:"state,omitempty"`
	Zip       string    `json:"zip,omitempty"`
	Country   string    `json:"country,omitempty"`
	Website   string    `json:"website,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	OwnerID   string    `json:"ownerId,omitempty"`
	Tags      []Tag     `json:"tags"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ContactFilter struct {
	IDs    []string
	Stage  string
	Source string
	TagID  string
	Sort   string
	Desc   bool
	Limit  int
	Offset int
}

type Tag struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	OwnerID   string    `json:"ownerId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Note struct {
	ID        string    `json:"id"`
	ContactID string    `json:"contactId"`
	Content   string    `json:"content"`
	Pinned    bool      `json:"pinned"`
	AuthorID  string    `json:"authorId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Activity struct {
	ID          string          `json:"id"`
	ContactID   string          `json:"contactId"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	UserID      string          `json:"userId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type FollowUp struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	DueDate     string     `json:"dueDate"`
	DueTime     string     `json:"dueTime,omitempty"`
	ContactID   string     `json:"contactId,omitempty"`
	LoanID      string     `json:"loanId,omitempty"`
	OwnerID     string     `json:"ownerId,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type FollowUpFilter struct {
	From   string
	To     string
	Status string
}

type Loan struct {
	ID                string    `json:"id"`
	ContactID         string    `json:"contactId"`
	LoanType          string    `json:"loanType"`
	Stage             string    `json:"stage"`
	Amount            *float64  `json:"amount,omitempty"`
	InterestRate      *float64  `json:"interestRate,omitempty"`
	TermMonths        *int      `json:"termMonths,omitempty"`
	PropertyAddress   string    `json:"propertyAddress,omitempty"`
	PropertyCity      string    `json:"propertyCity,omitempty"`
	PropertyState     string    `json:"propertyState,omitempty"`
	PropertyZip       string    `json:"propertyZip,omitempty"`
	EstimatedValue    *float64  `json:"estimatedValue,omitempty"`
	DownPayment       *float64  `json:"downPayment,omitempty"`
	CreditScore       *int      `json:"creditScore,omitempty"`
	AnnualIncome      *float64  `json:"annualIncome,omitempty"`
	DebtToIncomeRatio *float64  `json:"debtToIncomeRatio,omitempty"`
	Lender            string    `json:"lender,omitempty"`
	LoanNumber        string    `json:"loanNumber,omitempty"`
	ClosingDate       string    `json:"closingDate,omitempty"`
	Notes             string    `json:"notes,omitempty"`
	OwnerID           string    `json:"ownerId,omitempty"`
	ContactName       string    `json:"contactName,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type LoanFilter struct {
	Stage     string
	ContactID string
	Limit     int
	Offset    int
}

type LoanActivity struct {
	ID          string          `json:"id"`
	LoanID      string          `json:"loanId"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	UserID      string          `json:"userId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type LoanCondition struct {
	ID          string     `json:"id"`
	LoanID      string     `json:"loanId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	DueDate     string     `json:"dueDate,omitempty"`
	ClearedAt   *time.Time `json:"clearedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type Document struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	ContactID   string     `json:"contactId,omitempty"`
	LoanID      string     `json:"loanId,omitempty"`
	Message     string     `json:"message,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	OwnerID     string     `json:"ownerId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type DocumentAttachment struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	FileName   string    `json:"fileName"`
	FileURL    string    `json:"fileUrl,omitempty"`
	ObjectKey  string    `json:"-"`
	FileData   []byte    `json:"-"`
	FileSize   int64     `json:"fileSize"`
	MimeType   string    `json:"mimeType"`
	PageCount  int       `json:"pageCount"`
	Order      int       `json:"order"`
	CreatedAt  time.Time `json:"createdAt"`
}

type DocumentRecipient struct {
	ID            string     `json:"id"`
	DocumentID    string     `json:"documentId"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	Role          string     `json:"role"`
	Status        string     `json:"status"`
	Order         int        `json:"order"`
	AccessToken   string     `json:"accessToken,omitempty"`
	ContactID     string     `json:"contactId,omitempty"`
	SignedAt      *time.Time `json:"signedAt,omitempty"`
	ViewedAt      *time.Time `json:"viewedAt,omitempty"`
	DeclinedAt    *time.Time `json:"declinedAt,omitempty"`
	DeclineReason string     `json:"declineReason,omitempty"`
	IPAddress     string     `json:"ipAddress,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type DocumentField struct {
	ID            string     `json:"id"`
	DocumentID    string     `json:"documentId"`
	RecipientID   string     `json:"recipientId"`
	AttachmentID  string     `json:"attachmentId,omitempty"`
	Type          string     `json:"type"`
	Label         string     `json:"label,omitempty"`
	Required      bool       `json:"required"`
	Page          int        `json:"page"`
	XPercent      float64    `json:"xPercent"`
	YPercent      float64    `json:"yPercent"`
	WidthPercent  float64    `json:"widthPercent"`
	HeightPercent float64    `json:"heightPercent"`
	Value         *string    `json:"value,omitempty"`
	FilledAt      *time.Time `json:"filledAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type DocumentAuditEntry struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"documentId"`
	Action     string          `json:"action"`
	ActorEmail string          `json:"actorEmail,omitempty"`
	ActorName  string          `json:"actorName,omitempty"`
	IPAddress  string          `json:"ipAddress,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type EmailAccount struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	Email      string     `json:"email"`
	Name       string     `json:"name,omitempty"`
	IMAPHost   string     `json:"imapHost"`
	IMAPPort   int        `json:"imapPort"`
	IMAPSecure bool       `json:"imapSecure"`
	SMTPHost   string     `json:"smtpHost"`
	SMTPPort   int        `json:"smtpPort"`
	SMTPSecure bool       `json:"smtpSecure"`
	Password   string     `json:"-"`
	IsActive   bool       `json:"isActive"`
	LastSyncAt *time.Time `json:"lastSyncAt,omitempty"`
	SyncError  string     `json:"syncError,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

type EmailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type Email struct {
	ID          string            `json:"id"`
	AccountID   string            `json:"accountId"`
	MessageID   string            `json:"messageId"`
	InReplyTo   string            `json:"inReplyTo,omitempty"`
	Direction   string            `json:"direction"`
	Status      string            `json:"status"`
	FromEmail   string            `json:"fromEmail"`
	FromName    string            `json:"fromName,omitempty"`
	To          []EmailAddress    `json:"to"`
	Cc          []EmailAddress    `json:"cc,omitempty"`
	Bcc         []EmailAddress    `json:"bcc,omitempty"`
	Subject     string            `json:"subject,omitempty"`
	BodyHTML    string            `json:"bodyHtml,omitempty"`
	BodyText    string            `json:"bodyText,omitempty"`
	Snippet     string            `json:"snippet,omitempty"`
	IsRead      bool              `json:"isRead"`
	IsStarred   bool              `json:"isStarred"`
	IsArchived  bool              `json:"isArchived"`
	ContactID   string            `json:"contactId,omitempty"`
	UserID      string            `json:"userId,omitempty"`
	ReceivedAt  *time.Time        `json:"receivedAt,omitempty"`
	SentAt      *time.Time        `json:"sentAt,omitempty"`
	Attachments []EmailAttachment `json:"attachments,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

type EmailAttachment struct {
	ID        string `json:"id"`
	EmailID   string `json:"emailId"`
	FileName  string `json:"fileName"`
	MimeType  string `json:"mimeType,omitempty"`
	Size      int64  `json:"size"`
	ObjectKey string `json:"-"`
}

type EmailFilter struct {
	AccountID string
	Direction string
	Archived  bool
	Starred   *bool
	ContactID string
	Limit     int
	Offset    int
}

type Lender struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Email                string    `json:"email"`
	Company              string    `json:"company,omitempty"`
	Phone                string    `json:"phone,omitempty"`
	Notes                string    `json:"notes,omitempty"`
	SubmissionGuidelines string    `json:"submissionGuidelines,omitempty"`
	SortOrder            int       `json:"sortOrder"`
	IsActive             bool      `json:"isActive"`
	OwnerID              string    `json:"ownerId,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

type LenderSubmission struct {
	ID           string        `json:"id"`
	LoanID       string        `json:"loanId"`
	EmailID      string        `json:"emailId,omitempty"`
	Subject      string        `json:"subject"`
	Message      string        `json:"message"`
	LenderIDs    []string      `json:"lenderIds"`
	LenderEmails []string      `json:"lenderEmails"`
	SentAt       time.Time     `json:"sentAt"`
	OwnerID      string        `json:"ownerId,omitempty"`
	Quotes       []LenderQuote `json:"quotes"`
	CreatedAt    time.Time     `json:"createdAt"`
}

type LenderQuote struct {
	ID           string     `json:"id"`
	SubmissionID string     `json:"submissionId"`
	LenderID     string     `json:"lenderId"`
	LenderName   string     `json:"lenderName"`
	Status       string     `json:"status"`
	Rate         *float64   `json:"rate,omitempty"`
	Points       *float64   `json:"points,omitempty"`
	Fees         *float64   `json:"fees,omitempty"`
	LoanAmount   *float64   `json:"loanAmount,omitempty"`
	TermMonths   *int       `json:"termMonths,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	ReceivedAt   *time.Time `json:"receivedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type DashboardCounts struct {
	TotalContacts int            `json:"totalContacts"`
	NewThisWeek   int            `json:"newThisWeek"`
	Won           int            `json:"wonDeals"`
	Lost          int            `json:"lostDeals"`
	ByStage       map[string]int `json:"byStage"`
}
