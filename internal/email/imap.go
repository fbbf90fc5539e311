package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

var ErrIMAPNotConfigured = errors.New("IMAP not configured")

// IMAPAccount is the connection data for one incoming mailbox.
type IMAPAccount struct {
	Host     string
	Port     int
	Secure   bool
	Username string
	Password string
}

func (a IMAPAccount) Configured() bool {
	return a.Host != "" && a.Port > 0 && a.Password != ""
}

// Mailbox is an open, read-only INBOX.
type Mailbox interface {
	// SearchSince returns the UIDs of messages received since t, ascending.
	SearchSince(ctx context.Context, t time.Time) ([]uint32, error)
	// Fetch returns the full RFC 5322 source of one message, or nil when it is gone.
	Fetch(ctx context.Context, uid uint32) ([]byte, error)
	Close() error
}

// MailboxOpener connects to an account and selects its INBOX.
type MailboxOpener interface {
	Open(ctx context.Context, account IMAPAccount) (Mailbox, error)
}

// IMAPOpener implements MailboxOpener with go-imap.
type IMAPOpener struct {
	Timeout time.Duration
}

func NewIMAPOpener(timeout time.Duration) *IMAPOpener {
	return &IMAPOpener{Timeout: timeout}
}

func (o *IMAPOpener) Open(ctx context.Context, account IMAPAccount) (Mailbox, error) {
	if !account.Configured() {
		return nil, ErrIMAPNotConfigured
	}
	addr := net.JoinHostPort(account.Host, strconv.Itoa(account.Port))
	dialer := &net.Dialer{Timeout: o.Timeout}
	tlsConfig := &tls.Config{ServerName: account.Host, MinVersion: tls.VersionTLS12}

	var (
		c   *client.Client
		err error
	)
	if account.Secure {
		c, err = client.DialWithDialerTLS(dialer, addr, tlsConfig)
	} else {
		c, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	c.Timeout = o.Timeout

	if !account.Secure {
		if ok, _ := c.SupportStartTLS(); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				_ = c.Logout()
				return nil, fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if err := c.Login(account.Username, account.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("login: %w", err)
	}
	if _, err := c.Select("INBOX", true); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("select INBOX: %w", err)
	}
	return &imapMailbox{c: c}, nil
}

type imapMailbox struct {
	c *client.Client
}

func (m *imapMailbox) SearchSince(ctx context.Context, t time.Time) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	criteria := imap.NewSearchCriteria()
	criteria.Since = t
	uids, err := m.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (m *imapMailbox) Fetch(ctx context.Context, uid uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- m.c.UidFetch(seqset, items, messages)
	}()

	var raw []byte
	var readErr error
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil || raw != nil {
			continue
		}
		raw, readErr = io.ReadAll(body)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if readErr != nil {
		return nil, fmt.Errorf("read body: %w", readErr)
	}
	return raw, nil
}

func (m *imapMailbox) Close() error {
	return m.c.Logout()
}
