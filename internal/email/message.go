package email

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/net/html"
)

const snippetLength = 200

// Address is a mailbox with an optional display name.
type Address struct {
	Email string
	Name  string
}

// Outgoing is a message to be composed and sent.
type Outgoing struct {
	From      Address
	To        []string
	Cc        []string
	Bcc       []string
	Subject   string
	HTML      string
	Text      string
	InReplyTo string
}

// Recipients returns every envelope recipient, Bcc included.
func (m Outgoing) Recipients() []string {
	all := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	all = append(all, m.To...)
	all = append(all, m.Cc...)
	return append(all, m.Bcc...)
}

// Compose renders m as a multipart/alternative message. Bcc is left out of
// the headers. It returns the generated Message-ID in angle brackets.
func Compose(m Outgoing) ([]byte, string, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetSubject(m.Subject)
	h.SetAddressList("From", []*mail.Address{{Name: m.From.Name, Address: m.From.Email}})
	h.SetAddressList("To", toMailAddresses(m.To))
	if len(m.Cc) > 0 {
		h.SetAddressList("Cc", toMailAddresses(m.Cc))
	}
	if m.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{strings.Trim(m.InReplyTo, "<>")})
	}
	if err := h.GenerateMessageID(); err != nil {
		return nil, "", fmt.Errorf("generate message id: %w", err)
	}
	id, err := h.MessageID()
	if err != nil {
		return nil, "", fmt.Errorf("read message id: %w", err)
	}

	text := m.Text
	if text == "" {
		text = StripHTML(m.HTML)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("create message writer: %w", err)
	}
	tw, err := mw.CreateInline()
	if err != nil {
		return nil, "", fmt.Errorf("create inline writer: %w", err)
	}
	if err := writeInlinePart(tw, "text/plain", text); err != nil {
		return nil, "", err
	}
	if m.HTML != "" {
		if err := writeInlinePart(tw, "text/html", m.HTML); err != nil {
			return nil, "", err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, "", fmt.Errorf("close inline writer: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), "<" + id + ">", nil
}

func writeInlinePart(tw *mail.InlineWriter, contentType, body string) error {
	var h mail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return w.Close()
}

func toMailAddresses(list []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(list))
	for _, addr := range list {
		out = append(out, &mail.Address{Address: addr})
	}
	return out
}

// SplitAddresses parses a comma-separated recipient list.
func SplitAddresses(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return []string{}, nil
	}
	parsed, err := mail.ParseAddressList(s)
	if err != nil {
		return nil, fmt.Errorf("invalid address list: %w", err)
	}
	out := make([]string, 0, len(parsed))
	for _, a := range parsed {
		out = append(out, a.Address)
	}
	return out, nil
}

// Attachment is a file part of a parsed message.
type Attachment struct {
	FileName string
	MimeType string
	Data     []byte
}

// Parsed is the subset of an inbound message the CRM stores.
type Parsed struct {
	MessageID   string
	InReplyTo   string
	Subject     string
	From        Address
	To          []Address
	Cc          []Address
	Date        time.Time
	Text        string
	HTML        string
	Attachments []Attachment
}

// Body returns the plain text, falling back to the HTML with tags removed.
func (p *Parsed) Body() string {
	if p.Text != "" {
		return p.Text
	}
	return StripHTML(p.HTML)
}

// Snippet returns the first 200 characters of Body.
func (p *Parsed) Snippet() string {
	return Truncate(p.Body(), snippetLength)
}

// Parse reads an RFC 5322 message. Parts in unknown charsets are kept as-is.
func Parse(r io.Reader) (*Parsed, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	p := &Parsed{}
	h := mr.Header
	if p.Subject, err = h.Subject(); err != nil && !message.IsUnknownCharset(err) {
		p.Subject = h.Get("Subject")
	}
	if id, err := h.MessageID(); err == nil && id != "" {
		p.MessageID = "<" + id + ">"
	}
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		p.InReplyTo = "<" + ids[0] + ">"
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		p.From = Address{Email: strings.ToLower(from[0].Address), Name: from[0].Name}
	}
	p.To = addressList(h, "To")
	p.Cc = addressList(h, "Cc")
	if date, err := h.Date(); err == nil {
		p.Date = date
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("read part: %w", err)
		}
		if part == nil {
			continue
		}
		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := ph.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, fmt.Errorf("read %s part: %w", ct, err)
			}
			switch {
			case ct == "text/plain" && p.Text == "":
				p.Text = string(body)
			case ct == "text/html" && p.HTML == "":
				p.HTML = string(body)
			}
		case *mail.AttachmentHeader:
			name, _ := ph.Filename()
			ct, _, _ := ph.ContentType()
			data, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, fmt.Errorf("read attachment %q: %w", name, err)
			}
			p.Attachments = append(p.Attachments, Attachment{FileName: name, MimeType: ct, Data: data})
		}
	}
	return p, nil
}

func addressList(h mail.Header, key string) []Address {
	list, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]Address, 0, len(list))
	for _, a := range list {
		out = append(out, Address{Email: a.Address, Name: a.Name})
	}
	return out
}

// StripHTML returns the text content of an HTML fragment, skipping
// script and style elements.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if tag := string(name); (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

// Truncate cuts s to at most n characters without splitting a rune.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
