package gmail

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/open-sspm/workspace-audit/internal/connectors/googleapi"
	"github.com/open-sspm/workspace-audit/internal/normalize"
	"github.com/open-sspm/workspace-audit/internal/rawstore"
)

var metadataHeaders = []string{
	"From",
	"Subject",
	"Date",
	"List-Unsubscribe",
	"List-Unsubscribe-Post",
	"Authentication-Results",
}

// senderPayload aggregates every message seen from one address.
type senderPayload struct {
	Email             string    `json:"email"`
	Name              string    `json:"name,omitempty"`
	Domain            string    `json:"domain,omitempty"`
	EmailCount        int       `json:"emailCount"`
	AttachmentCount   int       `json:"attachmentCount"`
	FirstEmailAt      time.Time `json:"firstEmailAt,omitzero"`
	LastEmailAt       time.Time `json:"lastEmailAt,omitzero"`
	UnsubscribeLink   string    `json:"unsubscribeLink,omitempty"`
	UnsubscribeMailto string    `json:"unsubscribeMailto,omitempty"`
	OneClick          bool      `json:"oneClick,omitempty"`
	Unsubscribed      bool      `json:"unsubscribed,omitempty"`
	// Verified is nil until a message carried an authentication verdict.
	Verified    *bool  `json:"verified,omitempty"`
	AuthResults string `json:"authResults,omitempty"`
	// VerdictAt is the date of the message Verified was taken from.
	VerdictAt time.Time `json:"verdictAt,omitzero"`
}

type messagePayload struct {
	ID              string    `json:"id"`
	ThreadID        string    `json:"threadId,omitempty"`
	From            string    `json:"from,omitempty"`
	FromName        string    `json:"fromName,omitempty"`
	Subject         string    `json:"subject,omitempty"`
	Date            time.Time `json:"date,omitzero"`
	HasAttachments  bool      `json:"hasAttachments"`
	AttachmentCount int       `json:"attachmentCount"`
	Verified        *bool     `json:"verified,omitempty"`
	SizeEstimate    int64     `json:"sizeEstimate,omitempty"`
}

func decodeSender(raw []byte) (senderPayload, error) {
	var s senderPayload
	if err := json.Unmarshal(raw, &s); err != nil {
		return senderPayload{}, fmt.Errorf("decode gmail sender: %w", err)
	}
	s.Email = normalize.Lower(s.Email)
	return s, nil
}

func decodeMessage(raw []byte) (messagePayload, error) {
	var m messagePayload
	if err := json.Unmarshal(raw, &m); err != nil {
		return messagePayload{}, fmt.Errorf("decode gmail message: %w", err)
	}
	return m, nil
}

func (s senderPayload) record(fetchedAt time.Time) (rawstore.Record, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return rawstore.Record{}, fmt.Errorf("encode gmail sender %s: %w", s.Email, err)
	}
	return rawstore.Record{
		Kind:        asset.KindSender,
		LocalID:     s.Email,
		DisplayName: normalize.FirstNonEmpty(s.Name, s.Email),
		Owner:       s.Email,
		Payload:     payload,
		FetchedAt:   fetchedAt,
	}, nil
}

func (m messagePayload) record(fetchedAt time.Time) (rawstore.Record, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return rawstore.Record{}, fmt.Errorf("encode gmail message %s: %w", m.ID, err)
	}
	return rawstore.Record{
		Kind:        asset.KindMessage,
		LocalID:     m.ID,
		DisplayName: normalize.FirstNonEmpty(m.Subject, "(no subject)"),
		Owner:       m.From,
		Payload:     payload,
		FetchedAt:   fetchedAt,
	}, nil
}

func (s senderPayload) metadata() asset.SenderMetadata {
	link := s.UnsubscribeLink
	if link == "" && s.UnsubscribeMailto != "" {
		link = "mailto:" + s.UnsubscribeMailto
	}
	return asset.SenderMetadata{
		Email:           s.Email,
		Domain:          normalize.FirstNonEmpty(s.Domain, normalize.EmailDomain(s.Email)),
		EmailCount:      max(s.EmailCount, 0),
		AttachmentCount: max(s.AttachmentCount, 0),
		FirstEmailAt:    s.FirstEmailAt,
		LastEmailAt:     s.LastEmailAt,
		HasUnsubscribe:  link != "",
		IsUnsubscribed:  s.Unsubscribed,
		UnsubscribeLink: link,
		IsVerified:      s.Verified == nil || *s.Verified,
	}
}

func (m messagePayload) metadata() asset.MessageMetadata {
	return asset.MessageMetadata{
		ThreadID:        m.ThreadID,
		From:            m.From,
		Subject:         m.Subject,
		HasAttachments:  m.HasAttachments || m.AttachmentCount > 0,
		AttachmentCount: max(m.AttachmentCount, 0),
		IsVerified:      m.Verified == nil || *m.Verified,
		SizeBytes:       m.SizeEstimate,
	}
}

// apiMessage is the subset of users.messages.get (format=metadata) we read.
type apiMessage struct {
	ID           string  `json:"id"`
	ThreadID     string  `json:"threadId"`
	InternalDate string  `json:"internalDate"`
	SizeEstimate int64   `json:"sizeEstimate"`
	Payload      apiPart `json:"payload"`
}

type apiPart struct {
	MimeType string     `json:"mimeType"`
	Filename string     `json:"filename"`
	Headers  []apiEntry `json:"headers"`
	Parts    []apiPart  `json:"parts"`
}

type apiEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (m apiMessage) header(name string) string {
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return strings.TrimSpace(h.Value)
		}
	}
	return ""
}

func (m apiMessage) date() time.Time {
	if t := googleapi.ParseTime(m.InternalDate); !t.IsZero() {
		return t
	}
	if raw := m.header("Date"); raw != "" {
		if t, err := mail.ParseDate(raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// attachments counts named parts. Metadata responses omit the part tree for
// most messages, so a bare multipart/mixed body counts as one attachment.
func (m apiMessage) attachments() int {
	n := countNamedParts(m.Payload)
	if n == 0 && strings.EqualFold(m.Payload.MimeType, "multipart/mixed") {
		return 1
	}
	return n
}

func countNamedParts(p apiPart) int {
	n := 0
	if strings.TrimSpace(p.Filename) != "" {
		n++
	}
	for _, child := range p.Parts {
		n += countNamedParts(child)
	}
	return n
}

func (m apiMessage) toPayload() messagePayload {
	name, email := normalize.Address(m.header("From"))
	attachments := m.attachments()
	return messagePayload{
		ID:              strings.TrimSpace(m.ID),
		ThreadID:        strings.TrimSpace(m.ThreadID),
		From:            email,
		FromName:        name,
		Subject:         m.header("Subject"),
		Date:            m.date(),
		HasAttachments:  attachments > 0,
		AttachmentCount: attachments,
		Verified:        parseAuthResults(m.header("Authentication-Results")),
		SizeEstimate:    m.SizeEstimate,
	}
}

// parseAuthResults reads an Authentication-Results header. DMARC pass, or SPF
// and DKIM both passing, verifies the sender; any explicit failure without a
// pass marks it unverified. Anything else is nil (no verdict).
func parseAuthResults(header string) *bool {
	h := strings.ToLower(header)
	if strings.TrimSpace(h) == "" {
		return nil
	}
	pass := func(method string) bool { return strings.Contains(h, method+"=pass") }
	fail := func(method string) bool {
		return strings.Contains(h, method+"=fail") || strings.Contains(h, method+"=softfail")
	}
	verified := true
	unverified := false
	switch {
	case pass("dmarc"):
		return &verified
	case pass("spf") && pass("dkim"):
		return &verified
	case fail("dmarc") || fail("spf") || fail("dkim"):
		return &unverified
	default:
		return nil
	}
}

// parseListUnsubscribe extracts the https link and mailto address from a
// List-Unsubscribe header such as "<mailto:u@x.test>, <https://x.test/u>".
func parseListUnsubscribe(header string) (link, mailto string) {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		part = strings.TrimSuffix(strings.TrimPrefix(part, "<"), ">")
		lower := strings.ToLower(part)
		switch {
		case strings.HasPrefix(lower, "https://"):
			if link == "" || strings.HasPrefix(strings.ToLower(link), "http://") {
				link = part
			}
		case strings.HasPrefix(lower, "http://"):
			if link == "" {
				link = part
			}
		case strings.HasPrefix(lower, "mailto:"):
			if mailto == "" {
				mailto = strings.TrimSpace(part[len("mailto:"):])
			}
		}
	}
	return link, mailto
}

func isOneClick(postHeader string) bool {
	return strings.Contains(strings.ToLower(postHeader), "list-unsubscribe=one-click")
}
