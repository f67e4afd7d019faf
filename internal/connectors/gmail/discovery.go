package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/open-sspm/workspace-audit/internal/connectors/googleapi"
	"github.com/open-sspm/workspace-audit/internal/connectors/registry"
	"github.com/open-sspm/workspace-audit/internal/normalize"
	"github.com/open-sspm/workspace-audit/internal/rawstore"
)

type messageRef struct {
	ID string `json:"id"`
}

// FetchDiscoveryPage lists one page of message ids, reads each message's
// headers and folds them into per-sender records. Messages with attachments
// from senders that failed authentication are also kept individually.
//
// Recent mode narrows the listing with a newer_than search. A metadata-only
// grant rejects search queries, so it lists the whole mailbox newest first
// and stops at the first message older than the window.
func (a *Adapter) FetchDiscoveryPage(ctx context.Context, req registry.DiscoveryRequest) (registry.DiscoveryPage, error) {
	client, err := a.client(ctx)
	if err != nil {
		return registry.DiscoveryPage{}, err
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	pageSize = min(pageSize, maxPageSize)

	values := url.Values{}
	values.Set("maxResults", strconv.Itoa(pageSize))
	now := a.now().UTC()
	var cutoff time.Time
	if req.Mode.Normalize() == registry.RunModeRecent {
		if client.Config().CanSearchGmail() {
			values.Set("q", "newer_than:"+strconv.Itoa(int(registry.RecentWindow/(24*time.Hour)))+"d")
		} else {
			cutoff = now.Add(-registry.RecentWindow)
		}
	}
	page, err := client.ListPage(ctx, client.GmailBaseURL()+mailbox+"/messages", "messages", req.PageToken, values)
	if err != nil {
		return registry.DiscoveryPage{}, a.unavailable(err)
	}

	merger := newSenderMerger(a.store)
	out := registry.DiscoveryPage{NextPageToken: page.NextPageToken, HasMore: page.NextPageToken != ""}

	for _, item := range page.Items {
		out.Processed++
		var ref messageRef
		if err := json.Unmarshal(item, &ref); err != nil || ref.ID == "" {
			a.logger.Warn("skipping malformed gmail message reference", "err", err)
			continue
		}
		msg, err := a.fetchMessage(ctx, client, ref.ID)
		if errors.Is(err, googleapi.ErrNotFound) {
			continue
		}
		if err != nil {
			return out, a.unavailable(err)
		}
		payload := msg.toPayload()
		if !cutoff.IsZero() && !payload.Date.IsZero() && payload.Date.Before(cutoff) {
			out.NextPageToken, out.HasMore = "", false
			break
		}
		if payload.From == "" {
			a.logger.Debug("skipping gmail message without sender", "message_id", ref.ID)
			continue
		}

		if err := merger.add(ctx, msg, payload); err != nil {
			return out, err
		}
		if payload.HasAttachments && payload.Verified != nil && !*payload.Verified {
			rec, err := payload.record(now)
			if err != nil {
				return out, err
			}
			if _, err := a.store.Put(ctx, rec); err != nil {
				return out, err
			}
		}
	}

	discovered, err := merger.flush(ctx, now)
	out.Discovered = discovered
	return out, err
}

func (a *Adapter) fetchMessage(ctx context.Context, client *googleapi.Client, id string) (apiMessage, error) {
	values := url.Values{"format": {"metadata"}}
	for _, h := range metadataHeaders {
		values.Add("metadataHeaders", h)
	}
	var msg apiMessage
	err := client.GetJSON(ctx, client.GmailBaseURL()+mailbox+"/messages/"+url.PathEscape(id), values, &msg)
	return msg, err
}

// senderMerger folds one page of messages into stored sender records.
// Counts only grow for messages dated outside the window already recorded
// for the sender, so rescanning a mailbox does not double count.
type senderMerger struct {
	store   rawstore.Store
	senders map[string]*pendingSender
	order   []string
}

type pendingSender struct {
	payload  senderPayload
	existed  bool
	seenFrom time.Time
	seenTo   time.Time
}

func newSenderMerger(store rawstore.Store) *senderMerger {
	return &senderMerger{store: store, senders: map[string]*pendingSender{}}
}

func (m *senderMerger) load(ctx context.Context, email string) (*pendingSender, error) {
	if p, ok := m.senders[email]; ok {
		return p, nil
	}
	p := &pendingSender{payload: senderPayload{Email: email, Domain: normalize.EmailDomain(email)}}
	rec, err := m.store.Get(ctx, asset.KindSender, email)
	switch {
	case err == nil:
		// A stored record that no longer decodes is rebuilt from this page.
		if stored, decodeErr := decodeSender(rec.Payload); decodeErr == nil {
			p.payload = stored
			p.payload.Email = email
			p.existed = true
			p.seenFrom, p.seenTo = stored.FirstEmailAt, stored.LastEmailAt
		}
	case !errors.Is(err, rawstore.ErrNotFound):
		return nil, err
	}
	m.senders[email] = p
	m.order = append(m.order, email)
	return p, nil
}

func (m *senderMerger) add(ctx context.Context, msg apiMessage, payload messagePayload) error {
	p, err := m.load(ctx, payload.From)
	if err != nil {
		return err
	}
	s := &p.payload
	if payload.FromName != "" && s.Name == "" {
		s.Name = payload.FromName
	}

	date := payload.Date
	alreadyCounted := p.existed && !date.IsZero() && !p.seenFrom.IsZero() &&
		!date.Before(p.seenFrom) && !date.After(p.seenTo)
	if !alreadyCounted {
		s.EmailCount++
		s.AttachmentCount += payload.AttachmentCount
	}
	if !date.IsZero() {
		if s.FirstEmailAt.IsZero() || date.Before(s.FirstEmailAt) {
			s.FirstEmailAt = date
		}
		if date.After(s.LastEmailAt) {
			s.LastEmailAt = date
		}
	}

	if link, mailto := parseListUnsubscribe(msg.header("List-Unsubscribe")); link != "" || mailto != "" {
		if link != "" {
			s.UnsubscribeLink = link
			s.OneClick = isOneClick(msg.header("List-Unsubscribe-Post"))
		}
		if mailto != "" {
			s.UnsubscribeMailto = mailto
		}
	}

	if payload.Verified != nil && (s.VerdictAt.IsZero() || !date.Before(s.VerdictAt)) {
		v := *payload.Verified
		s.Verified = &v
		s.VerdictAt = date
		s.AuthResults = msg.header("Authentication-Results")
	}
	return nil
}

// flush writes every touched sender and returns how many were new.
func (m *senderMerger) flush(ctx context.Context, now time.Time) (int, error) {
	created := 0
	for _, email := range m.order {
		rec, err := m.senders[email].payload.record(now)
		if err != nil {
			return created, err
		}
		isNew, err := m.store.Put(ctx, rec)
		if err != nil {
			return created, err
		}
		if isNew {
			created++
		}
	}
	return created, nil
}
