package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/open-sspm/workspace-audit/internal/connectors/googleapi"
	"github.com/open-sspm/workspace-audit/internal/connectors/registry"
	"github.com/open-sspm/workspace-audit/internal/rawstore"
)

const (
	// batchModify accepts at most 1000 ids per call.
	batchModifyLimit = 1000
	// Bounds how many messages one sender delete or refresh walks.
	senderMessageCap = 5000
	senderRefreshCap = 200

	PayloadMethod            = "method"
	PayloadUnsubscribeLink   = "unsubscribeLink"
	PayloadUnsubscribeMailto = "unsubscribeMailto"
	PayloadTrashedCount      = "trashedCount"

	MethodOneClick = "one_click"
	MethodLink     = "link"
	MethodMailto   = "mailto"
)

func (a *Adapter) Write(ctx context.Context, action asset.Action, id asset.ID) (registry.WriteResult, error) {
	switch {
	case id.Kind == asset.KindSender && action == asset.ActionUnsubscribe:
		return a.unsubscribe(ctx, id)
	case id.Kind == asset.KindSender && action == asset.ActionDelete:
		return a.trashSender(ctx, id)
	case id.Kind == asset.KindSender && action == asset.ActionRefresh:
		return registry.WriteResult{}, a.refreshSender(ctx, id)
	case id.Kind == asset.KindMessage && action == asset.ActionDelete:
		return registry.WriteResult{}, a.trashMessage(ctx, id)
	case id.Kind == asset.KindMessage && action == asset.ActionRefresh:
		return registry.WriteResult{}, a.refreshMessage(ctx, id)
	default:
		return registry.WriteResult{}, asset.Unsupported("%s is not supported for %s assets", action, id.Kind.Type())
	}
}

func (a *Adapter) loadSender(ctx context.Context, id asset.ID) (senderPayload, error) {
	rec, err := a.store.Get(ctx, asset.KindSender, id.LocalID)
	if errors.Is(err, rawstore.ErrNotFound) {
		return senderPayload{}, asset.NotFound(id)
	}
	if err != nil {
		return senderPayload{}, a.unavailable(err)
	}
	s, err := decodeSender(rec.Payload)
	if err != nil {
		return senderPayload{}, err
	}
	if s.Email == "" {
		s.Email = rec.LocalID
	}
	return s, nil
}

// unsubscribe prefers RFC 8058 one-click. Otherwise the link or mailto
// address is handed back for the operator to follow.
func (a *Adapter) unsubscribe(ctx context.Context, id asset.ID) (registry.WriteResult, error) {
	s, err := a.loadSender(ctx, id)
	if err != nil {
		return registry.WriteResult{}, err
	}
	if s.Unsubscribed {
		return registry.WriteResult{}, asset.Unsupported("sender %s is already unsubscribed", s.Email)
	}

	result := registry.WriteResult{Payload: map[string]string{}}
	switch {
	case s.OneClick && strings.HasPrefix(strings.ToLower(s.UnsubscribeLink), "https://"):
		client, err := a.client(ctx)
		if err != nil {
			return registry.WriteResult{}, err
		}
		if err := client.PostForm(ctx, s.UnsubscribeLink, url.Values{"List-Unsubscribe": {"One-Click"}}); err != nil {
			return registry.WriteResult{}, a.unavailable(fmt.Errorf("one-click unsubscribe: %w", err))
		}
		result.Payload[PayloadMethod] = MethodOneClick
	case s.UnsubscribeLink != "":
		result.Payload[PayloadMethod] = MethodLink
		result.Payload[PayloadUnsubscribeLink] = s.UnsubscribeLink
	case s.UnsubscribeMailto != "":
		result.Payload[PayloadMethod] = MethodMailto
		result.Payload[PayloadUnsubscribeMailto] = s.UnsubscribeMailto
	default:
		return registry.WriteResult{}, asset.Unsupported("sender %s offers no unsubscribe option", s.Email)
	}

	s.Unsubscribed = true
	rec, err := s.record(a.now().UTC())
	if err != nil {
		return registry.WriteResult{}, err
	}
	if _, err := a.store.Put(ctx, rec); err != nil {
		return registry.WriteResult{}, err
	}
	return result, nil
}

func (a *Adapter) listSenderMessages(ctx context.Context, client *googleapi.Client, email string) ([]string, error) {
	values := url.Values{}
	values.Set("q", "from:"+email)
	values.Set("maxResults", strconv.Itoa(maxPageSize))

	var ids []string
	token := ""
	for len(ids) < senderMessageCap {
		page, err := client.ListPage(ctx, client.GmailBaseURL()+mailbox+"/messages", "messages", token, values)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			var ref messageRef
			if err := json.Unmarshal(item, &ref); err == nil && ref.ID != "" {
				ids = append(ids, ref.ID)
			}
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	if len(ids) > senderMessageCap {
		ids = ids[:senderMessageCap]
	}
	return ids, nil
}

// trashSender moves every message from the sender to Trash and drops the
// sender and its message records.
func (a *Adapter) trashSender(ctx context.Context, id asset.ID) (registry.WriteResult, error) {
	s, err := a.loadSender(ctx, id)
	if err != nil {
		return registry.WriteResult{}, err
	}
	client, err := a.client(ctx)
	if err != nil {
		return registry.WriteResult{}, err
	}
	ids, err := a.listSenderMessages(ctx, client, s.Email)
	if err != nil {
		return registry.WriteResult{}, a.unavailable(err)
	}
	for start := 0; start < len(ids); start += batchModifyLimit {
		end := min(start+batchModifyLimit, len(ids))
		body := map[string]any{"ids": ids[start:end], "addLabelIds": []string{"TRASH"}}
		if err := client.PostJSON(ctx, client.GmailBaseURL()+mailbox+"/messages/batchModify", body, nil); err != nil {
			return registry.WriteResult{}, a.unavailable(err)
		}
	}

	if err := a.store.Delete(ctx, asset.KindSender, id.LocalID); err != nil && !errors.Is(err, rawstore.ErrNotFound) {
		return registry.WriteResult{}, err
	}
	if err := a.dropSenderMessages(ctx, s.Email); err != nil {
		return registry.WriteResult{}, err
	}
	return registry.WriteResult{Payload: map[string]string{PayloadTrashedCount: strconv.Itoa(len(ids))}}, nil
}

func (a *Adapter) dropSenderMessages(ctx context.Context, email string) error {
	records, err := a.store.List(ctx, asset.KindMessage, rawstore.Query{Search: email})
	if err != nil {
		return err
	}
	for _, rec := range records {
		if !strings.EqualFold(rec.Owner, email) {
			continue
		}
		if err := a.store.Delete(ctx, asset.KindMessage, rec.LocalID); err != nil && !errors.Is(err, rawstore.ErrNotFound) {
			return err
		}
	}
	return nil
}

func (a *Adapter) trashMessage(ctx context.Context, id asset.ID) error {
	client, err := a.client(ctx)
	if err != nil {
		return err
	}
	endpoint := client.GmailBaseURL() + mailbox + "/messages/" + url.PathEscape(id.LocalID) + "/trash"
	err = client.PostJSON(ctx, endpoint, nil, nil)
	if errors.Is(err, googleapi.ErrNotFound) {
		_ = a.store.Delete(ctx, asset.KindMessage, id.LocalID)
		return asset.NotFound(id)
	}
	if err != nil {
		return a.unavailable(err)
	}
	if err := a.store.Delete(ctx, asset.KindMessage, id.LocalID); err != nil && !errors.Is(err, rawstore.ErrNotFound) {
		return err
	}
	return nil
}

// refreshSender rebuilds the sender from its messages in the mailbox. The
// newest senderRefreshCap messages are read for attachments, dates and the
// unsubscribe and authentication headers; the oldest listed message is
// always read so FirstEmailAt stays exact. Past the cap the stored
// attachment count is only ever raised.
func (a *Adapter) refreshSender(ctx context.Context, id asset.ID) error {
	s, err := a.loadSender(ctx, id)
	if err != nil {
		return err
	}
	client, err := a.client(ctx)
	if err != nil {
		return err
	}
	ids, err := a.listSenderMessages(ctx, client, s.Email)
	if err != nil {
		return a.unavailable(err)
	}
	if len(ids) == 0 {
		if err := a.store.Delete(ctx, asset.KindSender, id.LocalID); err != nil && !errors.Is(err, rawstore.ErrNotFound) {
			return err
		}
		return nil
	}

	truncated := len(ids) > senderRefreshCap
	read := ids
	if truncated {
		read = append(slices.Clone(ids[:senderRefreshCap]), ids[len(ids)-1])
	}

	var (
		first, last time.Time
		attachments int
		sawUnsub    bool
		sawVerdict  bool
		fetched     int
	)
	for _, msgID := range read {
		msg, err := a.fetchMessage(ctx, client, msgID)
		if errors.Is(err, googleapi.ErrNotFound) {
			continue
		}
		if err != nil {
			return a.unavailable(err)
		}
		fetched++
		payload := msg.toPayload()
		attachments += payload.AttachmentCount
		if !payload.Date.IsZero() {
			if first.IsZero() || payload.Date.Before(first) {
				first = payload.Date
			}
			if payload.Date.After(last) {
				last = payload.Date
			}
		}
		if !sawUnsub {
			if link, mailto := parseListUnsubscribe(msg.header("List-Unsubscribe")); link != "" || mailto != "" {
				s.UnsubscribeLink, s.UnsubscribeMailto = link, mailto
				s.OneClick = link != "" && isOneClick(msg.header("List-Unsubscribe-Post"))
				sawUnsub = true
			}
		}
		if !sawVerdict && payload.Verified != nil {
			v := *payload.Verified
			s.Verified = &v
			s.VerdictAt = payload.Date
			s.AuthResults = msg.header("Authentication-Results")
			sawVerdict = true
		}
	}

	s.EmailCount = len(ids)
	if fetched > 0 {
		s.FirstEmailAt, s.LastEmailAt = first, last
		if truncated {
			s.AttachmentCount = max(s.AttachmentCount, attachments)
		} else {
			s.AttachmentCount = attachments
		}
	}

	rec, err := s.record(a.now().UTC())
	if err != nil {
		return err
	}
	_, err = a.store.Put(ctx, rec)
	return err
}

func (a *Adapter) refreshMessage(ctx context.Context, id asset.ID) error {
	client, err := a.client(ctx)
	if err != nil {
		return err
	}
	msg, err := a.fetchMessage(ctx, client, id.LocalID)
	if errors.Is(err, googleapi.ErrNotFound) {
		_ = a.store.Delete(ctx, asset.KindMessage, id.LocalID)
		return asset.NotFound(id)
	}
	if err != nil {
		return a.unavailable(err)
	}
	payload := msg.toPayload()
	payload.ID = id.LocalID
	rec, err := payload.record(a.now().UTC())
	if err != nil {
		return err
	}
	_, err = a.store.Put(ctx, rec)
	return err
}
