package google

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	gmailv1 "google.golang.org/api/gmail/v1"

	"github.com/carebridge/inbox-triage/internal/mailparse"
	"github.com/carebridge/inbox-triage/internal/provider"
)

type mailClient struct {
	svc     *gmailv1.Service
	timeout time.Duration
}

// ListHistory returns message ids added since the cursor. Gmail rejects a
// too-old startHistoryId with 404, which surfaces as ErrInvalidCursor.
func (c *mailClient) ListHistory(ctx context.Context, startHistoryID string, max int64) (provider.HistoryDelta, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start, err := strconv.ParseUint(startHistoryID, 10, 64)
	if err != nil {
		return provider.HistoryDelta{}, fmt.Errorf("%w: malformed history id %q", provider.ErrInvalidCursor, startHistoryID)
	}

	var delta provider.HistoryDelta
	seen := make(map[string]struct{})
	pageToken := ""
	for {
		call := c.svc.Users.History.List(gmailUser).
			StartHistoryId(start).
			HistoryTypes("messageAdded").
			MaxResults(max).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return provider.HistoryDelta{}, mapCursorErr(err)
		}
		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message == nil {
					continue
				}
				if _, dup := seen[added.Message.Id]; dup {
					continue
				}
				seen[added.Message.Id] = struct{}{}
				delta.MessageIDs = append(delta.MessageIDs, added.Message.Id)
			}
		}
		if resp.HistoryId > 0 {
			delta.NextHistoryID = strconv.FormatUint(resp.HistoryId, 10)
		}
		if resp.NextPageToken == "" {
			return delta, nil
		}
		pageToken = resp.NextPageToken
	}
}

func (c *mailClient) SearchMessages(ctx context.Context, query string, max int64) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.svc.Users.Messages.List(gmailUser).
		Q(query).
		LabelIds("INBOX").
		MaxResults(max).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapAuthErr(err)
	}
	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

func (c *mailClient) CurrentHistoryID(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	profile, err := c.svc.Users.GetProfile(gmailUser).Context(ctx).Do()
	if err != nil {
		return "", mapAuthErr(err)
	}
	return strconv.FormatUint(profile.HistoryId, 10), nil
}

func (c *mailClient) GetMessage(ctx context.Context, id string) (*provider.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.svc.Users.Messages.Get(gmailUser, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, mapAuthErr(err)
	}

	out := &provider.Message{
		ID:           msg.Id,
		ThreadID:     msg.ThreadId,
		LabelIDs:     msg.LabelIds,
		SizeEstimate: msg.SizeEstimate,
		Snippet:      msg.Snippet,
	}
	if msg.Payload != nil {
		out.Payload = convertPart(msg.Payload)
	}
	return out, nil
}

// convertPart maps the Gmail payload tree onto the parser's Part tree,
// decoding the URL-safe base64 transport encoding on the way.
func convertPart(p *gmailv1.MessagePart) mailparse.Part {
	part := mailparse.Part{
		MimeType: p.MimeType,
		Filename: p.Filename,
		Headers:  make(map[string]string, len(p.Headers)),
	}
	for _, h := range p.Headers {
		part.Headers[h.Name] = h.Value
	}
	if p.Body != nil && p.Body.Data != "" {
		part.Body = decodeBody(p.Body.Data)
	}
	for _, child := range p.Parts {
		if child == nil {
			continue
		}
		part.Parts = append(part.Parts, convertPart(child))
	}
	return part
}

// decodeBody handles both padded and unpadded URL-safe base64, which Gmail
// mixes freely. Undecodable data is dropped rather than passed through raw.
func decodeBody(data string) string {
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	return ""
}
