// Package google implements the provider interfaces against the Gmail and
// Google Calendar APIs, authenticated per source with its stored refresh
// token.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	calendarv3 "google.golang.org/api/calendar/v3"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/carebridge/inbox-triage/internal/domain"
	"github.com/carebridge/inbox-triage/internal/provider"
)

const gmailUser = "me"

// Factory builds per-source Gmail and Calendar clients. Implements the
// scheduler's client factory.
type Factory struct {
	oauth   *oauth2.Config
	timeout time.Duration
}

// NewFactory creates a Factory for the OAuth client. timeout bounds each RPC.
func NewFactory(clientID, clientSecret string, timeout time.Duration) *Factory {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Factory{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     googleoauth.Endpoint,
			Scopes: []string{
				gmailv1.GmailReadonlyScope,
				calendarv3.CalendarReadonlyScope,
			},
		},
		timeout: timeout,
	}
}

func (f *Factory) tokenSource(ctx context.Context, src *domain.Source) oauth2.TokenSource {
	return f.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: src.RefreshToken})
}

// Mail returns a Gmail-backed mail client for the source.
func (f *Factory) Mail(ctx context.Context, src *domain.Source) (provider.MailClient, error) {
	svc, err := gmailv1.NewService(ctx, option.WithTokenSource(f.tokenSource(ctx, src)))
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}
	return &mailClient{svc: svc, timeout: f.timeout}, nil
}

// Calendar returns a Calendar-backed calendar client for the source.
func (f *Factory) Calendar(ctx context.Context, src *domain.Source) (provider.CalendarClient, error) {
	svc, err := calendarv3.NewService(ctx, option.WithTokenSource(f.tokenSource(ctx, src)))
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	return &calendarClient{svc: svc, timeout: f.timeout}, nil
}

// Watch returns a watch client that registers Gmail watches and Calendar
// channels for the source.
func (f *Factory) Watch(ctx context.Context, src *domain.Source) (provider.WatchClient, error) {
	gsvc, err := gmailv1.NewService(ctx, option.WithTokenSource(f.tokenSource(ctx, src)))
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}
	csvc, err := calendarv3.NewService(ctx, option.WithTokenSource(f.tokenSource(ctx, src)))
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	return &watchClient{gmail: gsvc, calendar: csvc, timeout: f.timeout}, nil
}

// mapAuthErr translates credential failures into the provider sentinel. Every
// RPC path funnels through here so the scheduler can react uniformly.
func mapAuthErr(err error) error {
	if err == nil {
		return nil
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.ErrorCode == "invalid_grant" || strings.Contains(string(rerr.Body), "invalid_grant") {
			return fmt.Errorf("%w: %v", provider.ErrAuthRevoked, err)
		}
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == 401 {
		return fmt.Errorf("%w: %v", provider.ErrAuthRevoked, err)
	}
	if strings.Contains(err.Error(), "invalid_grant") {
		return fmt.Errorf("%w: %v", provider.ErrAuthRevoked, err)
	}
	return err
}

// mapCursorErr additionally treats 404/410 as a stale cursor; only listing
// calls that pass a cursor should use it.
func mapCursorErr(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == 404 || gerr.Code == 410) {
		return fmt.Errorf("%w: %v", provider.ErrInvalidCursor, err)
	}
	return mapAuthErr(err)
}
