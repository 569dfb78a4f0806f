package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"schedsync/core/domain"
	"schedsync/core/port/out"
	"schedsync/pkg/apperr"
)

const (
	googleWebhookPath = "/webhooks/google-calendar"
	// Google watch channels live at most a week for calendar resources.
	googleChannelTTL = 7 * 24 * time.Hour
)

// GoogleConfig carries the OAuth client registration for Google Calendar.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// GoogleAdapter talks to the Google Calendar v3 API. The event etag is
// used as the change-tag; all writes send no attendee notifications.
type GoogleAdapter struct {
	oauthConfig *oauth2.Config
}

func NewGoogleAdapter(cfg GoogleConfig) *GoogleAdapter {
	return &GoogleAdapter{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes: []string{
				calendar.CalendarEventsScope,
				"https://www.googleapis.com/auth/userinfo.email",
			},
			Endpoint: google.Endpoint,
		},
	}
}

func (a *GoogleAdapter) AuthURL(state string) (string, error) {
	if a.oauthConfig.ClientID == "" {
		return "", apperr.ConfigError("google oauth client is not configured")
	}
	return a.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

func (a *GoogleAdapter) ExchangeCode(ctx context.Context, code string) (*out.TokenResult, error) {
	return exchangeCode(ctx, a.oauthConfig, "google", code)
}

func (a *GoogleAdapter) RefreshIfNeeded(ctx context.Context, tok *out.TokenResult) (*out.TokenResult, error) {
	return refreshIfNeeded(ctx, a.oauthConfig, "google", tok)
}

// getService builds a per-call calendar client bound to the token.
func (a *GoogleAdapter) getService(ctx context.Context, tok *out.TokenResult) (*calendar.Service, error) {
	client := a.oauthConfig.Client(ctx, toOAuth2Token(tok))
	client.Timeout = requestTimeout
	svc, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, apperr.ProviderError("google", err)
	}
	return svc, nil
}

func (a *GoogleAdapter) UpsertEvent(ctx context.Context, tok *out.TokenResult, appt *domain.Appointment, mapping *domain.EventMapping, calendarID string) (*out.UpsertResult, error) {
	svc, err := a.getService(ctx, tok)
	if err != nil {
		return nil, err
	}
	if calendarID == "" {
		calendarID = "primary"
	}

	event := a.toGoogleEvent(appt)

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var saved *calendar.Event
	if mapping != nil && mapping.ExternalEventID != "" {
		saved, err = svc.Events.Update(calendarID, mapping.ExternalEventID, event).
			SendUpdates("none").Context(ctx).Do()
	} else {
		saved, err = svc.Events.Insert(calendarID, event).
			SendUpdates("none").Context(ctx).Do()
	}
	if err != nil {
		return nil, apperr.ProviderError("google", err)
	}

	return &out.UpsertResult{
		ExternalEventID:    saved.Id,
		ExternalCalendarID: calendarID,
		ChangeTag:          saved.Etag,
	}, nil
}

func (a *GoogleAdapter) DeleteEvent(ctx context.Context, tok *out.TokenResult, mapping *domain.EventMapping) error {
	svc, err := a.getService(ctx, tok)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	err = svc.Events.Delete(mapping.ExternalCalendarID, mapping.ExternalEventID).
		SendUpdates("none").Context(ctx).Do()
	if err != nil {
		return apperr.ProviderError("google", err)
	}
	return nil
}

func (a *GoogleAdapter) ListEvents(ctx context.Context, tok *out.TokenResult, opts out.ListOptions) ([]*out.ExternalEvent, error) {
	svc, err := a.getService(ctx, tok)
	if err != nil {
		return nil, err
	}
	calendarID := opts.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}

	call := svc.Events.List(calendarID).SingleEvents(true).OrderBy("startTime").MaxResults(250)
	if opts.From != nil {
		call = call.TimeMin(opts.From.Format(time.RFC3339))
	}
	if opts.To != nil {
		call = call.TimeMax(opts.To.Format(time.RFC3339))
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var events []*out.ExternalEvent
	pageToken := ""
	for {
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		res, err := call.Context(ctx).Do()
		if err != nil {
			return nil, apperr.ProviderError("google", err)
		}
		for _, item := range res.Items {
			ev, err := a.convertEvent(item, calendarID)
			if err != nil {
				continue
			}
			events = append(events, ev)
		}
		if res.NextPageToken == "" {
			break
		}
		pageToken = res.NextPageToken
	}
	return events, nil
}

func (a *GoogleAdapter) ParseToDraft(ev *out.ExternalEvent) (*domain.AppointmentDraft, error) {
	if ev.Title == "" {
		ev.Title = "(no title)"
	}
	tz := ev.Timezone
	if tz == "" {
		tz = "UTC"
	}
	draft := &domain.AppointmentDraft{
		Title:    ev.Title,
		StartAt:  ev.StartAt.UTC(),
		EndAt:    ev.EndAt.UTC(),
		Timezone: tz,
		Metadata: map[string]any{"source": "google", "ical_uid": ev.ICalUID},
	}
	if ev.Description != "" {
		draft.Description = &ev.Description
	}
	if ev.Location != "" {
		draft.Location = &ev.Location
	}
	return draft, nil
}

// EnsureSubscription registers a watch channel pointing at our callback.
// The channel token doubles as the client-state secret the webhook path
// validates.
func (a *GoogleAdapter) EnsureSubscription(ctx context.Context, tok *out.TokenResult, callbackURL, calendarID string, conn *domain.CalendarConnection) (*out.SubscriptionResult, error) {
	svc, err := a.getService(ctx, tok)
	if err != nil {
		return nil, err
	}
	if calendarID == "" {
		calendarID = "primary"
	}

	// Stop the previous channel so we do not leak subscriptions. A dead
	// channel is fine, the new one replaces it.
	if conn.WebhookChannelID != nil && conn.WebhookResourceID != nil {
		_ = a.StopSubscription(ctx, tok, conn)
	}

	channelID := fmt.Sprintf("schedsync-%s", uuid.New().String())
	clientState := uuid.New().String()
	expiration := time.Now().Add(googleChannelTTL)

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	channel, err := svc.Events.Watch(calendarID, &calendar.Channel{
		Id:         channelID,
		Type:       "web_hook",
		Address:    callbackURL + googleWebhookPath,
		Token:      clientState,
		Expiration: expiration.UnixMilli(),
	}).Context(ctx).Do()
	if err != nil {
		return nil, apperr.ProviderError("google", err)
	}

	result := &out.SubscriptionResult{
		ChannelID:   channel.Id,
		ResourceID:  channel.ResourceId,
		Expiration:  expiration,
		ClientState: clientState,
	}
	if channel.Expiration > 0 {
		result.Expiration = time.UnixMilli(channel.Expiration)
	}
	return result, nil
}

func (a *GoogleAdapter) StopSubscription(ctx context.Context, tok *out.TokenResult, conn *domain.CalendarConnection) error {
	if conn.WebhookChannelID == nil || conn.WebhookResourceID == nil {
		return nil
	}
	svc, err := a.getService(ctx, tok)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	err = svc.Channels.Stop(&calendar.Channel{
		Id:         *conn.WebhookChannelID,
		ResourceId: *conn.WebhookResourceID,
	}).Context(ctx).Do()
	if err != nil {
		return apperr.ProviderError("google", err)
	}
	return nil
}

// ============================================================
// Conversion
// ============================================================

func (a *GoogleAdapter) toGoogleEvent(appt *domain.Appointment) *calendar.Event {
	tz := appt.Timezone
	if tz == "" {
		tz = "UTC"
	}
	event := &calendar.Event{
		Summary: appt.Title,
		Start: &calendar.EventDateTime{
			DateTime: appt.StartAt.Format(time.RFC3339),
			TimeZone: tz,
		},
		End: &calendar.EventDateTime{
			DateTime: appt.EndAt.Format(time.RFC3339),
			TimeZone: tz,
		},
	}
	if appt.Description != nil {
		event.Description = *appt.Description
	}
	if appt.Location != nil {
		event.Location = *appt.Location
	}
	if appt.Status == domain.StatusCancelled {
		event.Status = "cancelled"
	}
	return event
}

func (a *GoogleAdapter) convertEvent(item *calendar.Event, calendarID string) (*out.ExternalEvent, error) {
	ev := &out.ExternalEvent{
		ID:          item.Id,
		ICalUID:     item.ICalUID,
		CalendarID:  calendarID,
		ChangeTag:   item.Etag,
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Cancelled:   item.Status == "cancelled",
	}

	start, end := item.Start, item.End
	if start == nil || end == nil {
		return nil, apperr.InvalidInput("event", "missing start or end")
	}

	switch {
	case start.DateTime != "":
		s, err := time.Parse(time.RFC3339, start.DateTime)
		if err != nil {
			return nil, apperr.InvalidInput("event", "unparseable start")
		}
		e, err := time.Parse(time.RFC3339, end.DateTime)
		if err != nil {
			return nil, apperr.InvalidInput("event", "unparseable end")
		}
		ev.StartAt, ev.EndAt = s.UTC(), e.UTC()
		ev.Timezone = start.TimeZone
	case start.Date != "":
		s, err := time.Parse("2006-01-02", start.Date)
		if err != nil {
			return nil, apperr.InvalidInput("event", "unparseable all-day start")
		}
		e, err := time.Parse("2006-01-02", end.Date)
		if err != nil {
			return nil, apperr.InvalidInput("event", "unparseable all-day end")
		}
		ev.StartAt, ev.EndAt = s, e
		ev.AllDay = true
		ev.Timezone = "UTC"
	default:
		return nil, apperr.InvalidInput("event", "event has no time")
	}
	return ev, nil
}

var _ out.CalendarProviderPort = (*GoogleAdapter)(nil)
var _ out.WebhookCapable = (*GoogleAdapter)(nil)
