package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"schedsync/core/domain"
	"schedsync/core/port/out"
	"schedsync/pkg/apperr"
	"schedsync/pkg/httputil"
	"schedsync/pkg/logger"
)

const (
	msGraphBaseURL       = "https://graph.microsoft.com/v1.0"
	msGraphTimeFormat    = "2006-01-02T15:04:05"
	microsoftWebhookPath = "/webhooks/microsoft-calendar"
	// Graph calendar subscriptions expire after at most three days.
	msSubscriptionTTL = 3 * 24 * time.Hour
)

// MicrosoftConfig carries the OAuth client registration for Microsoft
// Graph. TenantID defaults to the multi-tenant "common" endpoint.
type MicrosoftConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TenantID     string
}

// MicrosoftAdapter talks to Microsoft Graph over plain REST. The
// @odata.etag is the change-tag. Calls run through a circuit breaker so a
// degraded Graph does not pin every worker on timeouts.
type MicrosoftAdapter struct {
	oauthConfig *oauth2.Config
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker
}

func NewMicrosoftAdapter(cfg MicrosoftConfig) *MicrosoftAdapter {
	tenantID := cfg.TenantID
	if tenantID == "" {
		tenantID = "common"
	}

	cbSettings := gobreaker.Settings{
		Name:        "msgraph-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 || (counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.L().Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}

	return &MicrosoftAdapter{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes: []string{
				"https://graph.microsoft.com/Calendars.ReadWrite",
				"https://graph.microsoft.com/User.Read",
				"offline_access",
			},
			Endpoint: microsoft.AzureADEndpoint(tenantID),
		},
		client:  httputil.NewClient(httputil.GraphAPIConfig()),
		breaker: gobreaker.NewCircuitBreaker(cbSettings),
	}
}

func (a *MicrosoftAdapter) AuthURL(state string) (string, error) {
	if a.oauthConfig.ClientID == "" {
		return "", apperr.ConfigError("microsoft oauth client is not configured")
	}
	return a.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

func (a *MicrosoftAdapter) ExchangeCode(ctx context.Context, code string) (*out.TokenResult, error) {
	return exchangeCode(ctx, a.oauthConfig, "microsoft", code)
}

func (a *MicrosoftAdapter) RefreshIfNeeded(ctx context.Context, tok *out.TokenResult) (*out.TokenResult, error) {
	return refreshIfNeeded(ctx, a.oauthConfig, "microsoft", tok)
}

// ============================================================
// Graph REST plumbing
// ============================================================

func (a *MicrosoftAdapter) doRequest(ctx context.Context, tok *out.TokenResult, method, path string, body any, result any) error {
	_, err := a.breaker.Execute(func() (any, error) {
		return nil, a.doRequestDirect(ctx, tok, method, path, body, result)
	})
	return err
}

func (a *MicrosoftAdapter) doRequestDirect(ctx context.Context, tok *out.TokenResult, method, path string, body any, result any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return apperr.Internal("marshal graph request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, msGraphBaseURL+path, reader)
	if err != nil {
		return apperr.Internal("build graph request", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return apperr.Timeout("microsoft graph " + method + " " + path)
		}
		return apperr.ProviderError("microsoft", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		slurp, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return apperr.ProviderError("microsoft",
			fmt.Errorf("graph responded %d: %s", res.StatusCode, string(slurp)))
	}
	if result != nil && res.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(res.Body).Decode(result); err != nil {
			return apperr.ProviderError("microsoft", fmt.Errorf("decode graph response: %w", err))
		}
	}
	return nil
}

// ============================================================
// Graph payload shapes
// ============================================================

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphEvent struct {
	ID        string         `json:"id,omitempty"`
	Etag      string         `json:"@odata.etag,omitempty"`
	ICalUID   string         `json:"iCalUId,omitempty"`
	Subject   string         `json:"subject"`
	Body      *graphItemBody `json:"body,omitempty"`
	Start     *graphDateTime `json:"start,omitempty"`
	End       *graphDateTime `json:"end,omitempty"`
	Location  *graphLocation `json:"location,omitempty"`
	IsAllDay  bool           `json:"isAllDay,omitempty"`
	Cancelled bool           `json:"isCancelled,omitempty"`
}

type graphItemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphLocation struct {
	DisplayName string `json:"displayName"`
}

type graphEventList struct {
	Value    []graphEvent `json:"value"`
	NextLink string       `json:"@odata.nextLink"`
}

type graphSubscription struct {
	ID                 string `json:"id,omitempty"`
	ChangeType         string `json:"changeType"`
	NotificationURL    string `json:"notificationUrl"`
	Resource           string `json:"resource"`
	ExpirationDateTime string `json:"expirationDateTime"`
	ClientState        string `json:"clientState"`
}

// ============================================================
// Events
// ============================================================

func eventsPath(calendarID string) string {
	if calendarID == "" || calendarID == "primary" {
		return "/me/events"
	}
	return "/me/calendars/" + url.PathEscape(calendarID) + "/events"
}

func (a *MicrosoftAdapter) UpsertEvent(ctx context.Context, tok *out.TokenResult, appt *domain.Appointment, mapping *domain.EventMapping, calendarID string) (*out.UpsertResult, error) {
	payload := a.toGraphEvent(appt)

	var saved graphEvent
	if mapping != nil && mapping.ExternalEventID != "" {
		path := "/me/events/" + url.PathEscape(mapping.ExternalEventID)
		if err := a.doRequest(ctx, tok, http.MethodPatch, path, payload, &saved); err != nil {
			return nil, err
		}
	} else {
		if err := a.doRequest(ctx, tok, http.MethodPost, eventsPath(calendarID), payload, &saved); err != nil {
			return nil, err
		}
	}

	resolvedCalendar := calendarID
	if resolvedCalendar == "" {
		resolvedCalendar = "primary"
	}
	return &out.UpsertResult{
		ExternalEventID:    saved.ID,
		ExternalCalendarID: resolvedCalendar,
		ChangeTag:          saved.Etag,
	}, nil
}

func (a *MicrosoftAdapter) DeleteEvent(ctx context.Context, tok *out.TokenResult, mapping *domain.EventMapping) error {
	path := "/me/events/" + url.PathEscape(mapping.ExternalEventID)
	return a.doRequest(ctx, tok, http.MethodDelete, path, nil, nil)
}

func (a *MicrosoftAdapter) ListEvents(ctx context.Context, tok *out.TokenResult, opts out.ListOptions) ([]*out.ExternalEvent, error) {
	query := url.Values{}
	query.Set("$top", "100")
	if opts.From != nil && opts.To != nil {
		query.Set("startDateTime", opts.From.UTC().Format(time.RFC3339))
		query.Set("endDateTime", opts.To.UTC().Format(time.RFC3339))
	}

	// calendarView expands recurring events into occurrences within the
	// window; plain /events lists masters only.
	base := "/me/calendarView"
	if opts.From == nil || opts.To == nil {
		base = eventsPath(opts.CalendarID)
	} else if opts.CalendarID != "" && opts.CalendarID != "primary" {
		base = "/me/calendars/" + url.PathEscape(opts.CalendarID) + "/calendarView"
	}

	calendarID := opts.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}

	var events []*out.ExternalEvent
	path := base + "?" + query.Encode()
	for path != "" {
		var page graphEventList
		if err := a.doRequest(ctx, tok, http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		for i := range page.Value {
			ev, err := a.convertEvent(&page.Value[i], calendarID)
			if err != nil {
				continue
			}
			events = append(events, ev)
		}
		path = trimGraphBase(page.NextLink)
	}
	return events, nil
}

// trimGraphBase converts an @odata.nextLink into a base-relative path.
func trimGraphBase(link string) string {
	if link == "" {
		return ""
	}
	if len(link) > len(msGraphBaseURL) && link[:len(msGraphBaseURL)] == msGraphBaseURL {
		return link[len(msGraphBaseURL):]
	}
	return ""
}

func (a *MicrosoftAdapter) ParseToDraft(ev *out.ExternalEvent) (*domain.AppointmentDraft, error) {
	if ev.Title == "" {
		ev.Title = "(no subject)"
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
		Metadata: map[string]any{"source": "microsoft", "ical_uid": ev.ICalUID},
	}
	if ev.Description != "" {
		draft.Description = &ev.Description
	}
	if ev.Location != "" {
		draft.Location = &ev.Location
	}
	return draft, nil
}

// ============================================================
// Subscriptions
// ============================================================

func (a *MicrosoftAdapter) EnsureSubscription(ctx context.Context, tok *out.TokenResult, callbackURL, calendarID string, conn *domain.CalendarConnection) (*out.SubscriptionResult, error) {
	clientState := conn.WebhookSecret
	if clientState == "" {
		clientState = newClientState()
	}
	expiration := time.Now().UTC().Add(msSubscriptionTTL)

	// Renew in place when a live subscription exists.
	if conn.WebhookChannelID != nil && *conn.WebhookChannelID != "" {
		patch := map[string]string{
			"expirationDateTime": expiration.Format(time.RFC3339),
		}
		var renewed graphSubscription
		err := a.doRequest(ctx, tok, http.MethodPatch,
			"/subscriptions/"+url.PathEscape(*conn.WebhookChannelID), patch, &renewed)
		if err == nil {
			return &out.SubscriptionResult{
				ChannelID:   renewed.ID,
				ResourceID:  renewed.Resource,
				Expiration:  expiration,
				ClientState: clientState,
			}, nil
		}
		// Fall through and create a fresh subscription.
	}

	resource := "/me/events"
	if calendarID != "" && calendarID != "primary" {
		resource = "/me/calendars/" + calendarID + "/events"
	}

	var created graphSubscription
	err := a.doRequest(ctx, tok, http.MethodPost, "/subscriptions", graphSubscription{
		ChangeType:         "created,updated,deleted",
		NotificationURL:    callbackURL + microsoftWebhookPath,
		Resource:           resource,
		ExpirationDateTime: expiration.Format(time.RFC3339),
		ClientState:        clientState,
	}, &created)
	if err != nil {
		return nil, err
	}

	return &out.SubscriptionResult{
		ChannelID:   created.ID,
		ResourceID:  created.Resource,
		Expiration:  expiration,
		ClientState: clientState,
	}, nil
}

func (a *MicrosoftAdapter) StopSubscription(ctx context.Context, tok *out.TokenResult, conn *domain.CalendarConnection) error {
	if conn.WebhookChannelID == nil || *conn.WebhookChannelID == "" {
		return nil
	}
	return a.doRequest(ctx, tok, http.MethodDelete,
		"/subscriptions/"+url.PathEscape(*conn.WebhookChannelID), nil, nil)
}

// ============================================================
// Conversion
// ============================================================

func (a *MicrosoftAdapter) toGraphEvent(appt *domain.Appointment) *graphEvent {
	event := &graphEvent{
		Subject: appt.Title,
		Start: &graphDateTime{
			DateTime: appt.StartAt.UTC().Format(msGraphTimeFormat),
			TimeZone: "UTC",
		},
		End: &graphDateTime{
			DateTime: appt.EndAt.UTC().Format(msGraphTimeFormat),
			TimeZone: "UTC",
		},
	}
	if appt.Description != nil {
		event.Body = &graphItemBody{ContentType: "text", Content: *appt.Description}
	}
	if appt.Location != nil {
		event.Location = &graphLocation{DisplayName: *appt.Location}
	}
	return event
}

func (a *MicrosoftAdapter) convertEvent(item *graphEvent, calendarID string) (*out.ExternalEvent, error) {
	if item.Start == nil || item.End == nil {
		return nil, apperr.InvalidInput("event", "missing start or end")
	}
	start, err := parseGraphTime(item.Start)
	if err != nil {
		return nil, err
	}
	end, err := parseGraphTime(item.End)
	if err != nil {
		return nil, err
	}

	ev := &out.ExternalEvent{
		ID:         item.ID,
		ICalUID:    item.ICalUID,
		CalendarID: calendarID,
		ChangeTag:  item.Etag,
		Title:      item.Subject,
		StartAt:    start,
		EndAt:      end,
		Timezone:   "UTC",
		AllDay:     item.IsAllDay,
		Cancelled:  item.Cancelled,
	}
	if item.Body != nil {
		ev.Description = item.Body.Content
	}
	if item.Location != nil {
		ev.Location = item.Location.DisplayName
	}
	return ev, nil
}

// parseGraphTime parses the zone-less Graph format, honoring the Prefer
// header that pins responses to UTC.
func parseGraphTime(dt *graphDateTime) (time.Time, error) {
	loc := time.UTC
	if dt.TimeZone != "" && dt.TimeZone != "UTC" {
		if l, err := time.LoadLocation(dt.TimeZone); err == nil {
			loc = l
		}
	}
	// Graph appends fractional seconds of varying width.
	for _, layout := range []string{msGraphTimeFormat, "2006-01-02T15:04:05.9999999"} {
		if t, err := time.ParseInLocation(layout, dt.DateTime, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, apperr.InvalidInput("event", "unparseable graph time")
}

func newClientState() string {
	return "calwatch-" + uuid.New().String()
}

var _ out.CalendarProviderPort = (*MicrosoftAdapter)(nil)
var _ out.WebhookCapable = (*MicrosoftAdapter)(nil)
