// Package calendar proxies the two Google Calendar operations the admin panel
// needs: listing upcoming events (with the caller's calendar list) and
// creating an event on the primary calendar.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	defaultMaxEvents       = 10
	defaultUpstreamTimeout = 10 * time.Second
	primaryCalendarID      = "primary"
)

// RequiredScopes are the two grants gating every calendar operation. Both must
// be present in a user's granted-scope set.
var RequiredScopes = []string{gcal.CalendarScope, gcal.CalendarEventsScope}

// ErrCalendarUpstream indicates the calendar provider rejected a call for a
// reason other than an expired token.
var ErrCalendarUpstream = errors.New("calendar: upstream request failed")

// IsUnauthorized reports whether the provider answered 401, meaning the access
// token is expired or revoked and a refresh should be attempted.
func IsUnauthorized(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized
}

// EventsPage is the combined calendar-list-plus-events payload returned to the
// admin panel.
type EventsPage struct {
	Calendars []*gcal.CalendarListEntry `json:"calendars"`
	Events    []*gcal.Event             `json:"events"`
	Timezone  string                    `json:"timezone"`
}

// ClientConfig bundles configuration for the calendar proxy client.
type ClientConfig struct {
	// Endpoint overrides the Google Calendar API base URL; tests point it at a
	// local server.
	Endpoint  string
	MaxEvents int64
	Timeout   time.Duration
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Client calls the Google Calendar API with a caller-supplied access token.
type Client struct {
	endpoint  string
	maxEvents int64
	timeout   time.Duration
	logger    *zap.Logger
	clock     func() time.Time
}

// NewClient constructs a calendar proxy client.
func NewClient(cfg ClientConfig) *Client {
	maxEvents := cfg.MaxEvents
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultUpstreamTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Client{
		endpoint:  cfg.Endpoint,
		maxEvents: maxEvents,
		timeout:   timeout,
		logger:    logger,
		clock:     clock,
	}
}

// ListEvents returns the caller's calendar list and the next events on the
// primary calendar, with event times rendered in the requested zone.
func (c *Client) ListEvents(ctx context.Context, accessToken, timeZone string) (EventsPage, error) {
	service, err := c.service(ctx, accessToken)
	if err != nil {
		return EventsPage{}, fmt.Errorf("%w: %v", ErrCalendarUpstream, err)
	}

	calendars, err := service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return EventsPage{}, c.classify("calendar list", err)
	}

	events, err := service.Events.List(primaryCalendarID).
		TimeMin(c.clock().UTC().Format(time.RFC3339)).
		MaxResults(c.maxEvents).
		SingleEvents(true).
		OrderBy("startTime").
		TimeZone(timeZone).
		Context(ctx).
		Do()
	if err != nil {
		return EventsPage{}, c.classify("events list", err)
	}

	return EventsPage{
		Calendars: calendars.Items,
		Events:    events.Items,
		Timezone:  timeZone,
	}, nil
}

// CreateEvent inserts an event on the primary calendar, defaulting the start
// and end zones to the caller's zone when the payload leaves them unset.
func (c *Client) CreateEvent(ctx context.Context, accessToken string, event *gcal.Event, timeZone string) (*gcal.Event, error) {
	if event == nil {
		return nil, fmt.Errorf("%w: event payload required", ErrCalendarUpstream)
	}
	if event.Start != nil && event.Start.TimeZone == "" {
		event.Start.TimeZone = timeZone
	}
	if event.End != nil && event.End.TimeZone == "" {
		event.End.TimeZone = timeZone
	}

	service, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCalendarUpstream, err)
	}

	created, err := service.Events.Insert(primaryCalendarID, event).Context(ctx).Do()
	if err != nil {
		return nil, c.classify("event insert", err)
	}
	return created, nil
}

func (c *Client) service(ctx context.Context, accessToken string) (*gcal.Service, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	})
	httpClient := &http.Client{
		Timeout:   c.timeout,
		Transport: &oauth2.Transport{Source: source, Base: http.DefaultTransport},
	}

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	return gcal.NewService(ctx, opts...)
}

// classify keeps 401s recognizable for the refresh-and-retry protocol and
// wraps everything else as an upstream failure with status for diagnostics.
func (c *Client) classify(operation string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusUnauthorized {
			c.logger.Debug("calendar call unauthorized", zap.String("operation", operation))
			return err
		}
		return fmt.Errorf("%w: %s: status %d: %s", ErrCalendarUpstream, operation, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("%w: %s: %v", ErrCalendarUpstream, operation, err)
}
