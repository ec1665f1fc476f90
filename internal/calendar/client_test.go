package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	gcal "google.golang.org/api/calendar/v3"
)

func newCalendarAPIServer(t *testing.T, eventsStatus int) (*httptest.Server, *[]*http.Request) {
	t.Helper()
	var requests []*http.Request
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me/calendarList", func(w http.ResponseWriter, r *http.Request) {
		clone := r.Clone(context.Background())
		requests = append(requests, clone)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(gcal.CalendarList{
			Items: []*gcal.CalendarListEntry{{Id: "primary", Summary: "Work"}},
		})
	})
	mux.HandleFunc("/calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		clone := r.Clone(context.Background())
		requests = append(requests, clone)
		if eventsStatus != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(eventsStatus)
			_, _ = w.Write([]byte(`{"error": {"code": ` + strconv.Itoa(eventsStatus) + `, "message": "rejected"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			var event gcal.Event
			if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
				t.Errorf("failed to decode event payload: %v", err)
			}
			event.Id = "created-event-1"
			_ = json.NewEncoder(w).Encode(&event)
			return
		}
		_ = json.NewEncoder(w).Encode(gcal.Events{
			Items: []*gcal.Event{{Id: "event-1", Summary: "Standup"}},
		})
	})
	server := httptest.NewServer(mux)
	return server, &requests
}

func TestListEventsReturnsCalendarsAndUpcomingEvents(t *testing.T) {
	server, requests := newCalendarAPIServer(t, http.StatusOK)
	defer server.Close()

	fixedNow := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	client := NewClient(ClientConfig{
		Endpoint:  server.URL,
		MaxEvents: 5,
		Clock:     func() time.Time { return fixedNow },
	})

	page, err := client.ListEvents(context.Background(), "ya29.access", "America/New_York")
	if err != nil {
		t.Fatalf("list events failed: %v", err)
	}

	if len(page.Calendars) != 1 || page.Calendars[0].Id != "primary" {
		t.Fatalf("unexpected calendar list %+v", page.Calendars)
	}
	if len(page.Events) != 1 || page.Events[0].Summary != "Standup" {
		t.Fatalf("unexpected events %+v", page.Events)
	}
	if page.Timezone != "America/New_York" {
		t.Fatalf("unexpected timezone %q", page.Timezone)
	}

	if len(*requests) != 2 {
		t.Fatalf("expected calendar list and events calls, got %d requests", len(*requests))
	}
	eventsRequest := (*requests)[1]
	query := eventsRequest.URL.Query()
	if query.Get("timeMin") != fixedNow.Format(time.RFC3339) {
		t.Fatalf("unexpected timeMin %q", query.Get("timeMin"))
	}
	if query.Get("maxResults") != "5" || query.Get("singleEvents") != "true" {
		t.Fatalf("unexpected list parameters %v", query)
	}
	if query.Get("orderBy") != "startTime" || query.Get("timeZone") != "America/New_York" {
		t.Fatalf("unexpected ordering parameters %v", query)
	}
	if got := eventsRequest.Header.Get("Authorization"); got != "Bearer ya29.access" {
		t.Fatalf("unexpected authorization header %q", got)
	}
}

func TestListEventsKeeps401Recognizable(t *testing.T) {
	server, _ := newCalendarAPIServer(t, http.StatusUnauthorized)
	defer server.Close()

	client := NewClient(ClientConfig{Endpoint: server.URL})

	_, err := client.ListEvents(context.Background(), "stale-token", "UTC")
	if err == nil {
		t.Fatalf("expected unauthorized error")
	}
	if !IsUnauthorized(err) {
		t.Fatalf("401 must stay recognizable for the refresh protocol, got %v", err)
	}
	if errors.Is(err, ErrCalendarUpstream) {
		t.Fatalf("401 must not be wrapped as a generic upstream failure")
	}
}

func TestListEventsWrapsOtherFailures(t *testing.T) {
	server, _ := newCalendarAPIServer(t, http.StatusInternalServerError)
	defer server.Close()

	client := NewClient(ClientConfig{Endpoint: server.URL})

	_, err := client.ListEvents(context.Background(), "ya29.access", "UTC")
	if !errors.Is(err, ErrCalendarUpstream) {
		t.Fatalf("expected ErrCalendarUpstream, got %v", err)
	}
	if IsUnauthorized(err) {
		t.Fatalf("a 500 must not look like an expired token")
	}
}

func TestCreateEventDefaultsTimezones(t *testing.T) {
	server, requests := newCalendarAPIServer(t, http.StatusOK)
	defer server.Close()

	client := NewClient(ClientConfig{Endpoint: server.URL})

	event := &gcal.Event{
		Summary: "Design review",
		Start:   &gcal.EventDateTime{DateTime: "2026-06-02T10:00:00"},
		End:     &gcal.EventDateTime{DateTime: "2026-06-02T11:00:00", TimeZone: "Europe/London"},
	}
	created, err := client.CreateEvent(context.Background(), "ya29.access", event, "America/New_York")
	if err != nil {
		t.Fatalf("create event failed: %v", err)
	}

	if created.Id != "created-event-1" {
		t.Fatalf("unexpected created event %+v", created)
	}
	if event.Start.TimeZone != "America/New_York" {
		t.Fatalf("unset start zone must default to the caller zone, got %q", event.Start.TimeZone)
	}
	if event.End.TimeZone != "Europe/London" {
		t.Fatalf("explicit end zone must be kept, got %q", event.End.TimeZone)
	}
	if len(*requests) != 1 || (*requests)[0].Method != http.MethodPost {
		t.Fatalf("expected one insert call, got %+v", *requests)
	}
}

func TestCreateEventRequiresPayload(t *testing.T) {
	client := NewClient(ClientConfig{})

	_, err := client.CreateEvent(context.Background(), "ya29.access", nil, "UTC")
	if !errors.Is(err, ErrCalendarUpstream) {
		t.Fatalf("expected ErrCalendarUpstream for nil payload, got %v", err)
	}
}
