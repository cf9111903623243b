// Package calendar creates events, with a video meeting link, on a Google
// Calendar through its REST API.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatflow/internal/constants"
	apperrors "chatflow/internal/errors"
	"chatflow/internal/models"
	"chatflow/internal/retry"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const DefaultBaseURL = "https://www.googleapis.com/calendar/v3"

// ErrNotConnected means no credentials or calendar are configured for the chat.
var ErrNotConnected = errors.New("calendar not connected")

type EventRequest struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	TimeZone    string
	Attendees   []string
	// WithMeetLink asks the calendar to attach a video conference.
	WithMeetLink bool
}

type Event struct {
	ID       string
	HTMLLink string
	MeetURL  string
}

type Client interface {
	CreateEvent(ctx context.Context, calendarID string, req EventRequest) (*Event, error)
}

type GoogleClient struct {
	baseURL     string
	accessToken string
	client      *http.Client
	backoff     *retry.Backoff
	logger      *logrus.Logger
}

func NewGoogleClient(cfg models.CalendarConfig, backoff *retry.Backoff, logger *logrus.Logger) *GoogleClient {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if backoff == nil {
		backoff = retry.NewBackoff(retry.DefaultBackoffConfig())
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &GoogleClient{
		baseURL:     strings.TrimRight(base, "/"),
		accessToken: cfg.AccessToken,
		client:      &http.Client{Timeout: constants.DefaultHTTPTimeoutSec * time.Second},
		backoff:     backoff,
		logger:      logger,
	}
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone,omitempty"`
}

type attendee struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

type solutionKey struct {
	Type string `json:"type"`
}

type createRequest struct {
	RequestID             string      `json:"requestId"`
	ConferenceSolutionKey solutionKey `json:"conferenceSolutionKey"`
}

type entryPoint struct {
	EntryPointType string `json:"entryPointType"`
	URI            string `json:"uri"`
}

type conferenceData struct {
	CreateRequest *createRequest `json:"createRequest,omitempty"`
	EntryPoints   []entryPoint   `json:"entryPoints,omitempty"`
}

type eventBody struct {
	ID             string          `json:"id,omitempty"`
	Summary        string          `json:"summary"`
	Description    string          `json:"description,omitempty"`
	Start          eventTime       `json:"start"`
	End            eventTime       `json:"end"`
	Attendees      []attendee      `json:"attendees,omitempty"`
	ConferenceData *conferenceData `json:"conferenceData,omitempty"`
	HTMLLink       string          `json:"htmlLink,omitempty"`
	HangoutLink    string          `json:"hangoutLink,omitempty"`
}

func (c *GoogleClient) CreateEvent(ctx context.Context, calendarID string, req EventRequest) (*Event, error) {
	if c.accessToken == "" || calendarID == "" {
		return nil, ErrNotConnected
	}
	if !req.End.After(req.Start) {
		return nil, apperrors.NewValidationError("end", req.End.String(), "end must be after start")
	}

	body := eventBody{
		Summary:     req.Title,
		Description: req.Description,
		Start:       eventTime{DateTime: req.Start.Format(time.RFC3339), TimeZone: req.TimeZone},
		End:         eventTime{DateTime: req.End.Format(time.RFC3339), TimeZone: req.TimeZone},
	}
	for _, a := range req.Attendees {
		if strings.Contains(a, "@") && !strings.HasPrefix(a, "@") {
			body.Attendees = append(body.Attendees, attendee{Email: a})
		}
	}
	if req.WithMeetLink {
		body.ConferenceData = &conferenceData{CreateRequest: &createRequest{
			RequestID:             uuid.NewString(),
			ConferenceSolutionKey: solutionKey{Type: "hangoutsMeet"},
		}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	endpoint := fmt.Sprintf("%s/calendars/%s/events?conferenceDataVersion=1", c.baseURL, url.PathEscape(calendarID))

	// The conference requestId makes a retried insert idempotent on the server.
	created, err := retry.Do(ctx, c.backoff, func() (*eventBody, error) {
		return c.insert(ctx, endpoint, payload)
	}, apperrors.IsRetryable)
	if err != nil {
		return nil, err
	}

	ev := &Event{ID: created.ID, HTMLLink: created.HTMLLink, MeetURL: created.HangoutLink}
	if ev.MeetURL == "" && created.ConferenceData != nil {
		for _, ep := range created.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" {
				ev.MeetURL = ep.URI
				break
			}
		}
	}
	c.logger.WithFields(logrus.Fields{
		"event_id":      ev.ID,
		"has_meet_link": ev.MeetURL != "",
	}).Info("Calendar event created")
	return ev, nil
}

func (c *GoogleClient) insert(ctx context.Context, endpoint string, payload []byte) (*eventBody, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.NewAPIError("calendar", "events.insert", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: status %d", ErrNotConnected, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, apperrors.NewAPIError("calendar", "events.insert", resp.StatusCode,
			fmt.Errorf("calendar: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var created eventBody
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	return &created, nil
}
