package plenariosdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Plenario HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Session represents the API session model (partial).
type Session struct {
	ID              string  `json:"id"`
	PeriodID        string  `json:"period_id"`
	SeqNumber       *int    `json:"seq_number,omitempty"`
	Kind            string  `json:"kind"`
	Status          string  `json:"status"`
	ScheduledAt     string  `json:"scheduled_at"`
	Location        string  `json:"location,omitempty"`
	AgendaPublished bool    `json:"agenda_published"`
	OpenedAt        *string `json:"opened_at,omitempty"`
	ClosedAt        *string `json:"closed_at,omitempty"`
}

// AgendaItem represents one entry on a session's pauta.
type AgendaItem struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	DocumentID string `json:"document_id"`
	Section    string `json:"section"`
	Position   int    `json:"position"`
	Status     string `json:"status"`
	AutoAdded  bool   `json:"auto_added"`
}

// AttendanceRecord is one member's presence in a session.
type AttendanceRecord struct {
	SessionID     string  `json:"session_id"`
	MemberID      string  `json:"member_id"`
	Status        string  `json:"status"`
	Justification *string `json:"justification,omitempty"`
}

// VotingResult is the closed tally for an agenda item.
type VotingResult struct {
	ID              string `json:"id"`
	SessionID       string `json:"session_id"`
	DocumentID      string `json:"document_id"`
	Yes             int    `json:"yes"`
	No              int    `json:"no"`
	Abstain         int    `json:"abstain"`
	Absent          int    `json:"absent"`
	Outcome         string `json:"outcome"`
	CastingVoteUsed bool   `json:"casting_vote_used"`
	Secret          bool   `json:"secret"`
}

// QuorumStatus reports presence against the roster.
type QuorumStatus struct {
	RosterSize int  `json:"roster_size"`
	Present    int  `json:"present"`
	Minimum    int  `json:"minimum"`
	HasQuorum  bool `json:"has_quorum"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	SessionID  string         `json:"session_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// ScheduleSession schedules a session for the given RFC 3339 date/time.
func (c *Client) ScheduleSession(ctx context.Context, periodID, kind, scheduledAt string) (Session, error) {
	body := map[string]any{
		"period_id":    periodID,
		"kind":         kind,
		"scheduled_at": scheduledAt,
	}
	var resp Session
	err := c.do(ctx, http.MethodPost, "v0/sessions", body, &resp)
	return resp, err
}

// GetSession fetches a session by id.
func (c *Client) GetSession(ctx context.Context, sessionID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, c.sessionPath(sessionID, ""), nil, &resp)
	return resp, err
}

// OpenSession transitions a scheduled session into conduct.
func (c *Client) OpenSession(ctx context.Context, sessionID, presidingMemberID string) (Session, error) {
	body := map[string]any{}
	if presidingMemberID != "" {
		body["presiding_member_id"] = presidingMemberID
	}
	var resp Session
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "open"), body, &resp)
	return resp, err
}

// CloseSession realizes an in-progress session.
func (c *Client) CloseSession(ctx context.Context, sessionID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "close"), nil, &resp)
	return resp, err
}

// PublishAgenda freezes the session's agenda.
func (c *Client) PublishAgenda(ctx context.Context, sessionID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "agenda/publish"), nil, &resp)
	return resp, err
}

// AddAgendaItem places a document on the agenda.
func (c *Client) AddAgendaItem(ctx context.Context, sessionID, documentID, section string) (AgendaItem, error) {
	body := map[string]any{
		"document_id": documentID,
		"section":     section,
	}
	var resp AgendaItem
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "agenda/items"), body, &resp)
	return resp, err
}

// Agenda lists the session's agenda items.
func (c *Client) Agenda(ctx context.Context, sessionID string) ([]AgendaItem, error) {
	var resp struct {
		Items []AgendaItem `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.sessionPath(sessionID, "agenda"), nil, &resp)
	return resp.Items, err
}

// MarkAttendance sets a member's presence during the session.
func (c *Client) MarkAttendance(ctx context.Context, sessionID, memberID, status, justification string) (AttendanceRecord, error) {
	body := map[string]any{"status": status}
	if justification != "" {
		body["justification"] = justification
	}
	var resp AttendanceRecord
	endpoint := c.sessionPath(sessionID, "attendance/"+url.PathEscape(memberID))
	err := c.do(ctx, http.MethodPut, endpoint, body, &resp)
	return resp, err
}

// Quorum reports the session's current quorum status.
func (c *Client) Quorum(ctx context.Context, sessionID string) (QuorumStatus, error) {
	var resp QuorumStatus
	err := c.do(ctx, http.MethodGet, c.sessionPath(sessionID, "quorum"), nil, &resp)
	return resp, err
}

// StartVote opens the roll-call round for an agenda item.
func (c *Client) StartVote(ctx context.Context, itemID string) (AgendaItem, error) {
	var resp AgendaItem
	err := c.do(ctx, http.MethodPost, c.itemPath(itemID, "vote/start"), nil, &resp)
	return resp, err
}

// CastVote records (or overwrites) a member's vote while the round is open.
func (c *Client) CastVote(ctx context.Context, itemID, memberID, choice string) error {
	body := map[string]any{
		"member_id": memberID,
		"choice":    choice,
	}
	return c.do(ctx, http.MethodPost, c.itemPath(itemID, "vote/cast"), body, nil)
}

// CloseVote tallies the round. castingVote may be "yes", "no", or empty.
func (c *Client) CloseVote(ctx context.Context, itemID, castingVote, remarks string) (VotingResult, error) {
	body := map[string]any{}
	if castingVote != "" {
		body["casting_vote"] = castingVote
	}
	if remarks != "" {
		body["remarks"] = remarks
	}
	var resp VotingResult
	err := c.do(ctx, http.MethodPost, c.itemPath(itemID, "vote/close"), body, &resp)
	return resp, err
}

// Results lists the closed voting results for a session.
func (c *Client) Results(ctx context.Context, sessionID string) ([]VotingResult, error) {
	var resp struct {
		Items []VotingResult `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.sessionPath(sessionID, "results"), nil, &resp)
	return resp.Items, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) sessionPath(sessionID, p string) string {
	endpoint := fmt.Sprintf("v0/sessions/%s", url.PathEscape(sessionID))
	if p != "" {
		endpoint += "/" + strings.TrimLeft(p, "/")
	}
	return endpoint
}

func (c *Client) itemPath(itemID, p string) string {
	endpoint := fmt.Sprintf("v0/agenda/items/%s", url.PathEscape(itemID))
	if p != "" {
		endpoint += "/" + strings.TrimLeft(p, "/")
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
