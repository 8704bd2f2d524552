package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"

	"plenario/internal/config"
	"plenario/internal/db"
	"plenario/internal/domain"
	"plenario/internal/engine"
	"plenario/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("leg-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitPeriod(context.Background(), "leg-1", "Legislatura", "2025-01-01", "2028-12-31", "tester"); err != nil {
		t.Fatalf("init period: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:                 "test-secret",
			AllowLegacyOperatorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

var operatorHeader = map[string]string{"X-Operator-Id": "tester"}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func mustOK(t *testing.T, res *http.Response, data []byte, what string) {
	t.Helper()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("%s status %d: %s", what, res.StatusCode, string(data))
	}
}

func TestSessionConductEndToEnd(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	memberIDs := make([]string, 0, 5)
	for i := 1; i <= 5; i++ {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/members", map[string]any{
			"name": fmt.Sprintf("Vereador %d", i),
		}, operatorHeader)
		mustOK(t, res, data, "create member")
		var m domain.Member
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("unmarshal member: %v", err)
		}
		memberIDs = append(memberIDs, m.ID)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/documents", map[string]any{
		"protocol_number": "PL-001",
		"kind":            "projeto_lei",
		"summary":         "Denomina via publica",
	}, operatorHeader)
	mustOK(t, res, data, "create document")
	var doc domain.Document
	_ = json.Unmarshal(data, &doc)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions", map[string]any{
		"scheduled_at": "2025-03-10T19:00:00Z",
	}, operatorHeader)
	mustOK(t, res, data, "schedule session")
	var session domain.Session
	_ = json.Unmarshal(data, &session)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/"+session.ID+"/agenda/items", map[string]any{
		"document_id": doc.ID,
		"section":     "ordem_do_dia",
	}, operatorHeader)
	mustOK(t, res, data, "add agenda item")
	var item domain.AgendaItem
	_ = json.Unmarshal(data, &item)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/"+session.ID+"/agenda/publish", nil, operatorHeader)
	mustOK(t, res, data, "publish agenda")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/"+session.ID+"/open", map[string]any{
		"presiding_member_id": memberIDs[0],
	}, operatorHeader)
	mustOK(t, res, data, "open session")
	_ = json.Unmarshal(data, &session)
	if session.Status != "in_progress" {
		t.Fatalf("expected in_progress, got %s", session.Status)
	}

	for _, id := range memberIDs[:4] {
		res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/sessions/"+session.ID+"/attendance/"+id, map[string]any{
			"status": "present",
		}, operatorHeader)
		mustOK(t, res, data, "mark attendance")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/"+session.ID+"/quorum", nil, operatorHeader)
	mustOK(t, res, data, "quorum")
	var q struct {
		Present   int  `json:"present"`
		Minimum   int  `json:"minimum"`
		HasQuorum bool `json:"has_quorum"`
	}
	_ = json.Unmarshal(data, &q)
	if q.Present != 4 || q.Minimum != 3 || !q.HasQuorum {
		t.Fatalf("unexpected quorum: %+v", q)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/agenda/items/"+item.ID+"/vote/start", nil, operatorHeader)
	mustOK(t, res, data, "start vote")

	for i, id := range memberIDs[:4] {
		choice := "yes"
		if i == 3 {
			choice = "no"
		}
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/agenda/items/"+item.ID+"/vote/cast", map[string]any{
			"member_id": id,
			"choice":    choice,
		}, operatorHeader)
		if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusNoContent {
			t.Fatalf("cast vote status %d: %s", res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/agenda/items/"+item.ID+"/vote/close", map[string]any{}, operatorHeader)
	mustOK(t, res, data, "close vote")
	var result domain.VotingResult
	_ = json.Unmarshal(data, &result)
	if result.Yes != 3 || result.No != 1 || result.Outcome != "approved" {
		t.Fatalf("unexpected result: %+v", result)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/"+session.ID+"/close", nil, operatorHeader)
	mustOK(t, res, data, "close session")
	_ = json.Unmarshal(data, &session)
	if session.Status != "realized" {
		t.Fatalf("expected realized, got %s", session.Status)
	}
	if session.SeqNumber == nil || *session.SeqNumber != 1 {
		t.Fatalf("expected seq 1, got %v", session.SeqNumber)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/"+session.ID+"/summary", nil, operatorHeader)
	mustOK(t, res, data, "summary")
	var summary domain.SessionSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if len(summary.Agenda) != 1 || summary.Agenda[0].Result == nil {
		t.Fatalf("expected voted agenda outcome in summary")
	}
}

func TestRuleErrorStatusMapping(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/members", map[string]any{
		"name": "Vereador Solo",
	}, operatorHeader)
	mustOK(t, res, data, "create member")
	var member domain.Member
	_ = json.Unmarshal(data, &member)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/documents", map[string]any{
		"protocol_number": "REQ-001",
		"kind":            "requerimento",
	}, operatorHeader)
	mustOK(t, res, data, "create document")
	var doc domain.Document
	_ = json.Unmarshal(data, &doc)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions", map[string]any{
		"scheduled_at": "2025-03-10T19:00:00Z",
	}, operatorHeader)
	mustOK(t, res, data, "schedule session")
	var session domain.Session
	_ = json.Unmarshal(data, &session)

	// opening before the agenda is published is a business-rule gate: 422
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/"+session.ID+"/open", map[string]any{}, operatorHeader)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unpublished agenda, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/"+session.ID+"/agenda/items", map[string]any{
		"document_id": doc.ID,
		"section":     "ordem_do_dia",
	}, operatorHeader)
	mustOK(t, res, data, "add agenda item")
	var item domain.AgendaItem
	_ = json.Unmarshal(data, &item)

	// duplicates are a conflict: 409
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/"+session.ID+"/agenda/items", map[string]any{
		"document_id": doc.ID,
		"section":     "expediente",
	}, operatorHeader)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate item, got %d: %s", res.StatusCode, string(data))
	}

	// a malformed ordering set is the caller's fault: 400
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/sessions/"+session.ID+"/agenda/order", map[string]any{
		"item_ids": []string{item.ID, "ghost"},
	}, operatorHeader)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad ordering set, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/"+session.ID+"/agenda/publish", nil, operatorHeader)
	mustOK(t, res, data, "publish agenda")

	// frozen agenda: 409
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/"+session.ID+"/agenda/publish", nil, operatorHeader)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for double publish, got %d: %s", res.StatusCode, string(data))
	}

	// unknown session: 404
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/ghost", nil, operatorHeader)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// no credentials
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}

	// health never needs credentials
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	mustOK(t, res, data, "health")

	// dev login mints a usable bearer token
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"operator_id": "op-1",
		"roles":       []string{"operator"},
	}, nil)
	mustOK(t, res, data, "dev login")
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("expected token, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	mustOK(t, res, data, "whoami")
	var me WhoAmIResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal whoami: %v", err)
	}
	if me.OperatorID != "op-1" || me.Source != "jwt" {
		t.Fatalf("unexpected principal: %+v", me)
	}

	// a garbage token is rejected
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d: %s", res.StatusCode, string(data))
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/keys", map[string]any{
		"operator_id": "svc-minutes",
		"name":        "minutes generator",
	}, operatorHeader)
	mustOK(t, res, data, "create key")
	var created APIKeyResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if created.Key == "" {
		t.Fatalf("expected the secret once on creation")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"X-Api-Key": created.Key,
	})
	mustOK(t, res, data, "whoami via api key")
	var me WhoAmIResponse
	_ = json.Unmarshal(data, &me)
	if me.OperatorID != "svc-minutes" || me.Source != "api_key" {
		t.Fatalf("unexpected principal: %+v", me)
	}

	// listing never exposes the secret
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/keys", nil, operatorHeader)
	mustOK(t, res, data, "list keys")
	var listed []APIKeyResponse
	_ = json.Unmarshal(data, &listed)
	if len(listed) != 1 || listed[0].Key != "" {
		t.Fatalf("expected one key with no secret, got %+v", listed)
	}
}
