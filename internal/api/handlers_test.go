package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/models"
	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/service/ai"
	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/session"
)

type mockAnalyst struct {
	mu       sync.Mutex
	calls    int
	chatErr  error
	lastText string
}

func (m *mockAnalyst) BatchAnalyze(ctx context.Context, files []models.AnalysisFile) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return fmt.Sprintf("Analyzed %d file(s)", len(files)), nil
}

func (m *mockAnalyst) ContinueChat(ctx context.Context, prior []models.ChatTurn, text, fileContext string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastText = text
	if m.chatErr != nil {
		return "", m.chatErr
	}
	return fmt.Sprintf("Mock response to %q", text), nil
}

func newTestServer(t *testing.T, cfg HandlerConfig) (*gin.Engine, *mockAnalyst) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	analyst := &mockAnalyst{}
	manager := session.NewManager(session.ManagerConfig{}, nil, analyst, nil)
	handler := NewHandler(manager, cfg)
	router := gin.New()
	handler.RegisterRoutes(router)
	return router, analyst
}

func createSession(t *testing.T, router *gin.Engine) string {
	t.Helper()
	resp := doJSONRequest(t, router, http.MethodPost, "/api/sessions", nil, nil)
	assertStatus(t, resp, http.StatusCreated)
	var body struct {
		SessionID string `json:"session_id"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.SessionID == "" {
		t.Fatalf("expected session id")
	}
	return body.SessionID
}

func TestHandlersEndToEndFlow(t *testing.T) {
	router, analyst := newTestServer(t, HandlerConfig{MaxFileBytes: 1 << 20, CallsPerMinute: 10})
	id := createSession(t, router)

	upResp := uploadFiles(t, router, id, map[string]string{
		"ar.csv":    "customer,amount\nAcme,100\n",
		"notes.pdf": "%PDF-1.4",
	})
	assertStatus(t, upResp, http.StatusCreated)
	var upBody struct {
		Accepted  []string        `json:"accepted"`
		Rejected  []string        `json:"rejected"`
		Supported []string        `json:"supported"`
		Session   models.Snapshot `json:"session"`
	}
	decodeJSON(t, upResp.Body.Bytes(), &upBody)
	if len(upBody.Accepted) != 1 || len(upBody.Rejected) != 1 {
		t.Fatalf("unexpected upload result %s", upResp.Body.String())
	}
	if len(upBody.Supported) == 0 || upBody.Supported[0] != ".csv" {
		t.Fatalf("rejection should list supported formats, got %#v", upBody.Supported)
	}
	if len(upBody.Session.Warnings) != 1 {
		t.Fatalf("expected rejection warning, got %#v", upBody.Session.Warnings)
	}

	anResp := doJSONRequest(t, router, http.MethodPost, "/api/sessions/"+id+"/analyze", nil, nil)
	assertStatus(t, anResp, http.StatusOK)
	var anBody struct {
		Reply   string          `json:"reply"`
		Session models.Snapshot `json:"session"`
	}
	decodeJSON(t, anResp.Body.Bytes(), &anBody)
	if anBody.Reply != "Analyzed 1 file(s)" || len(anBody.Session.AnalyzedFiles) != 1 {
		t.Fatalf("unexpected analyze response %s", anResp.Body.String())
	}

	sendResp := doJSONRequest(t, router, http.MethodPost, "/api/sessions/"+id+"/messages", map[string]string{"content": "Who is late?"}, nil)
	assertStatus(t, sendResp, http.StatusOK)
	events := parseSSE(t, sendResp.Body.String())
	if len(events) != 2 {
		t.Fatalf("expected 2 SSE events, got %d", len(events))
	}
	if events[0].Name != "ack" || events[1].Name != "done" {
		t.Fatalf("unexpected events %#v", events)
	}
	var donePayload struct {
		AI struct {
			Content string `json:"content"`
		} `json:"ai_message"`
	}
	decodeJSON(t, []byte(events[1].Data), &donePayload)
	if donePayload.AI.Content != `Mock response to "Who is late?"` {
		t.Fatalf("unexpected reply %q", donePayload.AI.Content)
	}

	getResp := doJSONRequest(t, router, http.MethodGet, "/api/sessions/"+id, nil, nil)
	assertStatus(t, getResp, http.StatusOK)
	var snap models.Snapshot
	decodeJSON(t, getResp.Body.Bytes(), &snap)
	if len(snap.Transcript) != 4 || snap.Busy != models.Idle {
		t.Fatalf("unexpected transcript %#v", snap.Transcript)
	}

	resetResp := doJSONRequest(t, router, http.MethodPost, "/api/sessions/"+id+"/reset", nil, nil)
	assertStatus(t, resetResp, http.StatusOK)
	decodeJSON(t, resetResp.Body.Bytes(), &snap)
	if len(snap.Transcript) != 0 || len(snap.AnalyzedFiles) != 0 {
		t.Fatalf("reset did not clear session")
	}

	delResp := doJSONRequest(t, router, http.MethodDelete, "/api/sessions/"+id, nil, nil)
	assertStatus(t, delResp, http.StatusNoContent)
	missing := doJSONRequest(t, router, http.MethodGet, "/api/sessions/"+id, nil, nil)
	assertStatus(t, missing, http.StatusNotFound)
	if analyst.calls != 2 {
		t.Fatalf("expected 2 service calls, got %d", analyst.calls)
	}
}

func TestAnalyzeWithoutFiles(t *testing.T) {
	router, _ := newTestServer(t, HandlerConfig{})
	id := createSession(t, router)
	resp := doJSONRequest(t, router, http.MethodPost, "/api/sessions/"+id+"/analyze", nil, nil)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestAnalyzeExtractionFailure(t *testing.T) {
	router, analyst := newTestServer(t, HandlerConfig{})
	id := createSession(t, router)
	assertStatus(t, uploadFiles(t, router, id, map[string]string{"book.xlsx": "not a workbook"}), http.StatusCreated)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/sessions/"+id+"/analyze", nil, nil)
	assertStatus(t, resp, http.StatusUnprocessableEntity)
	var body struct {
		Session models.Snapshot `json:"session"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if len(body.Session.PendingFiles) != 1 || body.Session.LastError == "" {
		t.Fatalf("unexpected session after failure %#v", body.Session)
	}
	if analyst.calls != 0 {
		t.Fatalf("service called despite extraction failure")
	}
}

func TestMessageValidationAndFailure(t *testing.T) {
	router, analyst := newTestServer(t, HandlerConfig{})
	id := createSession(t, router)

	blank := doJSONRequest(t, router, http.MethodPost, "/api/sessions/"+id+"/messages", map[string]string{"content": "  "}, nil)
	assertStatus(t, blank, http.StatusBadRequest)

	analyst.chatErr = &ai.ServiceError{StatusCode: http.StatusUnauthorized, Message: "API request failed: 401 Unauthorized"}
	resp := doJSONRequest(t, router, http.MethodPost, "/api/sessions/"+id+"/messages", map[string]string{"content": "hi"}, nil)
	assertStatus(t, resp, http.StatusOK)
	events := parseSSE(t, resp.Body.String())
	if len(events) != 2 || events[1].Name != "error" {
		t.Fatalf("expected ack then error, got %#v", events)
	}
	if !strings.Contains(events[1].Data, "401") {
		t.Fatalf("error payload missing status: %s", events[1].Data)
	}
}

func TestUploadLimitsAndRemovePending(t *testing.T) {
	router, _ := newTestServer(t, HandlerConfig{MaxFileBytes: 8})
	id := createSession(t, router)
	tooBig := uploadFiles(t, router, id, map[string]string{"big.csv": "0123456789"})
	assertStatus(t, tooBig, http.StatusRequestEntityTooLarge)

	assertStatus(t, uploadFiles(t, router, id, map[string]string{"a.csv": "x"}), http.StatusCreated)
	assertStatus(t, uploadFiles(t, router, id, map[string]string{"b.csv": "y"}), http.StatusCreated)

	resp := doJSONRequest(t, router, http.MethodDelete, "/api/sessions/"+id+"/files/0", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	var snap models.Snapshot
	decodeJSON(t, resp.Body.Bytes(), &snap)
	if len(snap.PendingFiles) != 1 || snap.PendingFiles[0].Name != "b.csv" {
		t.Fatalf("unexpected pending %#v", snap.PendingFiles)
	}
	outOfRange := doJSONRequest(t, router, http.MethodDelete, "/api/sessions/"+id+"/files/9", nil, nil)
	assertStatus(t, outOfRange, http.StatusOK)
	bad := doJSONRequest(t, router, http.MethodDelete, "/api/sessions/"+id+"/files/x", nil, nil)
	assertStatus(t, bad, http.StatusBadRequest)
}

func TestRateLimitOnPaidCalls(t *testing.T) {
	router, _ := newTestServer(t, HandlerConfig{CallsPerMinute: 1})
	id := createSession(t, router)
	first := doJSONRequest(t, router, http.MethodPost, "/api/sessions/"+id+"/messages", map[string]string{"content": "one"}, nil)
	assertStatus(t, first, http.StatusOK)
	second := doJSONRequest(t, router, http.MethodPost, "/api/sessions/"+id+"/messages", map[string]string{"content": "two"}, nil)
	assertStatus(t, second, http.StatusTooManyRequests)
}

func TestRefusedAnalyzeDoesNotUseQuota(t *testing.T) {
	router, analyst := newTestServer(t, HandlerConfig{CallsPerMinute: 1})
	id := createSession(t, router)
	for i := 0; i < 3; i++ {
		resp := doJSONRequest(t, router, http.MethodPost, "/api/sessions/"+id+"/analyze", nil, nil)
		assertStatus(t, resp, http.StatusBadRequest)
	}
	assertStatus(t, uploadFiles(t, router, id, map[string]string{"ar.csv": "customer,amount\nAcme,1\n"}), http.StatusCreated)
	resp := doJSONRequest(t, router, http.MethodPost, "/api/sessions/"+id+"/analyze", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	if analyst.calls != 1 {
		t.Fatalf("expected one service call, got %d", analyst.calls)
	}
}

func TestUnknownSession(t *testing.T) {
	router, _ := newTestServer(t, HandlerConfig{})
	resp := doJSONRequest(t, router, http.MethodGet, "/api/sessions/6f1c5d2e-0000-4000-8000-000000000000", nil, nil)
	assertStatus(t, resp, http.StatusNotFound)
}

type sseEvent struct {
	Name string
	Data string
}

func parseSSE(t *testing.T, payload string) []sseEvent {
	t.Helper()
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	chunks := strings.Split(payload, "\n\n")
	var events []sseEvent
	for _, chunk := range chunks {
		lines := strings.Split(strings.TrimSpace(chunk), "\n")
		if len(lines) == 0 {
			continue
		}
		var evt sseEvent
		for _, line := range lines {
			switch {
			case strings.HasPrefix(line, "event:"):
				evt.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				evt.Data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
		events = append(events, evt)
	}
	return events
}

func uploadFiles(t *testing.T, router *gin.Engine, id string, files map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}
