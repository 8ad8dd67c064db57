package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/models"
)

type fakeService struct {
	mu       sync.Mutex
	requests []Request
	reply    *Reply
	err      error
	block    bool
}

func (f *fakeService) Complete(ctx context.Context, req Request) (*Reply, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, fmt.Errorf("generate: %w", ctx.Err())
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

// providerError wraps an API error the way model providers do, without
// formatting it (anthropic.Error needs a live request to render).
type providerError struct{ inner error }

func (e providerError) Error() string { return "create message failed" }
func (e providerError) Unwrap() error { return e.inner }

func textReply(text string) *Reply {
	return &Reply{Content: []ContentBlock{{Type: "text", Text: text}}}
}

func TestBatchAnalyzeBuildsSingleRequest(t *testing.T) {
	svc := &fakeService{reply: textReply("overview")}
	orch := NewOrchestrator(svc, OrchestratorConfig{})
	got, err := orch.BatchAnalyze(context.Background(), []models.AnalysisFile{
		{Name: "a.csv", Text: "x,y"},
		{Name: "b.xlsx", Text: "=== SHEET: S (1 rows) ===", WasTruncated: true},
	})
	if err != nil {
		t.Fatalf("batch analyze: %v", err)
	}
	if got != "overview" {
		t.Fatalf("unexpected reply %q", got)
	}
	if len(svc.requests) != 1 {
		t.Fatalf("expected one request, got %d", len(svc.requests))
	}
	req := svc.requests[0]
	if req.Model != "claude-sonnet-4-20250514" || req.MaxTokens != 4000 {
		t.Fatalf("unexpected request params %s %d", req.Model, req.MaxTokens)
	}
	if !strings.Contains(req.System, "Margin Maven") {
		t.Fatalf("analysis system prompt missing")
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != models.RoleUser {
		t.Fatalf("unexpected messages %#v", req.Messages)
	}
	body := req.Messages[0].Content
	if !strings.HasPrefix(body, "Analyze these 2 sales/accounts receivable file(s):\n\n") {
		t.Fatalf("unexpected preamble %q", body)
	}
	if !strings.Contains(body, "FILE: a.csv\n"+strings.Repeat("=", 50)+"\nx,y") {
		t.Fatalf("missing first file banner:\n%s", body)
	}
	if !strings.Contains(body, "FILE: b.xlsx [TRUNCATED]\n") {
		t.Fatalf("missing truncation flag:\n%s", body)
	}
}

func TestContinueChatExcludesSystemTurns(t *testing.T) {
	svc := &fakeService{reply: textReply("sure")}
	orch := NewOrchestrator(svc, OrchestratorConfig{})
	prior := []models.ChatTurn{
		{Role: models.RoleSystem, Content: "1 file(s) analyzed: a.csv"},
		{Role: models.RoleAssistant, Content: "overview"},
	}
	ctxLine := FileContext([]models.FileRecord{{Name: "a.csv", SizeBytes: 2048}})
	if _, err := orch.ContinueChat(context.Background(), prior, "who owes most?", ctxLine); err != nil {
		t.Fatalf("continue chat: %v", err)
	}
	req := svc.requests[0]
	if req.MaxTokens != 2000 {
		t.Fatalf("chat max tokens: %d", req.MaxTokens)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != models.RoleAssistant || req.Messages[1].Content != "who owes most?" {
		t.Fatalf("unexpected history %#v", req.Messages)
	}
	if !strings.HasSuffix(req.System, "Context: User has uploaded 1 file(s): a.csv (2.0 KiB)") {
		t.Fatalf("file context missing: %q", req.System)
	}
}

func TestFallbackWhenNoText(t *testing.T) {
	for _, reply := range []*Reply{nil, {}, {Content: []ContentBlock{{Type: "tool_use"}, {Type: "text", Text: "  "}}}} {
		orch := NewOrchestrator(&fakeService{reply: reply}, OrchestratorConfig{})
		got, err := orch.BatchAnalyze(context.Background(), []models.AnalysisFile{{Name: "a.txt"}})
		if err != nil || got != BatchFallbackReply {
			t.Fatalf("batch fallback: %q %v", got, err)
		}
		got, err = orch.ContinueChat(context.Background(), nil, "hi", "")
		if err != nil || got != ChatFallbackReply {
			t.Fatalf("chat fallback: %q %v", got, err)
		}
	}
}

func TestServiceErrorsPropagate(t *testing.T) {
	svcErr := &ServiceError{StatusCode: http.StatusTooManyRequests, Message: "slow down"}
	orch := NewOrchestrator(&fakeService{err: svcErr}, OrchestratorConfig{})
	_, err := orch.BatchAnalyze(context.Background(), []models.AnalysisFile{{Name: "a.txt"}})
	var got *ServiceError
	if !errors.As(err, &got) || got != svcErr {
		t.Fatalf("expected the same ServiceError, got %v", err)
	}

	apiErr := &anthropic.Error{StatusCode: http.StatusUnauthorized}
	orch = NewOrchestrator(&fakeService{err: providerError{inner: apiErr}}, OrchestratorConfig{})
	_, err = orch.ContinueChat(context.Background(), nil, "hi", "")
	if !errors.As(err, &got) || got.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 ServiceError, got %v", err)
	}

	orch = NewOrchestrator(&fakeService{err: errors.New("connection reset")}, OrchestratorConfig{})
	_, err = orch.ContinueChat(context.Background(), nil, "hi", "")
	if !errors.As(err, &got) || got.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 ServiceError, got %v", err)
	}
}

func TestTimeoutIsServiceError(t *testing.T) {
	svc := &fakeService{block: true}
	orch := NewOrchestrator(svc, OrchestratorConfig{Timeout: 20 * time.Millisecond})
	_, err := orch.BatchAnalyze(context.Background(), []models.AnalysisFile{{Name: "a.txt"}})
	var got *ServiceError
	if !errors.As(err, &got) || got.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("expected timeout ServiceError, got %v", err)
	}
	if len(svc.requests) != 1 {
		t.Fatalf("timeout must not retry, got %d calls", len(svc.requests))
	}
}

func TestPromptHelpers(t *testing.T) {
	if FileContext(nil) != "" {
		t.Fatalf("empty context expected")
	}
	if got := AnalyzedSummary([]string{"a.csv", "b.xlsx"}); got != "2 file(s) analyzed: a.csv, b.xlsx" {
		t.Fatalf("summary %q", got)
	}
	if got := ChatFailureText("boom"); got != "I encountered an error: boom. Please try again." {
		t.Fatalf("chat failure %q", got)
	}
}
