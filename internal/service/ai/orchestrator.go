package ai

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/config"
	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/models"
)

// Orchestrator turns batches and chat turns into single service calls.
// It holds no session state and never retries.
type Orchestrator struct {
	service        AnalysisService
	model          string
	batchMaxTokens int
	chatMaxTokens  int
	timeout        time.Duration
}

type OrchestratorConfig struct {
	Model          string
	BatchMaxTokens int
	ChatMaxTokens  int
	Timeout        time.Duration
}

// OrchestratorConfigFrom reads the analysis settings of cfg.
func OrchestratorConfigFrom(cfg *config.Config) OrchestratorConfig {
	return OrchestratorConfig{
		Model:          cfg.Active().Model,
		BatchMaxTokens: cfg.Analysis.BatchMaxTokens,
		ChatMaxTokens:  cfg.Analysis.ChatMaxTokens,
		Timeout:        cfg.ServiceTimeout(),
	}
}

func NewOrchestrator(service AnalysisService, cfg OrchestratorConfig) *Orchestrator {
	if cfg.Model == "" {
		cfg.Model = config.DefaultModel
	}
	if cfg.BatchMaxTokens <= 0 {
		cfg.BatchMaxTokens = config.DefaultBatchMaxTokens
	}
	if cfg.ChatMaxTokens <= 0 {
		cfg.ChatMaxTokens = config.DefaultChatMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultServiceTimeout
	}
	return &Orchestrator{
		service:        service,
		model:          cfg.Model,
		batchMaxTokens: cfg.BatchMaxTokens,
		chatMaxTokens:  cfg.ChatMaxTokens,
		timeout:        cfg.Timeout,
	}
}

// BatchAnalyze sends all files in one request and returns the reply text.
func (o *Orchestrator) BatchAnalyze(ctx context.Context, files []models.AnalysisFile) (string, error) {
	if len(files) == 0 {
		return "", errors.New("batch has no files")
	}
	req := Request{
		Model:     o.model,
		MaxTokens: o.batchMaxTokens,
		System:    analysisSystemPrompt,
		Messages:  []Message{{Role: models.RoleUser, Content: BatchUserPrompt(files)}},
	}
	return o.call(ctx, req, BatchFallbackReply)
}

// ContinueChat sends the running conversation plus the new user text.
// System turns in prior are ignored.
func (o *Orchestrator) ContinueChat(ctx context.Context, prior []models.ChatTurn, userText, fileContext string) (string, error) {
	turns := models.Conversational(prior)
	messages := make([]Message, 0, len(turns)+1)
	for _, t := range turns {
		messages = append(messages, Message{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, Message{Role: models.RoleUser, Content: userText})
	req := Request{
		Model:     o.model,
		MaxTokens: o.chatMaxTokens,
		System:    chatSystemPrompt + fileContext,
		Messages:  messages,
	}
	return o.call(ctx, req, ChatFallbackReply)
}

func (o *Orchestrator) call(ctx context.Context, req Request, fallback string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	reply, err := o.service.Complete(callCtx, req)
	if err != nil {
		svcErr := AsServiceError(err)
		log.Printf("analysis service call failed after %s: %v", time.Since(start).Round(time.Millisecond), svcErr)
		return "", svcErr
	}
	return firstText(reply, fallback), nil
}

func firstText(reply *Reply, fallback string) string {
	if reply == nil {
		return fallback
	}
	for _, block := range reply.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			return block.Text
		}
	}
	return fallback
}
