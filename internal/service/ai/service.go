package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/config"
	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/models"
)

// Message is one conversational entry of a Request.
type Message struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

// Request mirrors a messages-style generation call.
type Request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []Message `json:"messages"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type Reply struct {
	Content []ContentBlock `json:"content"`
}

// AnalysisService is the external text-generation endpoint.
type AnalysisService interface {
	Complete(ctx context.Context, req Request) (*Reply, error)
}

// chatModelService adapts an eino chat model to AnalysisService.
type chatModelService struct {
	chatModel model.BaseChatModel
}

// NewChatModelService wraps an already constructed eino model.
func NewChatModelService(cm model.BaseChatModel) AnalysisService {
	return &chatModelService{chatModel: cm}
}

// NewService builds the chat model for the configured provider.
func NewService(ctx context.Context, cfg *config.Config) (AnalysisService, error) {
	cm, err := NewChatModel(ctx, cfg.Provider, cfg.Active(), cfg.Analysis.BatchMaxTokens)
	if err != nil {
		return nil, err
	}
	return NewChatModelService(cm), nil
}

// NewChatModel constructs the eino chat model for provider.
func NewChatModel(ctx context.Context, provider string, provCfg config.ProviderConfig, maxTokens int) (model.ToolCallingChatModel, error) {
	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: maxTokens,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return chatModel, nil
}

func (s *chatModelService) Complete(ctx context.Context, req Request) (*Reply, error) {
	opts := []model.Option{}
	if req.Model != "" {
		opts = append(opts, model.WithModel(req.Model))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	out, err := s.chatModel.Generate(ctx, convertMessages(req), opts...)
	if err != nil {
		return nil, err
	}
	return replyFromMessage(out), nil
}

func convertMessages(req Request) []*schema.Message {
	messages := make([]*schema.Message, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, schema.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		var role schema.RoleType
		switch msg.Role {
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		messages = append(messages, &schema.Message{
			Role:    role,
			Content: msg.Content,
		})
	}
	return messages
}

func replyFromMessage(msg *schema.Message) *Reply {
	reply := &Reply{}
	if msg == nil {
		return reply
	}
	if msg.Content != "" {
		reply.Content = append(reply.Content, ContentBlock{Type: "text", Text: msg.Content})
	}
	for _, part := range msg.MultiContent {
		if part.Type == schema.ChatMessagePartTypeText {
			reply.Content = append(reply.Content, ContentBlock{Type: "text", Text: part.Text})
		}
	}
	if msg.ReasoningContent != "" {
		reply.Content = append(reply.Content, ContentBlock{Type: "thinking", Text: msg.ReasoningContent})
	}
	return reply
}
