package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

var (
	ErrAdvisorUnavailable = errors.New("advisor not configured")
	ErrEmptyQuestion      = errors.New("question is required")
)

const advisorSystemPrompt = `You are an agronomy advisor for smallholder and commercial farms in the Sahel (Mali, Burkina Faso, Niger, Senegal). ` +
	`Give practical, concise advice on crops such as mango, cashew, sorghum, millet, groundnut and hibiscus, ` +
	`taking into account the rainy season calendar, water scarcity and local market prices in XOF. ` +
	`Answer in the language of the question.`

// ChatCompleter is the subset of the OpenAI client the advisor uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type AdvisorMessage struct {
	Role    string `json:"role" binding:"required,oneof=user assistant"`
	Content string `json:"content" binding:"required"`
}

type AdvisorRequest struct {
	Question    string           `json:"question" binding:"required,max=4000"`
	FarmContext string           `json:"farm_context" binding:"max=4000"`
	History     []AdvisorMessage `json:"history" binding:"max=20,dive"`
}

type AdvisorService struct {
	client ChatCompleter
	model  string
}

func NewAdvisorService(client ChatCompleter, model string) *AdvisorService {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &AdvisorService{client: client, model: model}
}

// NewOpenAIAdvisor returns an advisor backed by the OpenAI API, or one that
// always reports ErrAdvisorUnavailable when apiKey is empty.
func NewOpenAIAdvisor(apiKey, model string) *AdvisorService {
	if apiKey == "" {
		return NewAdvisorService(nil, model)
	}
	return NewAdvisorService(openai.NewClient(apiKey), model)
}

func (s *AdvisorService) Available() bool {
	return s.client != nil
}

func (s *AdvisorService) Chat(ctx context.Context, req AdvisorRequest) (string, error) {
	if s.client == nil {
		return "", ErrAdvisorUnavailable
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return "", ErrEmptyQuestion
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: advisorSystemPrompt},
	}
	if farm := strings.TrimSpace(req.FarmContext); farm != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Farm context: " + farm,
		})
	}
	for _, m := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: question})

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    messages,
		Temperature: 0.4,
		MaxTokens:   800,
	})
	if err != nil {
		return "", fmt.Errorf("advisor request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("advisor returned no answer")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
