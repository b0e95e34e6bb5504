package services_test

import (
	"context"
	"errors"
	"testing"

	"fructosahel/backend/internal/services"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	req  openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
	err  error
}

func (f *fakeCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestAdvisorService_Chat(t *testing.T) {
	client := &fakeCompleter{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "  Irriguez tôt le matin.  "}}},
	}}
	advisor := services.NewAdvisorService(client, "")

	answer, err := advisor.Chat(context.Background(), services.AdvisorRequest{
		Question:    "Quand irriguer mes manguiers ?",
		FarmContext: "12 ha de manguiers près de Sikasso",
		History:     []services.AdvisorMessage{{Role: "user", Content: "Bonjour"}, {Role: "assistant", Content: "Bonjour !"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Irriguez tôt le matin.", answer)

	assert.Equal(t, openai.GPT4oMini, client.req.Model)
	require.Len(t, client.req.Messages, 5)
	assert.Equal(t, openai.ChatMessageRoleSystem, client.req.Messages[0].Role)
	assert.Contains(t, client.req.Messages[1].Content, "Sikasso")
	assert.Equal(t, openai.ChatMessageRoleUser, client.req.Messages[4].Role)
	assert.Equal(t, "Quand irriguer mes manguiers ?", client.req.Messages[4].Content)
}

func TestAdvisorService_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := services.NewOpenAIAdvisor("", "").Chat(ctx, services.AdvisorRequest{Question: "?"})
	assert.ErrorIs(t, err, services.ErrAdvisorUnavailable)

	advisor := services.NewAdvisorService(&fakeCompleter{}, "gpt-4o")
	_, err = advisor.Chat(ctx, services.AdvisorRequest{Question: "   "})
	assert.ErrorIs(t, err, services.ErrEmptyQuestion)

	_, err = advisor.Chat(ctx, services.AdvisorRequest{Question: "hello"})
	assert.EqualError(t, err, "advisor returned no answer")

	upstream := errors.New("rate limited")
	advisor = services.NewAdvisorService(&fakeCompleter{err: upstream}, "gpt-4o")
	_, err = advisor.Chat(ctx, services.AdvisorRequest{Question: "hello"})
	assert.ErrorIs(t, err, upstream)
}
