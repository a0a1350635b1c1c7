package gemini

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/vigilbot/vigil/internal/adapters/llm"
)

type API struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
	logger    *log.Entry
}

const DefaultModel = "gemini-1.5-flash"

func NewGemini(ctx context.Context, apiKey, model string, logger *log.Entry) (*API, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	api := &API{
		client: client,
		logger: logger,
	}
	api.WithModel(model)
	return api, nil
}

func (g *API) Name() string {
	return g.modelName
}

func (g *API) WithModel(modelName string) *API {
	if modelName == "" {
		modelName = DefaultModel
	}
	model := g.client.GenerativeModel(modelName)
	model.SetTemperature(0.1)
	model.SetMaxOutputTokens(1024)
	model.ResponseMIMEType = "application/json"
	g.model = model
	g.modelName = modelName
	return g
}

func (g *API) ChatCompletion(ctx context.Context, messages []llm.ChatCompletionMessage) (llm.ChatCompletionResponse, error) {
	if len(messages) == 0 {
		return llm.ChatCompletionResponse{}, fmt.Errorf("no messages")
	}

	session := g.model.StartChat()
	session.History = []*genai.Content{}

	lastMessage, history := messages[len(messages)-1], messages[:len(messages)-1]

	backupInstruction := g.model.SystemInstruction
	defer func() { g.model.SystemInstruction = backupInstruction }()

	for _, message := range history {
		if message.Role == llm.RoleSystem {
			g.model.SystemInstruction = &genai.Content{
				Parts: []genai.Part{genai.Text(message.Content)},
			}
			continue
		}
		session.History = append(session.History, &genai.Content{
			Parts: []genai.Part{genai.Text(message.Content)},
		})
	}

	resp, err := session.SendMessage(ctx, genai.Text(lastMessage.Content))
	if err != nil {
		return llm.ChatCompletionResponse{}, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return llm.ChatCompletionResponse{}, nil
	}

	response := ""
	for _, part := range resp.Candidates[0].Content.Parts {
		response += fmt.Sprintf("%v", part)
	}

	return llm.ChatCompletionResponse{
		Choices: []llm.ChatCompletionChoice{{Message: llm.ChatCompletionMessage{
			Role:    llm.RoleAssistant,
			Content: response,
		}}},
	}, nil
}
