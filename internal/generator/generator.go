// Package generator формирует ответы ассистента через Gemini API.
package generator

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/magabrotheeeer/neuze-bot/internal/models"
)

const defaultTemperature = 0.7

// Режимы ответа ассистента.
const (
	ModeDefault  = "default"
	ModeBrief    = "brief"
	ModeDetailed = "detailed"
)

const systemPrompt = `Ты — дружелюбный ассистент в Telegram. Отвечай на русском языке,
по существу и без лишних вступлений. Если вопрос неясен, уточни его.
Не выдумывай факты, в которых не уверен.`

var modePrompts = map[string]string{
	ModeBrief:    "Отвечай максимально кратко, в два-три предложения.",
	ModeDetailed: "Отвечай развернуто, с примерами и пояснениями.",
}

// Generator клиент генерации ответов на основе Gemini.
type Generator struct {
	client *genai.Client
	model  string
}

// New создает генератор с указанной моделью Gemini.
func New(ctx context.Context, apiKey, model string) (*Generator, error) {
	const op = "generator.New"

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Generator{client: client, model: model}, nil
}

// buildHistory переводит сохраненные сообщения диалога в формат Gemini.
// Последнее сообщение не включается, оно уходит отдельно в SendMessage.
func buildHistory(messages []*models.Message) []*genai.Content {
	history := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.RoleModel
		if m.IsFromUser {
			role = genai.RoleUser
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return history
}

// Generate строит ответ на сообщение пользователя с учетом истории
// диалога и выбранного режима ответа.
func (g *Generator) Generate(ctx context.Context, history []*models.Message, userMessage, mode string) (string, error) {
	const op = "generator.Generate"

	prompt := systemPrompt
	if extra, ok := modePrompts[mode]; ok {
		prompt = prompt + "\n" + extra
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](defaultTemperature),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	chat, err := g.client.Chats.Create(ctx, g.model, config, buildHistory(history))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	result, err := chat.SendMessage(ctx, genai.Part{Text: userMessage})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", fmt.Errorf("%s: empty response from model", op)
	}
	return text, nil
}
