// Package ai proxies chat and image generation to the LLM providers. The
// service only needs "send messages, get text back"; prompt construction
// stays on the frontend.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

var ErrNotConfigured = errors.New("ai provider not configured")

const (
	openAISystemPrompt     = "Eres GOATBOT, un asistente experto y amigable. Responde en español."
	perplexitySystemPrompt = "Eres un asistente de búsqueda web preciso y conciso. Responde en español."
	perplexityBaseURL      = "https://api.perplexity.ai"
	perplexityModel        = "sonar-small-32k-online"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Prompt    string    `json:"prompt"`
	History   []Message `json:"history"`
	Model     string    `json:"model"`
	ImageData string    `json:"image_data"`
	PDFText   string    `json:"pdf_text"`
}

type Client struct {
	openai     *openai.Client
	perplexity *openai.Client
}

func New(openAIKey, perplexityKey string) *Client {
	c := &Client{}
	if openAIKey != "" {
		c.openai = openai.NewClient(openAIKey)
	}
	if perplexityKey != "" {
		cfg := openai.DefaultConfig(perplexityKey)
		cfg.BaseURL = perplexityBaseURL
		c.perplexity = openai.NewClientWithConfig(cfg)
	}
	return c
}

// UsesPerplexity reports whether the requested model routes to Perplexity.
func UsesPerplexity(model string) bool {
	return model == "perplexity" || strings.Contains(model, "sonar")
}

// Reply sends the conversation to the provider selected by the model name
// and returns the assistant's text.
func (c *Client) Reply(ctx context.Context, req ChatRequest) (string, error) {
	if UsesPerplexity(req.Model) {
		return c.perplexityReply(ctx, req)
	}
	return c.openAIReply(ctx, req)
}

func (c *Client) perplexityReply(ctx context.Context, req ChatRequest) (string, error) {
	if c.perplexity == nil {
		return "", ErrNotConfigured
	}
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: perplexitySystemPrompt},
	}
	messages = append(messages, historyMessages(req.History)...)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})
	resp, err := c.perplexity.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    perplexityModel,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) openAIReply(ctx context.Context, req ChatRequest) (string, error) {
	if c.openai == nil {
		return "", ErrNotConfigured
	}
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: openAISystemPrompt},
	}
	messages = append(messages, historyMessages(req.History)...)
	messages = append(messages, userMessage(req))

	maxTokens := 1000
	if req.ImageData != "" || req.PDFText != "" {
		maxTokens = 2048
	}
	resp, err := c.openai.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

// userMessage shapes the final user turn. Plain text normally, multi-part
// when an image is attached, and a PDF analysis preamble when extracted PDF
// text rides along with the prompt.
func userMessage(req ChatRequest) openai.ChatCompletionMessage {
	text := req.Prompt
	if req.PDFText != "" {
		text = fmt.Sprintf("Analiza el siguiente texto extraído de un PDF y luego responde a la pregunta del usuario.\n\n--- CONTENIDO DEL PDF ---\n%s\n--- FIN DEL PDF ---\n\nPregunta: %s", req.PDFText, req.Prompt)
	}
	if req.ImageData == "" {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text}
	}
	return openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: text},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: req.ImageData}},
		},
	}
}

func historyMessages(history []Message) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		if m.Role == "" || m.Content == "" {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return messages
}

// GenerateImage creates a DALL-E 3 image and returns it as a base64 data URI.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if c.openai == nil {
		return "", ErrNotConfigured
	}
	resp, err := c.openai.CreateImage(ctx, openai.ImageRequest{
		Model:          openai.CreateImageModelDallE3,
		Prompt:         prompt,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Data) == 0 {
		return "", errors.New("empty image response")
	}
	return "data:image/png;base64," + resp.Data[0].B64JSON, nil
}
