package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	domai "github.com/calyxbio/embryograde/internal/domain/ai"
	"github.com/calyxbio/embryograde/internal/domain/chat"
	"github.com/calyxbio/embryograde/internal/infra/ai/prompt"
)

const maxTokens = 2048

type Client struct {
	*openai.Client
	Model   string
	limiter *rate.Limiter
}

// NewClient wraps the OpenAI SDK client. requestsPerMinute throttles
// outbound calls across grading and chat; zero disables the throttle.
func NewClient(apiKey, model string, requestsPerMinute int) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute)
	}
	return &Client{Client: openai.NewClient(apiKey), Model: model, limiter: limiter}
}

// Grade sends the media frames plus patient context to the vision model and
// returns the raw assessment JSON.
func (c *Client) Grade(ctx context.Context, req domai.GradeRequest) (string, error) {
	if len(req.Frames) == 0 {
		return "", fmt.Errorf("no frames to grade")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	parts := []openai.ChatMessagePart{
		{
			Type: openai.ChatMessagePartTypeText,
			Text: prompt.GradingUserPrompt(req.MediaKind, len(req.Frames), req.MaternalAge, req.RetrievalDate),
		},
	}
	for _, frame := range req.Frames {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(frame),
				Detail: openai.ImageURLDetailHigh,
			},
		})
	}

	creq := openai.ChatCompletionRequest{
		Model: c.model(),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.GradingSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
	}
	setTokenLimit(&creq)

	resp, err := c.CreateChatCompletion(ctx, creq)
	if err != nil {
		return "", mapErr(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// Chat forwards the transcript plus the new message to the model. With
// useSearch the model is asked to return a JSON envelope carrying source
// citations; otherwise the reply is plain text.
func (c *Client) Chat(ctx context.Context, history []*chat.Turn, message, grounding string, useSearch bool) (domai.ChatReply, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domai.ChatReply{}, err
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: prompt.ChatSystemPrompt(grounding)},
	}
	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.Role == chat.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Text})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})

	creq := openai.ChatCompletionRequest{
		Model:    c.model(),
		Messages: messages,
	}
	if useSearch {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
		creq.Messages[0].Content += `

Consult current literature where relevant and respond as a single JSON object: {"text": "<answer>", "citations": [{"uri": "<url>", "title": "<title>"}]}. Use an empty citations array when no sources apply.`
	}
	setTokenLimit(&creq)

	resp, err := c.CreateChatCompletion(ctx, creq)
	if err != nil {
		return domai.ChatReply{}, mapErr(err)
	}
	if len(resp.Choices) == 0 {
		return domai.ChatReply{}, fmt.Errorf("no completion choices returned")
	}
	content := resp.Choices[0].Message.Content

	if useSearch {
		var envelope domai.ChatReply
		if err := json.Unmarshal([]byte(content), &envelope); err == nil && envelope.Text != "" {
			return envelope, nil
		}
		// Model ignored the envelope instruction; fall through to plain text.
	}
	return domai.ChatReply{Text: content}, nil
}

func (c *Client) model() string {
	if c.Model == "" {
		return "gpt-4o-2024-08-06"
	}
	return c.Model
}

// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
func setTokenLimit(req *openai.ChatCompletionRequest) {
	m := req.Model
	if strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4") || strings.HasPrefix(m, "gpt-5") {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}
}

func mapErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", domai.ErrQuotaExceeded, err)
	}
	return fmt.Errorf("failed to create chat completion: %w", err)
}
