package services

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// EmbeddingClient is the provider surface the embedding service needs.
type EmbeddingClient interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// CompletionClient is the provider surface the answer generator needs.
// Complete returns the full answer and the model that produced it;
// CompleteStream returns a token stream terminated by io.EOF.
type CompletionClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, string, error)
	CompleteStream(ctx context.Context, systemPrompt, userPrompt string) (CompletionStream, error)
}

// CompletionStream yields answer fragments in order. Recv returns io.EOF
// after the provider's end marker.
type CompletionStream interface {
	Recv() (string, error)
	Close() error
}

// OpenAIClient implements EmbeddingClient and CompletionClient against the
// OpenAI API.
type OpenAIClient struct {
	client     *openai.Client
	chatModel  string
	embedModel openai.EmbeddingModel
	maxTokens  int
}

// NewOpenAIClient constructs a client for the given models.
func NewOpenAIClient(apiKey, chatModel, embedModel string, maxTokens int) *OpenAIClient {
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}
	if embedModel == "" {
		embedModel = string(openai.SmallEmbedding3)
	}
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return &OpenAIClient{
		client:     openai.NewClient(apiKey),
		chatModel:  chatModel,
		embedModel: openai.EmbeddingModel(embedModel),
		maxTokens:  maxTokens,
	}
}

// CreateEmbedding embeds a single text.
func (c *OpenAIClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: c.embedModel,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("embedding response was empty")
	}
	return resp.Data[0].Embedding, nil
}

// Complete runs a blocking chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.chatModel,
		MaxTokens:   c.maxTokens,
		Temperature: 0.3,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", "", errors.New("completion response had no choices")
	}
	return resp.Choices[0].Message.Content, resp.Model, nil
}

// CompleteStream opens a streaming chat completion.
func (c *OpenAIClient) CompleteStream(ctx context.Context, systemPrompt, userPrompt string) (CompletionStream, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       c.chatModel,
		MaxTokens:   c.maxTokens,
		Temperature: 0.3,
		Stream:      true,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open completion stream: %w", err)
	}
	return &openAIStream{stream: stream}, nil
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			// io.EOF passes through as the end marker.
			return "", err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}
