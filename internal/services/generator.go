package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"clinical-rag/internal/models"
)

// systemPrompt keeps the assistant grounded in the supplied clinical
// context and forces a plain conversational register.
const systemPrompt = `Eres un asistente médico amigable y profesional.
Respondes en un tono conversacional, como en un chat, sin usar símbolos de Markdown.

INSTRUCCIONES:
1. Responde ÚNICAMENTE con la información del contexto clínico proporcionado.
2. Si no tienes información, di 'No tengo esa información en el historial'.
3. Usa un lenguaje claro y natural.
4. Organiza la información de forma cronológica cuando sea relevante.
5. Menciona fechas, medicamentos y diagnósticos de forma natural en el texto.
6. En lugar de listas con viñetas, escribe párrafos fluidos separados por saltos de línea.`

// StreamEvent is one item of a generation stream. Exactly one terminal
// event is emitted: Done (completion marker) or Err; the channel closes
// right after it.
type StreamEvent struct {
	Token string
	Done  bool
	Err   error
}

// Generator drives the language-model provider in blocking or streaming
// mode. Timeouts come from the caller's context; a provider timeout fails
// the exchange, it never closes the connection.
type Generator struct {
	client CompletionClient
	logger *log.Logger
}

// NewGenerator creates a generator over the given completion client.
func NewGenerator(client CompletionClient, logger *log.Logger) *Generator {
	return &Generator{client: client, logger: logger}
}

// Generate runs a blocking completion and returns the answer text and the
// model that produced it.
func (g *Generator) Generate(ctx context.Context, question, contextText string) (string, string, error) {
	answer, model, err := g.client.Complete(ctx, systemPrompt, userPrompt(question, contextText))
	if err != nil {
		return "", "", classifyGenerationError(err)
	}
	answer = strings.TrimSpace(answer)
	if len(answer) < 10 {
		return "", "", fmt.Errorf("%w: answer too short to be valid", models.ErrGenerationFailed)
	}
	return answer, model, nil
}

// GenerateStream opens a token stream for the question. Tokens are
// forwarded in provider order with no reordering; the consumer owns
// cancellation via ctx.
func (g *Generator) GenerateStream(ctx context.Context, question, contextText string) (<-chan StreamEvent, error) {
	stream, err := g.client.CompleteStream(ctx, systemPrompt, userPrompt(question, contextText))
	if err != nil {
		return nil, classifyGenerationError(err)
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		defer stream.Close()
		for {
			token, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				events <- StreamEvent{Done: true}
				return
			}
			if err != nil {
				events <- StreamEvent{Err: classifyGenerationError(err)}
				return
			}
			if token == "" {
				continue
			}
			select {
			case events <- StreamEvent{Token: token}:
			case <-ctx.Done():
				events <- StreamEvent{Err: classifyGenerationError(ctx.Err())}
				return
			}
		}
	}()
	return events, nil
}

func userPrompt(question, contextText string) string {
	return fmt.Sprintf("CONTEXTO CLÍNICO:\n%s\n\nPREGUNTA DEL USUARIO:\n%s\n\nResponde únicamente con la información del contexto.", contextText, question)
}

func classifyGenerationError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", models.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", models.ErrGenerationFailed, err)
	}
}
