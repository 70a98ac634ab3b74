package domain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// UserMessageProvider is an interface that provides user messages.
// It is used to abstract the source of user messages, allowing the agent
// to receive input from the console or from tests.
type UserMessageProvider interface {
	GetUserMessage() (string, bool)
}

// AIClient defines the interface for interacting with an AI model.
// It provides a method to run inference on a given conversation and set of tools.
type AIClient interface {
	RunInference(ctx context.Context, conversation []anthropic.MessageParam, tools []ToolDefinition) (*anthropic.Message, error)
}

// SnippetRetriever finds stored snippets related to free text.
type SnippetRetriever interface {
	RelatedSnippets(ctx context.Context, text string, k int) ([]ScoredSnippet, error)
}

// Agent orchestrates the interaction between the user, the AI client,
// and the snippet tools, using semantic search for context when available.
type Agent struct {
	AIClient            AIClient
	UserMessageProvider UserMessageProvider
	ToolRepository      ToolRepository
	Retriever           SnippetRetriever // Optional
	Output              func(format string, args ...any)
	Logger              *slog.Logger
}

// NewAgent creates a new Agent with the provided dependencies. retriever may be nil.
func NewAgent(aiClient AIClient, userMessageProvider UserMessageProvider, toolRepository ToolRepository, retriever SnippetRetriever, logger *slog.Logger) *Agent {
	return &Agent{
		AIClient:            aiClient,
		UserMessageProvider: userMessageProvider,
		ToolRepository:      toolRepository,
		Retriever:           retriever,
		Output: func(format string, args ...any) {
			fmt.Printf(format, args...)
		},
		Logger: logger,
	}
}

const (
	maxContextLength = 2000
	contextTopK      = 3
)

// formatSnippets formats retrieved snippets into a string for the prompt context.
func formatSnippets(snippets []ScoredSnippet) string {
	if len(snippets) == 0 {
		return ""
	}
	var contextBuilder strings.Builder
	contextBuilder.WriteString("Stored research snippets related to the question:\n\n")
	currentLength := 0
	for _, s := range snippets {
		header := fmt.Sprintf("--- Snippet %d: %s (similarity %.2f) ---\n", s.ID, s.Citation, s.SimilarityScore)
		body := fmt.Sprintf("%q\nTags: %s\n\n", s.KeyLanguage, strings.Join(s.Tags, ", "))

		if currentLength+len(header)+len(body) > maxContextLength {
			contextBuilder.WriteString("... (omitting further snippets due to length limit)\n")
			break
		}

		contextBuilder.WriteString(header)
		contextBuilder.WriteString(body)
		currentLength += len(header) + len(body)
	}
	return contextBuilder.String()
}

// Run executes the agent's main loop, interacting with the user and the AI client.
//
// Each user turn goes through observe (user input plus related snippets),
// reason (inference), and act (tool calls), repeating until the model
// answers without calling a tool. The loop ends when the user stops
// providing input.
func (a *Agent) Run(ctx context.Context) error {
	conversation := []anthropic.MessageParam{}

	for {
		userInput, ok := a.UserMessageProvider.GetUserMessage()
		if !ok {
			break
		}

		messageContent := userInput
		if related := a.relatedContext(ctx, userInput); related != "" {
			messageContent = fmt.Sprintf("%s\nUser Query:\n%s", related, userInput)
			a.Output("\x1b[32mInjecting Context:\n%s\x1b[0m", related)
		}
		conversation = append(conversation, anthropic.NewUserMessage(anthropic.NewTextBlock(messageContent)))

		for {
			a.Output("\x1b[34mThinking...\x1b[0m\n")
			message, err := a.AIClient.RunInference(ctx, conversation, a.ToolRepository.GetAllTools())
			if err != nil {
				return err
			}
			conversation = append(conversation, message.ToParam())

			toolResults := []anthropic.ContentBlockParamUnion{}
			for _, content := range message.Content {
				switch content.Type {
				case "text":
					a.Output("\x1b[36mClaude: %s\x1b[0m\n", content.Text)
				case "tool_use":
					a.Output("\x1b[33mExecuting: %s\x1b[0m\n", content.Name)
					toolResults = append(toolResults, a.ToolRepository.ExecuteTool(ctx, content.ID, content.Name, content.Input))
				}
			}

			if len(toolResults) == 0 {
				break
			}
			conversation = append(conversation, anthropic.NewUserMessage(toolResults...))
		}
	}

	return nil
}

// relatedContext returns the formatted snippets most similar to text, or ""
// when no retriever is configured or retrieval fails.
func (a *Agent) relatedContext(ctx context.Context, text string) string {
	if a.Retriever == nil {
		return ""
	}
	snippets, err := a.Retriever.RelatedSnippets(ctx, text, contextTopK)
	if err != nil {
		if a.Logger != nil {
			a.Logger.Warn("snippet retrieval failed, continuing without context", "error", err)
		}
		return ""
	}
	return formatSnippets(snippets)
}
