package application

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"legal-snippets/domain"
)

// ChatbotService runs the research assistant agent in the terminal.
type ChatbotService struct {
	agent *domain.Agent
	out   io.Writer
}

// NewChatbotService creates a new ChatbotService with the given agent.
func NewChatbotService(agent *domain.Agent) *ChatbotService {
	return &ChatbotService{agent: agent, out: os.Stdout}
}

// CreateConsoleUserMessageProvider creates a UserMessageProvider reading from stdin.
func CreateConsoleUserMessageProvider() domain.UserMessageProvider {
	return NewUserMessageProvider(os.Stdin, os.Stdout)
}

// NewUserMessageProvider reads one message per line from in, printing a
// prompt to out before each read.
func NewUserMessageProvider(in io.Reader, out io.Writer) *ConsoleUserMessageProvider {
	return &ConsoleUserMessageProvider{scanner: bufio.NewScanner(in), out: out}
}

// ConsoleUserMessageProvider provides user messages from a line-oriented reader.
type ConsoleUserMessageProvider struct {
	scanner *bufio.Scanner
	out     io.Writer
}

// GetUserMessage returns the next line, or false at end of input.
func (p *ConsoleUserMessageProvider) GetUserMessage() (string, bool) {
	fmt.Fprint(p.out, "\x1b[95mYou\x1b[0m: ")
	if !p.scanner.Scan() {
		return "", false
	}
	return p.scanner.Text(), true
}

// StartChatbot prints a greeting and runs the agent until input ends.
func (s *ChatbotService) StartChatbot(ctx context.Context) error {
	fmt.Fprintln(s.out, "Chat with Claude about your legal snippets (use 'ctrl-c' to quit)")
	return s.agent.Run(ctx)
}
