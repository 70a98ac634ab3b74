package domain

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
)

// ToolDefinition represents a tool exposed to the assistant host.
// It includes the tool's name, a description of what it does, the schema
// for the input it expects (both as an Anthropic schema and as raw JSON
// Schema for other transports), and the function to execute when the tool
// is called. Function returns the JSON-encoded result; an error is only
// returned when the input cannot be decoded.
type ToolDefinition struct {
	Name        string                                                           `json:"name"`
	Description string                                                           `json:"description"`
	InputSchema anthropic.ToolInputSchemaParam                                   `json:"-"`
	RawSchema   json.RawMessage                                                  `json:"input_schema"`
	Function    func(ctx context.Context, input json.RawMessage) (string, error) `json:"-"`
}

// ResourceDefinition is a read-only document published to the host.
type ResourceDefinition struct {
	URI         string                                    `json:"uri"`
	Name        string                                    `json:"name"`
	Description string                                    `json:"description"`
	MIMEType    string                                    `json:"mime_type"`
	Read        func(ctx context.Context) (string, error) `json:"-"`
}

// ToolRepository defines the interface for interacting with tools.
// It provides methods for retrieving, finding, and executing tools.
type ToolRepository interface {
	GetAllTools() []ToolDefinition

	FindToolByName(name string) (ToolDefinition, bool)

	GetAllResources() []ResourceDefinition

	// InvokeTool runs a tool and returns its JSON result.
	InvokeTool(ctx context.Context, name string, input json.RawMessage) (string, error)

	// ExecuteTool runs a tool on behalf of the Anthropic agent loop.
	ExecuteTool(ctx context.Context, id, name string, input json.RawMessage) anthropic.ContentBlockParamUnion
}
