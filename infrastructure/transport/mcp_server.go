// Package transport publishes a domain.ToolRepository over MCP stdio and HTTP.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"legal-snippets/domain"
)

// NewMCPServer registers every tool and resource of repo on an MCP server.
func NewMCPServer(repo domain.ToolRepository, name, version string) *server.MCPServer {
	s := server.NewMCPServer(name, version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
	)

	for _, tool := range repo.GetAllTools() {
		s.AddTool(mcp.NewToolWithRawSchema(tool.Name, tool.Description, tool.RawSchema), toolHandler(repo, tool.Name))
	}
	for _, res := range repo.GetAllResources() {
		s.AddResource(
			mcp.NewResource(res.URI, res.Name,
				mcp.WithResourceDescription(res.Description),
				mcp.WithMIMEType(res.MIMEType),
			),
			resourceHandler(res),
		)
	}
	return s
}

// toolHandler adapts a repository tool to the MCP call signature. Rejected
// input becomes an error result rather than a protocol failure.
func toolHandler(repo domain.ToolRepository, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, err := json.Marshal(req.Params.Arguments)
		if err != nil {
			return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
		}
		result, err := repo.InvokeTool(ctx, name, input)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(result), nil
	}
}

func resourceHandler(res domain.ResourceDefinition) server.ResourceHandlerFunc {
	return func(ctx context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		text, err := res.Read(ctx)
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: res.URI, MIMEType: res.MIMEType, Text: text},
		}, nil
	}
}

// ServeStdio serves s over in and out until ctx is cancelled or in is closed.
// Protocol errors are written to logger, never to out.
func ServeStdio(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer, logger *slog.Logger) error {
	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))

	logger.Info("serving MCP over stdio")
	err := stdio.Listen(ctx, in, out)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
