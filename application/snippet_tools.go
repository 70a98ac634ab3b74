package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"github.com/invopop/jsonschema"

	"legal-snippets/domain"
)

// SnippetToolRepository exposes the SnippetService as assistant tools.
type SnippetToolRepository struct {
	service   *SnippetService
	tools     []domain.ToolDefinition
	resources []domain.ResourceDefinition
	logger    *slog.Logger
}

var _ domain.ToolRepository = (*SnippetToolRepository)(nil)

// NewSnippetToolRepository builds the tool set. Semantic tools are only
// registered when the service can serve them.
func NewSnippetToolRepository(service *SnippetService, logger *slog.Logger) *SnippetToolRepository {
	r := &SnippetToolRepository{service: service, logger: logger}

	r.tools = []domain.ToolDefinition{
		r.createSnippetDefinition(),
		r.searchSnippetsDefinition(),
	}
	if service.SemanticEnabled() {
		r.tools = append(r.tools, r.semanticSearchDefinition())
	}
	r.tools = append(r.tools,
		r.getSnippetDefinition(),
		r.updateSnippetDefinition(),
		r.deleteSnippetDefinition(),
		r.listTagsDefinition(),
		r.exportSnippetsDefinition(),
	)
	if service.SemanticEnabled() {
		r.tools = append(r.tools, r.findSimilarDefinition())
	}

	r.resources = []domain.ResourceDefinition{{
		URI:         service.SchemaResourceURI(),
		Name:        "Legal snippets schema",
		Description: "Structure of a legal snippet and the search capabilities of this server.",
		MIMEType:    "text/plain",
		Read: func(context.Context) (string, error) {
			return service.SchemaDescription(), nil
		},
	}}
	return r
}

// GetAllTools returns every registered tool.
func (r *SnippetToolRepository) GetAllTools() []domain.ToolDefinition {
	return r.tools
}

// FindToolByName searches for a tool by its name in the repository.
func (r *SnippetToolRepository) FindToolByName(name string) (domain.ToolDefinition, bool) {
	for _, tool := range r.tools {
		if tool.Name == name {
			return tool, true
		}
	}
	return domain.ToolDefinition{}, false
}

// GetAllResources returns the published resources.
func (r *SnippetToolRepository) GetAllResources() []domain.ResourceDefinition {
	return r.resources
}

// InvokeTool runs the named tool and returns its JSON result.
func (r *SnippetToolRepository) InvokeTool(ctx context.Context, name string, input json.RawMessage) (string, error) {
	toolDef, found := r.FindToolByName(name)
	if !found {
		return "", fmt.Errorf("%w: %s", domain.ErrToolNotFound, name)
	}

	callID := uuid.NewString()
	start := time.Now()
	r.logger.Debug("tool call", "tool", name, "call_id", callID, "input", string(input))

	response, err := toolDef.Function(ctx, input)
	if err != nil {
		r.logger.Warn("tool call rejected", "tool", name, "call_id", callID, "error", err)
		return "", err
	}
	r.logger.Info("tool call", "tool", name, "call_id", callID, "duration", time.Since(start))
	return response, nil
}

// ExecuteTool executes a tool on behalf of the chat agent and wraps the
// outcome in a tool result block.
func (r *SnippetToolRepository) ExecuteTool(ctx context.Context, id, name string, input json.RawMessage) anthropic.ContentBlockParamUnion {
	response, err := r.InvokeTool(ctx, name, input)
	if err != nil {
		return anthropic.NewToolResultBlock(id, err.Error(), true)
	}
	return anthropic.NewToolResultBlock(id, response, false)
}

// GenerateSchema creates a JSON schema for the specified type T, both as an
// Anthropic tool input schema and as a raw JSON Schema document.
// The generated schema does not allow additional properties and does not create references.
func GenerateSchema[T any]() (anthropic.ToolInputSchemaParam, json.RawMessage) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T

	schema := reflector.Reflect(v)
	schema.Version = ""
	raw, err := json.Marshal(schema)
	if err != nil {
		raw = json.RawMessage(`{"type":"object"}`)
	}

	return anthropic.ToolInputSchemaParam{
		Properties: schema.Properties,
	}, raw
}

// definition assembles a ToolDefinition whose input is decoded into T.
func definition[T any](name, description string, run func(ctx context.Context, in T) (any, error)) domain.ToolDefinition {
	inputSchema, raw := GenerateSchema[T]()
	return domain.ToolDefinition{
		Name:        name,
		Description: description,
		InputSchema: inputSchema,
		RawSchema:   raw,
		Function: func(ctx context.Context, input json.RawMessage) (string, error) {
			var in T
			if len(input) > 0 && string(input) != "null" {
				if err := json.Unmarshal(input, &in); err != nil {
					return "", fmt.Errorf("invalid input for %s: %w", name, err)
				}
			}
			out, err := run(ctx, in)
			if err != nil {
				return "", err
			}
			if text, ok := out.(string); ok {
				return text, nil
			}
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
	}
}

// statusResult is the shape of create, update and delete results.
type statusResult struct {
	Status    string `json:"status"`
	SnippetID int64  `json:"snippet_id,omitempty"`
	Message   string `json:"message"`
}

type errorEntry struct {
	Error string `json:"error"`
}

func success(message string) statusResult {
	return statusResult{Status: "success", Message: message}
}

func failure(message string) statusResult {
	return statusResult{Status: "error", Message: message}
}

// mutationResult renders the outcome of update and delete.
func mutationResult(res domain.Result[struct{}], id int64, verb, done string) statusResult {
	switch {
	case res.IsOK():
		return success(fmt.Sprintf("%s snippet %d", done, id))
	case errors.Is(res.Err(), domain.ErrSnippetNotFound):
		return failure(fmt.Sprintf("Snippet %d not found", id))
	default:
		return failure(fmt.Sprintf("Failed to %s snippet: %v", verb, res.Err()))
	}
}

func (r *SnippetToolRepository) createSnippetDefinition() domain.ToolDefinition {
	return definition("create_snippet",
		"Create a new legal snippet with a citation, the key language of the case, tags, optional context and a case type (defaults to civil).",
		func(ctx context.Context, in CreateSnippetInput) (any, error) {
			res := domain.From(r.service.Create(ctx, in))
			if !res.IsOK() {
				return failure(fmt.Sprintf("Failed to create snippet: %v", res.Err())), nil
			}
			return statusResult{
				Status:    "success",
				SnippetID: res.Value(),
				Message:   fmt.Sprintf("Created snippet %d for %s", res.Value(), in.Citation),
			}, nil
		})
}

func (r *SnippetToolRepository) searchSnippetsDefinition() domain.ToolDefinition {
	return definition("search_snippets",
		"Search snippets by text (case-insensitive match on citation, key language and context) and/or tags (any of). Returns every snippet when no criteria are given, most recently updated first.",
		func(ctx context.Context, in SearchSnippetsInput) (any, error) {
			res := domain.From(r.service.Search(ctx, in.Query, in.Tags))
			if !res.IsOK() {
				return []errorEntry{{Error: fmt.Sprintf("Search failed: %v", res.Err())}}, nil
			}
			return res.Value(), nil
		})
}

func (r *SnippetToolRepository) semanticSearchDefinition() domain.ToolDefinition {
	return definition("semantic_search",
		"Find snippets whose meaning is similar to a natural-language query, ranked by cosine similarity. Results below the similarity threshold are dropped; tags restrict the candidates.",
		func(ctx context.Context, in SemanticSearchInput) (any, error) {
			res := domain.From(r.service.SemanticSearch(ctx, in))
			if !res.IsOK() {
				return []errorEntry{{Error: fmt.Sprintf("Semantic search failed: %v", res.Err())}}, nil
			}
			return res.Value(), nil
		})
}

// snippetIDInput is the input of the tools addressing one snippet.
type snippetIDInput struct {
	SnippetID int64 `json:"snippet_id" jsonschema_description:"Id of the snippet."`
}

func (r *SnippetToolRepository) getSnippetDefinition() domain.ToolDefinition {
	return definition("get_snippet",
		"Get a single snippet by id. Returns null when it does not exist.",
		func(ctx context.Context, in snippetIDInput) (any, error) {
			res := domain.From(r.service.Get(ctx, in.SnippetID))
			switch {
			case res.IsOK():
				return res.Value(), nil
			case errors.Is(res.Err(), domain.ErrSnippetNotFound):
				return nil, nil
			default:
				return errorEntry{Error: fmt.Sprintf("Failed to get snippet: %v", res.Err())}, nil
			}
		})
}

func (r *SnippetToolRepository) updateSnippetDefinition() domain.ToolDefinition {
	return definition("update_snippet",
		"Update fields of an existing snippet. Omitted fields are left unchanged; an empty context or tag list clears it.",
		func(ctx context.Context, in UpdateSnippetInput) (any, error) {
			res := domain.From(struct{}{}, r.service.Update(ctx, in.SnippetID, in.Patch()))
			return mutationResult(res, in.SnippetID, "update", "Updated"), nil
		})
}

func (r *SnippetToolRepository) deleteSnippetDefinition() domain.ToolDefinition {
	return definition("delete_snippet",
		"Delete a snippet by id.",
		func(ctx context.Context, in snippetIDInput) (any, error) {
			res := domain.From(struct{}{}, r.service.Delete(ctx, in.SnippetID))
			return mutationResult(res, in.SnippetID, "delete", "Deleted"), nil
		})
}

func (r *SnippetToolRepository) listTagsDefinition() domain.ToolDefinition {
	return definition("list_tags",
		"List every tag in use, sorted.",
		func(ctx context.Context, _ struct{}) (any, error) {
			res := domain.From(r.service.ListTags(ctx))
			if !res.IsOK() {
				return []string{fmt.Sprintf("Error: %v", res.Err())}, nil
			}
			return res.Value(), nil
		})
}

// exportInput is the input of export_snippets.
type exportInput struct {
	Format string `json:"format,omitempty" jsonschema:"enum=json,enum=text,default=json" jsonschema_description:"Export format."`
}

func (r *SnippetToolRepository) exportSnippetsDefinition() domain.ToolDefinition {
	return definition("export_snippets",
		"Export every snippet, oldest first, as JSON or as readable text.",
		func(ctx context.Context, in exportInput) (any, error) {
			res := domain.From(r.service.Export(ctx, in.Format))
			if !res.IsOK() {
				return fmt.Sprintf("Export failed: %v", res.Err()), nil
			}
			return res.Value(), nil
		})
}

// findSimilarInput is the input of find_similar_snippets.
type findSimilarInput struct {
	SnippetID int64 `json:"snippet_id" jsonschema_description:"Id of the reference snippet."`
	Limit     int   `json:"limit,omitempty" jsonschema:"default=5" jsonschema_description:"Maximum number of results."`
}

func (r *SnippetToolRepository) findSimilarDefinition() domain.ToolDefinition {
	return definition("find_similar_snippets",
		"Find snippets similar to an existing snippet. The snippet itself is never returned.",
		func(ctx context.Context, in findSimilarInput) (any, error) {
			res := domain.From(r.service.FindSimilar(ctx, in.SnippetID, in.Limit))
			switch {
			case res.IsOK():
				return res.Value(), nil
			case errors.Is(res.Err(), domain.ErrSnippetNotFound):
				return []errorEntry{{Error: fmt.Sprintf("Snippet %d not found", in.SnippetID)}}, nil
			default:
				return []errorEntry{{Error: fmt.Sprintf("Failed to find similar snippets: %v", res.Err())}}, nil
			}
		})
}
