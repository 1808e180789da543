package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"industrychat/internal/extract"
	"industrychat/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Retriever ChunkRetriever
	Ingestor  Ingestor
}

// NewMCPServer creates an MCP server exposing the document base to agent
// clients: semantic search, text ingestion, and the profile list.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"industrychat",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("industrychat — retrieval-augmented document base organized by industry profile."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_documents",
			mcp.WithDescription("Semantically search a profile's ingested documents and return relevant chunks."),
			mcp.WithString("profile_id", mcp.Description("Industry profile to search"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("add_document",
			mcp.WithDescription("Ingest a text document into a profile's document base."),
			mcp.WithString("profile_id", mcp.Description("Industry profile that owns the document"), mcp.Required()),
			mcp.WithString("name", mcp.Description("Document name, used in citations"), mcp.Required()),
			mcp.WithString("text", mcp.Description("The document text"), mcp.Required()),
		),
		mcpAddDocument(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"profiles://list",
			"Industry Profiles",
			mcp.WithResourceDescription("All configured industry profiles as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProfiles(deps),
	)

	return s
}

func mcpSearchDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		profileID, err := req.RequireString("profile_id")
		if err != nil {
			return mcpError("profile_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		profile, err := deps.Store.GetProfile(profileID)
		if err != nil {
			return mcpError(fmt.Sprintf("profile lookup failed: %v", err)), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 20 {
			limit = 20
		}
		profile.TopK = limit

		chunks, err := deps.Retriever.Retrieve(ctx, query, profile)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(chunks) == 0 {
			return mcpText("[]"), nil
		}

		type chunkResult struct {
			Source  string  `json:"source"`
			URL     string  `json:"url,omitempty"`
			Content string  `json:"content"`
			Score   float32 `json:"score"`
		}
		results := make([]chunkResult, len(chunks))
		for i, c := range chunks {
			results[i] = chunkResult{
				Source:  c.SourceName,
				URL:     c.SourceURL,
				Content: c.Content,
				Score:   c.Score,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		profileID, err := req.RequireString("profile_id")
		if err != nil {
			return mcpError("profile_id is required"), nil
		}
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		if _, err := deps.Store.GetProfile(profileID); err != nil {
			return mcpError(fmt.Sprintf("profile lookup failed: %v", err)), nil
		}

		ds := storage.DataSource{
			ID:                uuid.NewString(),
			IndustryProfileID: profileID,
			Name:              name,
			Type:              "text",
			Content:           text,
			CreatedAt:         time.Now().UTC(),
		}
		if err := deps.Store.SaveDataSource(ds); err != nil {
			return mcpError(fmt.Sprintf("failed to save document: %v", err)), nil
		}

		src := extract.Source{Type: extract.TypeText, Name: name, Text: text}
		n, err := deps.Ingestor.Ingest(ctx, src, sourceMeta(ds))
		if err != nil {
			_ = deps.Store.DeleteDataSource(ds.ID)
			return mcpError(fmt.Sprintf("ingestion failed: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Ingested %q as %d chunks (data source %s)", name, n, ds.ID)), nil
	}
}

func mcpResourceProfiles(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		profiles, err := deps.Store.ListProfiles()
		if err != nil {
			return nil, fmt.Errorf("failed to list profiles: %w", err)
		}
		if profiles == nil {
			profiles = []storage.IndustryProfile{}
		}

		b, err := json.Marshal(profiles)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profiles: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
