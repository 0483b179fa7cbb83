package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/adesege/factbeat/internal/heartbeat"
	"github.com/adesege/factbeat/internal/profile"
	"github.com/adesege/factbeat/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store   *storage.Store
	Profile *profile.Manager
	Runner  HeartbeatRunner
}

// NewMCPServer creates an MCP server with all factbeat tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"factbeat",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("factbeat: versioned store of atomic facts extracted from user conversations."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("get_active_facts",
			mcp.WithDescription("Return the currently active facts for a user, optionally filtered by layer."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
			mcp.WithString("layer", mcp.Description("Optional layer filter: project, area, resource, or archive")),
		),
		mcpGetActiveFacts(deps),
	)

	s.AddTool(
		mcp.NewTool("fact_history",
			mcp.WithDescription("Return the full supersession chain for one entity, newest version first."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
			mcp.WithString("entity", mcp.Description("Entity name, e.g. tax_id"), mcp.Required()),
		),
		mcpFactHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("store_message",
			mcp.WithDescription("Store a chat message and queue a heartbeat run to extract facts from it."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
			mcp.WithString("content", mcp.Description("Message text"), mcp.Required()),
			mcp.WithString("direction", mcp.Description("inbound (default) or outbound")),
		),
		mcpStoreMessage(deps),
	)

	s.AddTool(
		mcp.NewTool("run_heartbeat",
			mcp.WithDescription("Run a heartbeat for a user immediately and return the run summary."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
		),
		mcpRunHeartbeat(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"user://profiles",
			"User Profiles",
			mcp.WithResourceDescription("Natural-language fact summaries for all known users"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProfiles(deps),
	)

	return s
}

func mcpGetActiveFacts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		layer := req.GetString("layer", "")

		facts, err := deps.Store.ListActiveFacts(ctx, userID, layer)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list facts: %v", err)), nil
		}
		if len(facts) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(facts)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal facts: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpFactHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		entity, err := req.RequireString("entity")
		if err != nil {
			return mcpError("entity is required"), nil
		}

		history, err := deps.Store.FactHistory(ctx, userID, entity)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load history: %v", err)), nil
		}

		b, err := json.Marshal(history)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal history: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpStoreMessage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}
		direction := req.GetString("direction", storage.DirectionInbound)
		if direction != storage.DirectionInbound && direction != storage.DirectionOutbound {
			return mcpError("direction must be inbound or outbound"), nil
		}

		msg := storage.Message{
			ID:        uuid.New().String(),
			UserID:    userID,
			Direction: direction,
			Content:   content,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.SaveMessage(ctx, msg); err != nil {
			return mcpError(fmt.Sprintf("failed to save message: %v", err)), nil
		}

		if direction == storage.DirectionInbound {
			if _, err := heartbeat.EnqueueHeartbeat(ctx, deps.Store, userID, time.Time{}); err != nil {
				return mcpError(fmt.Sprintf("saved message but failed to queue heartbeat: %v", err)), nil
			}
		}

		return mcpText(fmt.Sprintf("Stored message %s", msg.ID)), nil
	}
}

func mcpRunHeartbeat(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		summary, err := deps.Runner.ProcessUser(ctx, userID, time.Time{})
		if err != nil {
			return mcpError(fmt.Sprintf("heartbeat failed: %v", err)), nil
		}
		deps.Profile.Invalidate(userID)

		b, err := json.Marshal(summary)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal summary: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceProfiles(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		users, err := deps.Store.ListUserIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}

		profiles := make(map[string]string, len(users))
		for _, userID := range users {
			summary, err := deps.Profile.Summary(ctx, userID)
			if err != nil {
				return nil, fmt.Errorf("failed to summarize user %s: %w", userID, err)
			}
			profiles[userID] = summary
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
