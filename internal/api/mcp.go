package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer exposes the shell's state to local assistants. The surface is
// read-only: tools and resources report state, nothing mutates through MCP.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"lantern",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("lantern — local application shell state: session, theme, and profile."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("session_status",
			mcp.WithDescription("Report the current authentication state and signed-in user."),
		),
		mcpSessionStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("effective_theme",
			mcp.WithDescription("Report the explicit theme preference and the effective color scheme."),
		),
		mcpEffectiveTheme(deps),
	)

	s.AddTool(
		mcp.NewTool("get_profile",
			mcp.WithDescription("Return the cached profile record for the signed-in user."),
		),
		mcpGetProfile(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"shell://session",
			"Session",
			mcp.WithResourceDescription("Current session state as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceJSON(func() (any, error) {
			return sessionPayload(deps.Sessions.Current()), nil
		}),
	)

	s.AddResource(
		mcp.NewResource(
			"shell://theme",
			"Theme",
			mcp.WithResourceDescription("Theme preference and effective scheme as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceJSON(func() (any, error) {
			return deps.Theme.Current(), nil
		}),
	)

	s.AddResource(
		mcp.NewResource(
			"shell://profile",
			"Profile",
			mcp.WithResourceDescription("Cached profile record as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceJSON(func() (any, error) {
			p := deps.Profile()
			if p == nil {
				return nil, fmt.Errorf("no user signed in")
			}
			rec := p.Cached()
			if rec == nil {
				return nil, fmt.Errorf("profile not loaded yet")
			}
			return rec, nil
		}),
	)

	return s
}

func mcpSessionStatus(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(sessionPayload(deps.Sessions.Current()))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal session: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpEffectiveTheme(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(deps.Theme.Current())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal theme: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetProfile(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		p := deps.Profile()
		if p == nil {
			return mcpError("no user signed in"), nil
		}
		rec := p.Cached()
		if rec == nil {
			return mcpError("profile not loaded yet"), nil
		}
		b, err := json.Marshal(rec)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal profile: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceJSON(fetch func() (any, error)) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		v, err := fetch()
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshalling resource: %w", err)
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
