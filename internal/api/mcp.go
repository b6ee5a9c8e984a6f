package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/tutord/internal/quiz"
	"github.com/kalambet/tutord/internal/retrieval"
	"github.com/kalambet/tutord/internal/social"
	"github.com/kalambet/tutord/internal/storage"
)

// MCPRetriever abstracts textbook context lookup for the MCP layer.
type MCPRetriever interface {
	Retrieve(ctx context.Context, userID, subjectID string) ([]retrieval.ContextChunk, error)
}

// MCPQuizGenerator abstracts quiz generation.
type MCPQuizGenerator interface {
	Generate(ctx context.Context, conversationID, userID string) (quiz.Result, error)
}

// MCPLeaderboard abstracts leaderboard lookup.
type MCPLeaderboard interface {
	Leaderboard(ctx context.Context, userID, sortBy string) ([]social.Entry, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Retriever MCPRetriever
	Quiz      MCPQuizGenerator // optional; if nil, generate_quiz returns an error
	Social    MCPLeaderboard
}

// NewMCPServer creates an MCP server with the tutord tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"tutord",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("tutord: History and Geography tutor with textbook search, quizzes and leaderboards."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_textbook",
			mcp.WithDescription("Return the textbook passages a student has uploaded for a subject."),
			mcp.WithString("userId", mcp.Description("Student user ID"), mcp.Required()),
			mcp.WithString("subject", mcp.Description("Subject ID or name, e.g. history or Geography"), mcp.Required()),
		),
		mcpSearchTextbook(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_quiz",
			mcp.WithDescription("Generate a multiple-choice quiz from a conversation."),
			mcp.WithString("conversationId", mcp.Description("Conversation to quiz on"), mcp.Required()),
			mcp.WithString("userId", mcp.Description("Owner of the conversation"), mcp.Required()),
		),
		mcpGenerateQuiz(deps),
	)

	s.AddTool(
		mcp.NewTool("leaderboard",
			mcp.WithDescription("Rank a student and their friends by points."),
			mcp.WithString("userId", mcp.Description("Student user ID"), mcp.Required()),
			mcp.WithString("sort", mcp.Description("total, content or activity (default total)")),
		),
		mcpLeaderboard(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"subjects://list",
			"Subjects",
			mcp.WithResourceDescription("Supported subjects as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSubjects(deps),
	)

	return s
}

func mcpSearchTextbook(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("userId")
		if err != nil {
			return mcpError("userId is required"), nil
		}
		subjectArg, err := req.RequireString("subject")
		if err != nil {
			return mcpError("subject is required"), nil
		}

		subject, err := deps.Store.GetSubject(ctx, subjectArg)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("unknown subject %q", subjectArg)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("loading subject: %v", err)), nil
		}

		chunks, err := deps.Retriever.Retrieve(ctx, userID, subject.ID)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(chunks) == 0 {
			return mcpText("[]"), nil
		}

		type chunkResult struct {
			TextbookID string `json:"textbook_id"`
			Title      string `json:"title"`
			Page       int    `json:"page"`
			Text       string `json:"text"`
		}
		results := make([]chunkResult, len(chunks))
		for i, c := range chunks {
			results[i] = chunkResult{TextbookID: c.TextbookID, Title: c.Title, Page: c.Page, Text: c.Text}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGenerateQuiz(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Quiz == nil {
			return mcpError("quiz generation not available: no gateway API key configured"), nil
		}
		convID, err := req.RequireString("conversationId")
		if err != nil {
			return mcpError("conversationId is required"), nil
		}
		userID, err := req.RequireString("userId")
		if err != nil {
			return mcpError("userId is required"), nil
		}

		res, err := deps.Quiz.Generate(ctx, convID, userID)
		if err != nil {
			_, msg := statusFor(err)
			return mcpError(msg), nil
		}
		return mcpText(fmt.Sprintf("Created quiz %s with %d questions", res.QuizID, res.TotalQuestions)), nil
	}
}

func mcpLeaderboard(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("userId")
		if err != nil {
			return mcpError("userId is required"), nil
		}
		entries, err := deps.Social.Leaderboard(ctx, userID, req.GetString("sort", social.SortTotal))
		if err != nil {
			return mcpError(fmt.Sprintf("leaderboard failed: %v", err)), nil
		}
		b, err := json.Marshal(entries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal leaderboard: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceSubjects(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		subjects, err := deps.Store.ListSubjects(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list subjects: %w", err)
		}
		b, err := json.Marshal(subjects)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal subjects: %w", err)
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
