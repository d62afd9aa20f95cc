package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ibarra/escucha/internal/assistant"
	"github.com/ibarra/escucha/internal/composer"
	"github.com/ibarra/escucha/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store        *storage.Store
	Orchestrator *assistant.Orchestrator
}

// NewMCPServer creates an MCP server exposing the lesson assistant as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"escucha",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("escucha: Spanish listening-comprehension assistant over ingested video lessons."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_lesson",
			mcp.WithDescription("Answer a question about an ingested video lesson using retrieval-augmented generation."),
			mcp.WithString("query", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("video_id", mcp.Description("Restrict retrieval to this video (empty = all lessons)")),
			mcp.WithString("mode", mcp.Description("Stage mode: base, raw_transcript, structured, or rag (default rag)")),
		),
		mcpAskLesson(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_quiz",
			mcp.WithDescription("Generate one multiple choice comprehension question grounded on an ingested lesson."),
			mcp.WithString("topic", mcp.Description("Topic for the question"), mcp.Required()),
			mcp.WithString("video_id", mcp.Description("Source video for grounding")),
			mcp.WithString("mode", mcp.Description("base or rag (default rag)")),
		),
		mcpGenerateQuiz(deps),
	)

	s.AddTool(
		mcp.NewTool("practice_exercise",
			mcp.WithDescription("Generate a fresh practice conversation plus a comprehension question from a lesson's conversation."),
			mcp.WithString("video_id", mcp.Description("Source video"), mcp.Required()),
			mcp.WithString("topic", mcp.Description("Optional topic hint")),
		),
		mcpPracticeExercise(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"escucha://lessons",
			"Ingested Lessons",
			mcp.WithResourceDescription("Summaries of the stored lessons as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceLessons(deps),
	)

	return s
}

func mcpAskLesson(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		videoID := req.GetString("video_id", "")

		mode, err := composer.ParseMode(req.GetString("mode", string(composer.ModeRAG)))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		answer, err := deps.Orchestrator.Ask(ctx, mode, videoID, query)
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		text := answer.Text
		if answer.Ungrounded {
			text += "\n\n(Note: answered without lesson material.)"
		}
		return mcpText(text), nil
	}
}

func mcpGenerateQuiz(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		topic, err := req.RequireString("topic")
		if err != nil {
			return mcpError("topic is required"), nil
		}
		videoID := req.GetString("video_id", "")

		mode, err := composer.ParseMode(req.GetString("mode", string(composer.ModeRAG)))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		result, err := deps.Orchestrator.Quiz(ctx, mode, videoID, topic)
		if err != nil {
			return mcpError(fmt.Sprintf("quiz generation failed: %v", err)), nil
		}

		b, err := json.MarshalIndent(mcqJSON(result.Question), "", "  ")
		if err != nil {
			return mcpError(fmt.Sprintf("failed to encode question: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpPracticeExercise(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		videoID, err := req.RequireString("video_id")
		if err != nil {
			return mcpError("video_id is required"), nil
		}
		topic := req.GetString("topic", "")

		result, err := deps.Orchestrator.Exercise(ctx, videoID, topic)
		if err != nil {
			return mcpError(fmt.Sprintf("exercise generation failed: %v", err)), nil
		}

		payload := map[string]any{
			"conversation": result.Exercise.Conversation,
			"question":     mcqJSON(result.Exercise.Question),
		}
		b, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return mcpError(fmt.Sprintf("failed to encode exercise: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceLessons(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		lessons, err := deps.Store.ListLessons(50)
		if err != nil {
			return nil, fmt.Errorf("listing lessons: %w", err)
		}

		type summary struct {
			VideoID    string `json:"video_id"`
			Language   string `json:"language"`
			Status     string `json:"status"`
			ChunkCount int    `json:"chunk_count"`
		}
		out := make([]summary, 0, len(lessons))
		for _, l := range lessons {
			out = append(out, summary{VideoID: l.VideoID, Language: l.Language, Status: l.Status, ChunkCount: l.ChunkCount})
		}

		b, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding lessons: %w", err)
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
