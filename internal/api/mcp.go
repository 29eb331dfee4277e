package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kinemalab/kinema/internal/quiz"
)

// MCPDeps holds the dependencies the MCP tools operate on.
type MCPDeps struct {
	Lessons LessonService
	History HistoryReader // optional
}

// historyResourceLimit caps how many lessons the history resource exposes.
const historyResourceLimit = 20

// NewMCPServer builds the MCP server exposing lesson generation to agent
// clients over stdio.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"kinema",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("kinema turns a concept into a short animated explanation video and quizzes the viewer on it. Call explain with a concept, show the video, then verify the viewer's answer with check_answer. A wrong answer replaces the lesson with a simpler one."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("explain",
			mcp.WithDescription("Generate an animated explanation video for a concept, plus a one-question comprehension check. Returns the task id, video URL and the quiz question."),
			mcp.WithString("text",
				mcp.Description("The concept or question to explain"),
				mcp.Required(),
			),
		),
		mcpExplain(deps),
	)

	s.AddTool(
		mcp.NewTool("check_answer",
			mcp.WithDescription("Check the viewer's answer to a pending quiz question. A wrong answer triggers a simpler re-explanation and a fresh question."),
			mcp.WithString("task_id",
				mcp.Description("The quiz task id returned by explain"),
				mcp.Required(),
			),
			mcp.WithString("answer",
				mcp.Description("The viewer's answer"),
				mcp.Required(),
			),
		),
		mcpCheckAnswer(deps),
	)

	s.AddTool(
		mcp.NewTool("regenerate",
			mcp.WithDescription("Re-explain the concept behind a pending quiz task in simpler terms, replacing the task with a new one."),
			mcp.WithString("task_id",
				mcp.Description("The quiz task id returned by explain"),
				mcp.Required(),
			),
		),
		mcpRegenerate(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"kinema://history",
			"Lesson History",
			mcp.WithResourceDescription("Recently generated lessons with their quiz questions and outcomes"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceHistory(deps),
	)

	return s
}

func mcpExplain(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		res, err := deps.Lessons.Explain(ctx, text)
		if err != nil {
			return mcpError(fmt.Sprintf("explanation failed: %v", err)), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpCheckAnswer(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return mcpError("task_id is required"), nil
		}
		answer, err := req.RequireString("answer")
		if err != nil {
			return mcpError("answer is required"), nil
		}

		res, err := deps.Lessons.CheckAnswer(ctx, quiz.TaskID(taskID), answer)
		if err != nil {
			return mcpError(fmt.Sprintf("answer check failed: %v", err)), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRegenerate(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return mcpError("task_id is required"), nil
		}

		res, err := deps.Lessons.Regenerate(ctx, quiz.TaskID(taskID))
		if err != nil {
			return mcpError(fmt.Sprintf("regeneration failed: %v", err)), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		type entry struct {
			ID        string    `json:"id"`
			CreatedAt time.Time `json:"created_at"`
			Concept   string    `json:"concept"`
			Question  string    `json:"question"`
			Kind      string    `json:"kind"`
			Outcome   string    `json:"outcome"`
		}

		entries := []entry{}
		if deps.History != nil {
			lessons, err := deps.History.RecentLessons(historyResourceLimit)
			if err != nil {
				return nil, fmt.Errorf("listing lessons: %w", err)
			}
			for _, l := range lessons {
				entries = append(entries, entry{
					ID:        l.ID,
					CreatedAt: l.CreatedAt,
					Concept:   truncate(l.Concept, 200),
					Question:  l.Question,
					Kind:      l.Kind,
					Outcome:   l.Outcome,
				})
			}
		}

		b, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling history: %w", err)
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

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: message},
		},
		IsError: true,
	}
}
