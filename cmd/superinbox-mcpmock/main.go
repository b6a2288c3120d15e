// superinbox-mcpmock is a stdio tool server for local development. It
// exposes create_task and create_page tools that record calls in memory
// and answer with a fabricated external reference, so a destination can
// be configured and dispatched against without real credentials:
//
//	[adapters.mock]
//	protocol = "mcp"
//	command = "superinbox-mcpmock"
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

var version = "dev"

func main() {
	s := server.NewMCPServer(
		"superinbox-mcpmock",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	var seq atomic.Int64

	taskTool := mcp.NewTool("create_task",
		mcp.WithDescription("Create a task in the mock destination."),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Task title"),
		),
		mcp.WithString("content",
			mcp.Description("Task body"),
		),
		mcp.WithString("due_date",
			mcp.Description("Due date in YYYY-MM-DD form"),
		),
	)
	s.AddTool(taskTool, makeHandler("task", &seq))

	pageTool := mcp.NewTool("create_page",
		mcp.WithDescription("Create a page in the mock destination."),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Page title"),
		),
		mcp.WithString("content",
			mcp.Description("Page body"),
		),
	)
	s.AddTool(pageTool, makeHandler("page", &seq))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// makeHandler answers every call with a JSON reference in the shape the
// subprocess adapter parses: {"id": ..., "url": ...}.
func makeHandler(kind string, seq *atomic.Int64) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title := req.GetString("title", "")
		if title == "" {
			return mcp.NewToolResultError("'title' is required"), nil
		}

		id := fmt.Sprintf("mock_%s_%d", kind, seq.Add(1))
		ref, err := json.Marshal(map[string]string{
			"id":  id,
			"url": "https://mock.local/" + id,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encoding reference: %v", err)), nil
		}

		fmt.Fprintf(os.Stderr, "mcpmock: created %s %q (%s)\n", kind, title, id)
		return mcp.NewToolResultText(string(ref)), nil
	}
}
