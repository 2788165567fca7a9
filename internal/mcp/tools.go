package mcp

import "github.com/mark3labs/mcp-go/mcp"

// recallConversationsTool defines the recall_conversations MCP tool.
var recallConversationsTool = mcp.NewTool("recall_conversations",
	mcp.WithDescription("Search a user's past conversations semantically. Returns the most similar turns from earlier sessions."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("User whose history to search"),
	),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Natural language search query"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of results to return (default 3)"),
	),
)

// getForecastTool defines the get_forecast MCP tool.
var getForecastTool = mcp.NewTool("get_forecast",
	mcp.WithDescription("Get the short-horizon forecast for one of a user's signals in the current context."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("User to forecast for"),
	),
	mcp.WithString("signal",
		mcp.Required(),
		mcp.Description("Signal to forecast"),
		mcp.Enum("mood", "energy", "focus", "anxiety"),
	),
	mcp.WithString("task_category",
		mcp.Description("The user's current task category, if known"),
	),
)

// logSampleTool defines the log_sample MCP tool.
var logSampleTool = mcp.NewTool("log_sample",
	mcp.WithDescription("Log a signal reading on the 1-5 scale for a user. Context tags are derived from the current time."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("User the reading belongs to"),
	),
	mcp.WithString("signal",
		mcp.Required(),
		mcp.Description("Signal being reported"),
		mcp.Enum("mood", "energy", "focus", "anxiety"),
	),
	mcp.WithNumber("value",
		mcp.Required(),
		mcp.Description("The reading, 1 (lowest) to 5 (highest)"),
	),
	mcp.WithString("task_category",
		mcp.Description("The user's current task category, if known"),
	),
)

// getPersonalityTool defines the get_personality MCP tool.
var getPersonalityTool = mcp.NewTool("get_personality",
	mcp.WithDescription("Get the live personality state of a user's session."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("User the session belongs to"),
	),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("Session to inspect"),
	),
)
