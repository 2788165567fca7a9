// Package mcp exposes the engine to MCP clients over stdio: recall over
// past conversations, current forecasts, sample logging and the live
// personality state.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/solos-app/sol-engine/internal/companion"
	"github.com/solos-app/sol-engine/internal/feature"
	"github.com/solos-app/sol-engine/internal/memory"
	"github.com/solos-app/sol-engine/internal/persona"
	"github.com/solos-app/sol-engine/internal/predict"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Deps bundles the engine components the tools reach into.
type Deps struct {
	Features  *feature.Store
	Predictor *predict.Predictor
	Tracker   *persona.Tracker
	Recall    *memory.Recall
	Proactive *companion.Proactive
}

// Server wraps an MCP server exposing the engine's tools.
type Server struct {
	deps Deps
	mcp  *server.MCPServer
}

// NewServer creates an MCP server with the given dependencies.
func NewServer(deps Deps) *Server {
	s := &Server{deps: deps}

	s.mcp = server.NewMCPServer(
		"sol-engine",
		Version,
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(recallConversationsTool, s.handleRecallConversations)
	s.mcp.AddTool(getForecastTool, s.handleGetForecast)
	s.mcp.AddTool(logSampleTool, s.handleLogSample)
	s.mcp.AddTool(getPersonalityTool, s.handleGetPersonality)
}

// Serve starts the MCP server on stdio. Stdout carries MCP protocol
// messages; all logging must go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
