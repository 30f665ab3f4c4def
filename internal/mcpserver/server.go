// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the activation graph to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/cortex/internal/apperr"
	"github.com/starford/cortex/internal/noteservice"
)

const (
	contractURI = "cortex://note-format"
	brainURI    = "cortex://brain"
)

// Server wraps the MCP server with Cortex tools.
type Server struct {
	mcp *server.MCPServer
	svc *noteservice.Service
}

// New creates a new MCP server with all Cortex tools registered.
func New(svc *noteservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Cortex",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("brain_snapshot",
		mcp.WithDescription("Return the most active notes right now, most active first, "+
			"with activation, current weight, fatigue and ignition state."),
	), s.brainSnapshot)

	s.mcp.AddTool(mcp.NewTool("inject_stimulus",
		mcp.WithDescription("Inject a stimulus. Notes whose title appears in the text get a direct boost; "+
			"notes carrying tags from the tag context get a tag boost. Returns the notes reached."),
		mcp.WithString("text", mcp.Description("Free text of the stimulus")),
		mcp.WithString("tag_context", mcp.Description("Bracketed tags, e.g. [physics][entropy]")),
	), s.injectStimulus)

	s.mcp.AddTool(mcp.NewTool("lookup_note",
		mcp.WithDescription("Live state of one note: static score, activation, fatigue, links and backlinks."),
		mcp.WithString("filename", mcp.Required(), mcp.Description("Note file name, .md extension optional")),
	), s.lookupNote)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Full-text search through notes content and titles."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Max results (default 20)")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all notes that link to the specified note."),
		mcp.WithString("filename", mcp.Required(), mcp.Description("File name of the note to find backlinks for")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("recent_stimuli",
		mcp.WithDescription("List recently injected stimuli, newest first."),
		mcp.WithNumber("limit", mcp.Description("Max entries (default 50)")),
	), s.recentStimuli)

	s.mcp.AddTool(mcp.NewTool("get_note_contract",
		mcp.WithDescription("Returns the note metadata format the graph reads and writes."),
	), s.getNoteContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Note Format",
			mcp.WithResourceDescription("Metadata keys the activation graph reads and writes."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)
	s.mcp.AddResource(
		mcp.NewResource(brainURI, "Brain Snapshot",
			mcp.WithResourceDescription("Most active notes at the last snapshot."),
			mcp.WithMIMEType("application/json"),
		),
		s.readBrainResource,
	)

	return s
}

// Serve runs the MCP protocol over in/out until ctx is done or in closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(os.Stderr, "mcp: ", log.LstdFlags))
	return stdio.Listen(ctx, in, out)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// toolError turns a service error into a tool result the model can read.
func toolError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("not found")
	case errors.Is(err, apperr.ErrBusy):
		return mcp.NewToolResultError("graph is busy, retry shortly")
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) brainSnapshot(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Brain())
}

func (s *Server) injectStimulus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := req.GetString("text", "")
	tags := req.GetString("tag_context", "")
	stim, err := s.svc.Stimulate(ctx, text, tags)
	if err != nil {
		return toolError(err), nil
	}
	if len(stim.Matched) == 0 {
		return mcp.NewToolResultText("no note reached"), nil
	}
	return mcp.NewToolResultText("reached: " + strings.Join(stim.Matched, ", ")), nil
}

func (s *Server) lookupNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filename, err := req.RequireString("filename")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.GetNote(ctx, filename)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(note)
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, req.GetInt("limit", 0))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(results)
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filename, err := req.RequireString("filename")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	bl, err := s.svc.Backlinks(ctx, filename)
	if err != nil {
		return toolError(err), nil
	}
	if len(bl) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return mcp.NewToolResultText(strings.Join(bl, "\n")), nil
}

func (s *Server) recentStimuli(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stimuli, err := s.svc.Journal(ctx, req.GetInt("limit", 0))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(stimuli)
}

func (s *Server) getNoteContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

func (s *Server) readContractResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}

func (s *Server) readBrainResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	out, err := json.Marshal(s.svc.Brain())
	if err != nil {
		return nil, fmt.Errorf("mcpserver: encode brain: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      brainURI,
			MIMEType: "application/json",
			Text:     string(out),
		},
	}, nil
}
