// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Lattice tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/holt/lattice/internal/graph"
	"github.com/holt/lattice/internal/index"
	"github.com/holt/lattice/internal/store"
)

// Server wraps the MCP server with Lattice tools.
type Server struct {
	mcp *server.MCPServer
	st  *store.Store
	idx *index.DB
}

// New creates a new MCP server with all Lattice tools registered.
func New(st *store.Store, idx *index.DB) *Server {
	s := &Server{st: st, idx: idx}

	s.mcp = server.NewMCPServer(
		"Lattice",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_nodes",
		mcp.WithDescription("Search nodes by title and body content."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchNodes)

	s.mcp.AddTool(mcp.NewTool("read_node",
		mcp.WithDescription("Read a node: its metadata and Markdown body."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative node path (e.g. project/note.md)")),
	), s.readNode)

	s.mcp.AddTool(mcp.NewTool("create_node",
		mcp.WithDescription("Create a new document node under a container. "+
			"The body MUST follow the canonical document format; read the contract "+
			"first via the get_document_contract tool or the lattice://document-format resource."),
		mcp.WithString("parent", mcp.Required(), mcp.Description("Path of the parent container")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Display name for the new node")),
		mcp.WithString("body", mcp.Description("Markdown body following the document format contract")),
	), s.createNode)

	s.mcp.AddTool(mcp.NewTool("link_nodes",
		mcp.WithDescription("Create a soft link from one node to another. "+
			"Soft links survive moves because they target the node id, not its path."),
		mcp.WithString("sourcePath", mcp.Required(), mcp.Description("Path of the node the link starts from")),
		mcp.WithString("targetId", mcp.Required(), mcp.Description("Id of the node the link points to")),
	), s.linkNodes)

	s.mcp.AddTool(mcp.NewTool("list_nodes",
		mcp.WithDescription("List all node paths, or those under a specific container."),
		mcp.WithString("container", mcp.Description("Optional container path to list (empty for all)")),
	), s.listNodes)

	s.mcp.AddTool(mcp.NewTool("get_document_contract",
		mcp.WithDescription("Returns the canonical Lattice document format contract. "+
			"Call this before creating or updating nodes to ensure correct structure."),
	), s.getDocumentContract)

	// Resource: document format contract.
	s.mcp.AddResource(
		mcp.NewResource("lattice://document-format", "Document Format Contract",
			mcp.WithResourceDescription("Canonical document format that all nodes must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readDocumentFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) searchNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hits, err := s.idx.Search(index.Query{Text: query, Limit: 20})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(hits, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.st.Node(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}

	meta := make(map[string]any, n.Meta.Len())
	for _, k := range n.Meta.Keys() {
		v, _ := n.Meta.Get(k)
		meta[k] = v
	}
	out, _ := json.MarshalIndent(map[string]any{
		"id":          n.ID,
		"path":        n.Path,
		"isContainer": n.IsContainer,
		"metadata":    meta,
		"body":        n.Body,
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) createNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	parent, err := req.RequireString("parent")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body := ""
	if b, bErr := req.RequireString("body"); bErr == nil {
		body = b
	}

	n, err := s.st.Create(ctx, parent, name, false, nil, body)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s (id %s)", n.Path, n.ID)), nil
}

func (s *Server) linkNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sourcePath, err := req.RequireString("sourcePath")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	targetID, err := req.RequireString("targetId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.st.CreateSoftLink(ctx, sourcePath, targetID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("linked: %s -> %s", sourcePath, targetID)), nil
}

func (s *Server) listNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	container := ""
	if c, err := req.RequireString("container"); err == nil {
		container = c
	}

	var paths []string
	for _, p := range s.st.Paths() {
		if container == "" || p == container || graph.IsDescendant(container, p) {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return mcp.NewToolResultText("no nodes found"), nil
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) getDocumentContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DocumentFormatContract), nil
}

func (s *Server) readDocumentFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "lattice://document-format",
			MIMEType: "text/markdown",
			Text:     DocumentFormatContract,
		},
	}, nil
}
