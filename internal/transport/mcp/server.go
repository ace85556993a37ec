// Package mcp exposes the tool registry as an MCP server over stdio and streamable HTTP.
package mcp

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"os"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragtools/internal/usecase/tool"
)

const maxInlineImageBytes = 4 << 20

// Tools lists and invokes registered tools.
type Tools interface {
	List() []tool.Descriptor
	Invoke(ctx context.Context, name, query string) tool.Result
}

// Options configures the MCP server.
type Options struct {
	Name    string
	Version string
	// InlineImages attaches image results as MCP image content next to the text.
	InlineImages bool
	Logger       *zap.Logger
}

// Server wraps an MCP server with one MCP tool per registry tool.
type Server struct {
	mcp    *mcpserver.MCPServer
	tools  Tools
	opts   Options
	logger *zap.Logger
}

// NewServer registers every tool of the registry.
func NewServer(tools Tools, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "ragtools"
	}
	l := opts.Logger
	if l == nil {
		l = zap.NewNop()
	}

	s := &Server{
		mcp:    mcpserver.NewMCPServer(opts.Name, opts.Version, mcpserver.WithToolCapabilities(false), mcpserver.WithRecovery()),
		tools:  tools,
		opts:   opts,
		logger: l,
	}
	for _, d := range tools.List() {
		s.mcp.AddTool(newTool(d), s.handler(d.Name))
	}
	return s
}

func newTool(d tool.Descriptor) mcpgo.Tool {
	queryDesc := "Natural-language search query"
	if d.Kind == tool.KindImageQuery {
		queryDesc = "Path to a local image file"
	}
	return mcpgo.NewTool(d.Name,
		mcpgo.WithDescription(d.Description),
		mcpgo.WithString("query", mcpgo.Required(), mcpgo.Description(queryDesc)),
	)
}

func (s *Server) handler(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		res := s.tools.Invoke(ctx, name, req.GetString("query", ""))

		out := mcpgo.NewToolResultText(res.Text)
		out.IsError = res.Failed
		if s.opts.InlineImages {
			for _, path := range res.Assets {
				if c, ok := s.imageContent(path); ok {
					out.Content = append(out.Content, c)
				}
			}
		}
		return out, nil
	}
}

func (s *Server) imageContent(path string) (mcpgo.ImageContent, bool) {
	f, err := os.Open(path)
	if err != nil {
		s.logger.Warn("Failed to open image asset", zap.String("path", path), zap.Error(err))
		return mcpgo.ImageContent{}, false
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxInlineImageBytes+1))
	if err != nil || len(data) > maxInlineImageBytes {
		s.logger.Warn("Skipping image asset", zap.String("path", path), zap.Int("bytes", len(data)), zap.Error(err))
		return mcpgo.ImageContent{}, false
	}
	return mcpgo.NewImageContent(base64.StdEncoding.EncodeToString(data), http.DetectContentType(data)), true
}

// ServeStdio serves MCP over stdin/stdout until ctx is cancelled. Logs must go to stderr.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := mcpserver.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))
	return stdio.Listen(ctx, in, out)
}

// HTTPHandler returns the streamable HTTP transport handler.
func (s *Server) HTTPHandler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(s.mcp, mcpserver.WithStateLess(true))
}
