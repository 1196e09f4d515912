package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	snapshotURI = "project://snapshot"
	documentURI = "preview://document"
)

func (s *Server) registerResources() {
	s.mcp.AddResource(mcp.NewResource(snapshotURI, "Project snapshot",
		mcp.WithResourceDescription("Every project file as a JSON object mapping path to content"),
		mcp.WithMIMEType("application/json"),
	), s.readSnapshot)
	s.mcp.AddResource(mcp.NewResource(documentURI, "Preview document",
		mcp.WithResourceDescription("The HTML document of the active preview generation"),
		mcp.WithMIMEType("text/html"),
	), s.readDocument)
}

func (s *Server) readSnapshot(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	snap, err := s.session.Project().Snapshot()
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: snapshotURI, MIMEType: "application/json", Text: string(data)},
	}, nil
}

func (s *Server) readDocument(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	s.session.Project().Pipeline().Wait()
	latest := s.session.Latest()
	if latest == nil || latest.Document == nil {
		return nil, fmt.Errorf("no preview generated yet")
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: documentURI, MIMEType: "text/html", Text: latest.Document.HTML},
	}, nil
}
