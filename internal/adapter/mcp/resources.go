package mcp

import (
	"context"
	"encoding/json"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/Strob0t/flowgate/internal/domain/hitl"
)

const (
	pendingURI       = "flowgate://approvals/pending"
	approvalTemplate = "flowgate://approvals/{id}"
	approvalPrefix   = "flowgate://approvals/"
)

// registerResources exposes approval records so an agent can follow up on
// a pending result.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			pendingURI,
			"Pending approvals",
			mcplib.WithResourceDescription("Approval requests still waiting for a human decision"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePendingResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			approvalTemplate,
			"Approval request",
			mcplib.WithTemplateDescription("One approval request with its decision and workflow result"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleApprovalResource,
	)
}

func (s *Server) handlePendingResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	reqs, err := s.deps.Approvals.List(ctx, hitl.Filter{Status: hitl.StatusPending, Limit: 100})
	if err != nil {
		return nil, err
	}
	if reqs == nil {
		reqs = []hitl.Request{}
	}
	return jsonContents(req.Params.URI, reqs)
}

func (s *Server) handleApprovalResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	id := strings.TrimPrefix(req.Params.URI, approvalPrefix)
	rec, err := s.deps.Approvals.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, rec)
}

func jsonContents(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
