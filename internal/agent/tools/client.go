// Package tools holds the typed clients for the agent's external backends.
//
// Every client exposes the same Invoke contract so the dispatcher can treat
// the document index and the code-hosting API uniformly. Failures come back
// as *model.ToolError so retry decisions stay with the dispatcher.
package tools

import (
	"context"

	"github.com/portfolio-agent-poc/server/internal/agent/model"
)

// ToolClient executes a single tool invocation against one external service.
type ToolClient interface {
	// Service names the backend this client talks to.
	Service() model.Service

	// Invoke executes the invocation. On failure the returned error is a
	// *model.ToolError carrying the failure taxonomy.
	Invoke(ctx context.Context, inv model.ToolInvocation) (*model.ToolOutput, error)
}
