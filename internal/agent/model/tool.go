package model

import (
	"fmt"
	"time"
)

// ToolID identifies one of the agent's external capabilities.
type ToolID string

const (
	ToolRAG      ToolID = "rag"
	ToolRepoList ToolID = "repo_list"
	ToolRepoInfo ToolID = "repo_info"
	ToolRepoFile ToolID = "repo_file"
)

// Service identifies the external backend a tool call lands on. Rate limits
// and in-flight caps are enforced per service, not per tool.
type Service string

const (
	ServiceRetrieval Service = "retrieval"
	ServiceGitHub    Service = "github"
)

// Service returns the backend the tool belongs to.
func (t ToolID) Service() Service {
	if t == ToolRAG {
		return ServiceRetrieval
	}
	return ServiceGitHub
}

// Well-known invocation argument keys.
const (
	ArgQuery = "query"
	ArgRepo  = "repo"
	ArgPath  = "path"
)

// Query is one user turn as seen by the classifier and composer. Immutable
// once created by the session.
type Query struct {
	Text      string
	TurnIndex int
	SessionID string
}

// ToolInvocation is a single candidate tool call produced by the classifier.
// Priority is the attempt order assigned by the rule table; execution order
// may differ but result order never does.
type ToolInvocation struct {
	Tool      ToolID
	Arguments map[string]string
	Priority  int
}

// Arg returns the named argument or "".
func (inv ToolInvocation) Arg(key string) string {
	return inv.Arguments[key]
}

func (inv ToolInvocation) String() string {
	return fmt.Sprintf("%s(%v)", inv.Tool, inv.Arguments)
}

// ToolOutput is the successful payload of one invocation. Payload is the
// rendered grounding text handed to the composer; RetrievedAt lets callers
// reason about staleness of live repository content.
type ToolOutput struct {
	Tool        ToolID
	Payload     string
	RetrievedAt time.Time
}

// ErrorKind classifies a tool failure for retry and surfacing decisions.
type ErrorKind string

const (
	ErrAuth      ErrorKind = "auth"
	ErrRateLimit ErrorKind = "rate_limit"
	ErrNotFound  ErrorKind = "not_found"
	ErrTimeout   ErrorKind = "timeout"
	ErrTransient ErrorKind = "transient"
	ErrUnknown   ErrorKind = "unknown"
)

// ToolError is the terminal failure of one invocation.
type ToolError struct {
	Tool      ToolID
	Kind      ErrorKind
	Retryable bool
	Cause     error
}

func (e *ToolError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Tool, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Tool, e.Kind, e.Cause)
}

func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewToolError builds a ToolError with retryability derived from the kind.
// Only timeouts and transient faults are worth a second attempt; auth and
// not-found are permanent for the turn, and retrying into a rate limit only
// compounds the violation.
func NewToolError(tool ToolID, kind ErrorKind, cause error) *ToolError {
	return &ToolError{
		Tool:      tool,
		Kind:      kind,
		Retryable: kind == ErrTimeout || kind == ErrTransient,
		Cause:     cause,
	}
}

// ToolResult pairs an invocation with its terminal outcome. Exactly one of
// Output/Err is set.
type ToolResult struct {
	Invocation ToolInvocation
	Output     *ToolOutput
	Err        *ToolError
}

// OK reports whether the invocation succeeded.
func (r ToolResult) OK() bool {
	return r.Err == nil && r.Output != nil
}

// ToolResultSet is the complete audit trail of one turn's dispatch, in the
// classifier's invocation order.
type ToolResultSet []ToolResult

// Succeeded returns the successful results in set order.
func (s ToolResultSet) Succeeded() []ToolResult {
	out := make([]ToolResult, 0, len(s))
	for _, r := range s {
		if r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// Failed returns the failed results in set order.
func (s ToolResultSet) Failed() []ToolResult {
	out := make([]ToolResult, 0, len(s))
	for _, r := range s {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// Answer is the terminal artifact of one turn.
type Answer struct {
	Text         string
	CitedSources []ToolID
	TurnIndex    int
}
