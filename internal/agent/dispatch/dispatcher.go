// Package dispatch executes classified tool invocations against their
// clients, applying the retry, rate-limit and partial-failure policy.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/portfolio-agent-poc/server/internal/agent/model"
	"github.com/portfolio-agent-poc/server/internal/agent/tools"
	logx "github.com/portfolio-agent-poc/server/pkg/logger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Dispatcher struct {
	cfg     model.DispatcherConfig
	clients map[model.Service]tools.ToolClient
	gates   map[model.Service]*serviceGate
}

// New builds a dispatcher over the given clients. Each service gets its own
// gate; the code-hosting service additionally gets a requests-per-hour pacer
// when the config sets a budget.
func New(cfg model.DispatcherConfig, clients ...tools.ToolClient) *Dispatcher {
	d := &Dispatcher{
		cfg:     cfg,
		clients: make(map[model.Service]tools.ToolClient, len(clients)),
		gates:   make(map[model.Service]*serviceGate, len(clients)),
	}
	for _, c := range clients {
		svc := c.Service()
		var limiter *rate.Limiter
		if svc == model.ServiceGitHub && cfg.GitHubHourlyLimit > 0 {
			limiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(cfg.GitHubHourlyLimit)), cfg.GitHubHourlyLimit)
		}
		d.clients[svc] = c
		d.gates[svc] = newServiceGate(cfg.MaxInFlight, limiter)
	}
	return d
}

// Dispatch runs every invocation to a terminal outcome and returns the
// results in the original invocation order regardless of completion order.
// Individual failures never fail the turn; they ride along in the result set
// for the composer to degrade gracefully.
func (d *Dispatcher) Dispatch(ctx context.Context, invocations []model.ToolInvocation) model.ToolResultSet {
	results := make(model.ToolResultSet, len(invocations))

	var g errgroup.Group
	for i, inv := range invocations {
		g.Go(func() error {
			results[i] = d.execute(ctx, inv)
			return nil
		})
	}
	// Goroutines only write their own slot and never return an error.
	_ = g.Wait()

	return results
}

func (d *Dispatcher) execute(ctx context.Context, inv model.ToolInvocation) model.ToolResult {
	client, ok := d.clients[inv.Tool.Service()]
	if !ok {
		return model.ToolResult{
			Invocation: inv,
			Err:        model.NewToolError(inv.Tool, model.ErrUnknown, fmt.Errorf("no client registered for service %q", inv.Tool.Service())),
		}
	}
	gate := d.gates[inv.Tool.Service()]

	var lastErr *model.ToolError
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		out, err := d.attempt(ctx, gate, client, inv)
		if err == nil {
			if attempt > 0 {
				logx.Debug().Str("tool", string(inv.Tool)).Int("attempts", attempt+1).Msg("invocation succeeded after retry")
			}
			return model.ToolResult{Invocation: inv, Output: out}
		}

		lastErr = asToolError(inv.Tool, err)

		if lastErr.Kind == model.ErrRateLimit {
			// Surface immediately. When the backend itself reported the
			// limit, close the service so concurrent invocations stop
			// hitting it too; a local short-circuit must not extend the
			// window it is already honouring.
			if !errors.Is(lastErr, errCoolingDown) {
				gate.openCooldown(time.Now(), d.cfg.RateLimitCooldown)
				logx.Warn().Str("service", string(inv.Tool.Service())).Dur("cooldown", d.cfg.RateLimitCooldown).Msg("service rate limited")
			}
			break
		}
		if !lastErr.Retryable || attempt == d.cfg.MaxRetries {
			break
		}

		backoff := d.cfg.BaseBackoff << attempt
		logx.Debug().
			Str("tool", string(inv.Tool)).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Str("kind", string(lastErr.Kind)).
			Msg("retrying invocation")
		select {
		case <-ctx.Done():
			return model.ToolResult{Invocation: inv, Err: model.NewToolError(inv.Tool, model.ErrTimeout, ctx.Err())}
		case <-time.After(backoff):
		}
	}

	return model.ToolResult{Invocation: inv, Err: lastErr}
}

// errCoolingDown marks a rate-limit result produced locally, without a
// network call, because the service is inside a cooldown window.
var errCoolingDown = errors.New("service in rate-limit cooldown")

func (d *Dispatcher) attempt(ctx context.Context, gate *serviceGate, client tools.ToolClient, inv model.ToolInvocation) (*model.ToolOutput, error) {
	if gate.coolingDown(time.Now()) {
		return nil, model.NewToolError(inv.Tool, model.ErrRateLimit, errCoolingDown)
	}

	if err := gate.acquire(ctx); err != nil {
		return nil, model.NewToolError(inv.Tool, model.ErrTimeout, err)
	}
	// A peer holding the slot may have opened the window while this
	// invocation queued behind the in-flight cap; a call that waited out
	// the queue must not reach the network inside the window either.
	if gate.coolingDown(time.Now()) {
		gate.release()
		return nil, model.NewToolError(inv.Tool, model.ErrRateLimit, errCoolingDown)
	}
	defer gate.release()

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	return client.Invoke(callCtx, inv)
}

// asToolError coerces a client error into the taxonomy. Clients return typed
// errors; anything else is unknown and not retried.
func asToolError(tool model.ToolID, err error) *model.ToolError {
	var toolErr *model.ToolError
	if errors.As(err, &toolErr) {
		return toolErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewToolError(tool, model.ErrTimeout, err)
	}
	return model.NewToolError(tool, model.ErrUnknown, err)
}
