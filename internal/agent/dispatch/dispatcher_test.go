package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/portfolio-agent-poc/server/internal/agent/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient scripts per-call outcomes for one service.
type fakeClient struct {
	service model.Service
	handler func(ctx context.Context, inv model.ToolInvocation, call int) (*model.ToolOutput, error)

	mu    sync.Mutex
	calls int

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeClient) Service() model.Service { return f.service }

func (f *fakeClient) Invoke(ctx context.Context, inv model.ToolInvocation) (*model.ToolOutput, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxInFlight.Load()
		if cur <= prev || f.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	return f.handler(ctx, inv, call)
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func okOutput(tool model.ToolID, payload string) *model.ToolOutput {
	return &model.ToolOutput{Tool: tool, Payload: payload, RetrievedAt: time.Now()}
}

func testConfig() model.DispatcherConfig {
	return model.DispatcherConfig{
		MaxRetries:        2,
		BaseBackoff:       time.Millisecond,
		CallTimeout:       time.Second,
		MaxInFlight:       1,
		RateLimitCooldown: 50 * time.Millisecond,
	}
}

func ragInvocation() model.ToolInvocation {
	return model.ToolInvocation{Tool: model.ToolRAG, Arguments: map[string]string{model.ArgQuery: "q"}}
}

func repoListInvocation() model.ToolInvocation {
	return model.ToolInvocation{Tool: model.ToolRepoList, Priority: 1}
}

func TestDispatchPreservesOrderAndCompleteness(t *testing.T) {
	github := &fakeClient{
		service: model.ServiceGitHub,
		handler: func(ctx context.Context, inv model.ToolInvocation, call int) (*model.ToolOutput, error) {
			time.Sleep(20 * time.Millisecond) // finishes after the rag call
			return okOutput(inv.Tool, "repos"), nil
		},
	}
	retrieval := &fakeClient{
		service: model.ServiceRetrieval,
		handler: func(ctx context.Context, inv model.ToolInvocation, call int) (*model.ToolOutput, error) {
			return okOutput(inv.Tool, "snippets"), nil
		},
	}
	d := New(testConfig(), github, retrieval)

	invs := []model.ToolInvocation{repoListInvocation(), ragInvocation()}
	results := d.Dispatch(context.Background(), invs)

	require.Len(t, results, len(invs))
	assert.Equal(t, model.ToolRepoList, results[0].Invocation.Tool)
	assert.Equal(t, model.ToolRAG, results[1].Invocation.Tool)
	for _, r := range results {
		assert.True(t, r.OK())
		assert.False(t, r.Output.RetrievedAt.IsZero())
	}
}

func TestDispatchRetriesTimeoutThenSucceeds(t *testing.T) {
	github := &fakeClient{
		service: model.ServiceGitHub,
		handler: func(ctx context.Context, inv model.ToolInvocation, call int) (*model.ToolOutput, error) {
			if call <= 2 {
				return nil, model.NewToolError(inv.Tool, model.ErrTimeout, errors.New("deadline"))
			}
			return okOutput(inv.Tool, "ok"), nil
		},
	}
	d := New(testConfig(), github)

	results := d.Dispatch(context.Background(), []model.ToolInvocation{repoListInvocation()})

	require.Len(t, results, 1)
	require.True(t, results[0].OK())
	assert.Equal(t, 3, github.callCount())
}

func TestDispatchDoesNotRetryPermanentFailures(t *testing.T) {
	for _, kind := range []model.ErrorKind{model.ErrAuth, model.ErrNotFound} {
		t.Run(string(kind), func(t *testing.T) {
			github := &fakeClient{
				service: model.ServiceGitHub,
				handler: func(ctx context.Context, inv model.ToolInvocation, call int) (*model.ToolOutput, error) {
					return nil, model.NewToolError(inv.Tool, kind, errors.New("permanent"))
				},
			}
			d := New(testConfig(), github)

			results := d.Dispatch(context.Background(), []model.ToolInvocation{repoListInvocation()})

			require.Len(t, results, 1)
			require.False(t, results[0].OK())
			assert.Equal(t, kind, results[0].Err.Kind)
			assert.Equal(t, 1, github.callCount())
		})
	}
}

func TestDispatchSurfacesExhaustedRetries(t *testing.T) {
	github := &fakeClient{
		service: model.ServiceGitHub,
		handler: func(ctx context.Context, inv model.ToolInvocation, call int) (*model.ToolOutput, error) {
			return nil, model.NewToolError(inv.Tool, model.ErrTransient, errors.New("flaky"))
		},
	}
	d := New(testConfig(), github)

	results := d.Dispatch(context.Background(), []model.ToolInvocation{repoListInvocation()})

	require.Len(t, results, 1)
	require.False(t, results[0].OK())
	assert.Equal(t, model.ErrTransient, results[0].Err.Kind)
	assert.Equal(t, 3, github.callCount()) // initial + 2 retries
}

func TestDispatchRateLimitCooldownShortCircuits(t *testing.T) {
	github := &fakeClient{
		service: model.ServiceGitHub,
		handler: func(ctx context.Context, inv model.ToolInvocation, call int) (*model.ToolOutput, error) {
			return nil, model.NewToolError(inv.Tool, model.ErrRateLimit, errors.New("limited"))
		},
	}
	d := New(testConfig(), github)

	first := d.Dispatch(context.Background(), []model.ToolInvocation{repoListInvocation()})
	require.False(t, first[0].OK())
	assert.Equal(t, model.ErrRateLimit, first[0].Err.Kind)
	assert.Equal(t, 1, github.callCount())

	// Inside the cooldown window the second invocation never reaches the
	// network and is still recorded as rate limited.
	second := d.Dispatch(context.Background(), []model.ToolInvocation{repoListInvocation()})
	require.False(t, second[0].OK())
	assert.Equal(t, model.ErrRateLimit, second[0].Err.Kind)
	assert.Equal(t, 1, github.callCount())

	// Once the window passes the service is attempted again.
	time.Sleep(60 * time.Millisecond)
	third := d.Dispatch(context.Background(), []model.ToolInvocation{repoListInvocation()})
	require.False(t, third[0].OK())
	assert.Equal(t, 2, github.callCount())
}

func TestDispatchCooldownSuppressesQueuedInvocations(t *testing.T) {
	github := &fakeClient{
		service: model.ServiceGitHub,
		handler: func(ctx context.Context, inv model.ToolInvocation, call int) (*model.ToolOutput, error) {
			time.Sleep(30 * time.Millisecond)
			return nil, model.NewToolError(inv.Tool, model.ErrRateLimit, errors.New("limited"))
		},
	}
	d := New(testConfig(), github)

	// Both invocations land on the same service; the second queues behind
	// the in-flight cap while the first is told to back off.
	results := d.Dispatch(context.Background(), []model.ToolInvocation{repoListInvocation(), repoListInvocation()})

	require.Len(t, results, 2)
	for _, r := range results {
		require.False(t, r.OK())
		assert.Equal(t, model.ErrRateLimit, r.Err.Kind)
	}
	assert.Equal(t, 1, github.callCount())
}

func TestDispatchSerializesPerService(t *testing.T) {
	github := &fakeClient{
		service: model.ServiceGitHub,
		handler: func(ctx context.Context, inv model.ToolInvocation, call int) (*model.ToolOutput, error) {
			time.Sleep(5 * time.Millisecond)
			return okOutput(inv.Tool, "ok"), nil
		},
	}
	d := New(testConfig(), github)

	invs := []model.ToolInvocation{repoListInvocation(), repoListInvocation(), repoListInvocation()}
	results := d.Dispatch(context.Background(), invs)

	require.Len(t, results, 3)
	assert.Equal(t, int32(1), github.maxInFlight.Load())
}

func TestDispatchAllowsConcurrencyAcrossServices(t *testing.T) {
	block := make(chan struct{})
	github := &fakeClient{
		service: model.ServiceGitHub,
		handler: func(ctx context.Context, inv model.ToolInvocation, call int) (*model.ToolOutput, error) {
			<-block
			return okOutput(inv.Tool, "repos"), nil
		},
	}
	retrieval := &fakeClient{
		service: model.ServiceRetrieval,
		handler: func(ctx context.Context, inv model.ToolInvocation, call int) (*model.ToolOutput, error) {
			// Unblock the github call: both services must be in flight
			// at the same time for the turn to finish.
			close(block)
			return okOutput(inv.Tool, "snippets"), nil
		},
	}
	d := New(testConfig(), github, retrieval)

	done := make(chan model.ToolResultSet, 1)
	go func() {
		done <- d.Dispatch(context.Background(), []model.ToolInvocation{repoListInvocation(), ragInvocation()})
	}()

	select {
	case results := <-done:
		require.Len(t, results, 2)
		assert.True(t, results[0].OK())
		assert.True(t, results[1].OK())
	case <-time.After(2 * time.Second):
		t.Fatal("cross-service invocations did not run concurrently")
	}
}

func TestDispatchCallTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.CallTimeout = 10 * time.Millisecond
	cfg.MaxRetries = 0
	github := &fakeClient{
		service: model.ServiceGitHub,
		handler: func(ctx context.Context, inv model.ToolInvocation, call int) (*model.ToolOutput, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	d := New(cfg, github)

	results := d.Dispatch(context.Background(), []model.ToolInvocation{repoListInvocation()})

	require.Len(t, results, 1)
	require.False(t, results[0].OK())
	assert.Equal(t, model.ErrTimeout, results[0].Err.Kind)
}

func TestDispatchUnknownServiceIsTerminal(t *testing.T) {
	retrieval := &fakeClient{
		service: model.ServiceRetrieval,
		handler: func(ctx context.Context, inv model.ToolInvocation, call int) (*model.ToolOutput, error) {
			return okOutput(inv.Tool, "ok"), nil
		},
	}
	d := New(testConfig(), retrieval)

	results := d.Dispatch(context.Background(), []model.ToolInvocation{repoListInvocation()})

	require.Len(t, results, 1)
	require.False(t, results[0].OK())
	assert.Equal(t, model.ErrUnknown, results[0].Err.Kind)
}
