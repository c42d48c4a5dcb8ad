// Package transport implements the three plugin transports of §4.8:
// in_process (direct call), local_http (adapter shim child process
// speaking JSON-over-HTTP), and container (same surface plus a health
// poll). The port pool and graceful-then-forceful shutdown pattern are
// grounded on the teacher's internal/process package.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentoven/conductor/pkg/models"
)

// Injection is the payload handed to a running agent by the context
// injection scheduler.
type Injection struct {
	Content         string `json:"content"`
	Format          string `json:"format"`
	SnapshotVersion int64  `json:"snapshotVersion"`
	EstimatedTokens int64  `json:"estimatedTokens"`
	Priority        string `json:"priority"`
	IsDelta         bool   `json:"isDelta,omitempty"`
}

// KillOptions configures the grace period for a kill request.
type KillOptions struct {
	Grace           bool
	GraceTimeoutMs  int
}

// KillResult reports what the transport observed on shutdown.
type KillResult struct {
	State             *models.SerializedAgentState
	ArtifactsExtracted int
	CleanShutdown     bool
}

// Capabilities flags which lifecycle operations a plugin instance
// supports; a transport that cannot pause, for example, reports it here
// rather than failing at call time.
type Capabilities struct {
	Pause             bool
	Resume            bool
	Checkpoint        bool
	ContextInjection  bool
}

// Transport is the plugin contract of §4.8, implemented once per
// execution mode.
type Transport interface {
	Spawn(ctx context.Context, brief models.AgentBrief) (models.AgentHandle, error)
	Pause(ctx context.Context, handle models.AgentHandle) (models.SerializedAgentState, error)
	Resume(ctx context.Context, state models.SerializedAgentState) (models.AgentHandle, error)
	Kill(ctx context.Context, handle models.AgentHandle, opts KillOptions) (KillResult, error)
	ResolveDecision(ctx context.Context, handle models.AgentHandle, decisionID string, resolution models.Resolution) error
	InjectContext(ctx context.Context, handle models.AgentHandle, injection Injection) error
	UpdateBrief(ctx context.Context, handle models.AgentHandle, partial models.AgentBrief) error
	RequestCheckpoint(ctx context.Context, handle models.AgentHandle, decisionID string) (models.SerializedAgentState, error)
	Capabilities() Capabilities
}

// PortPool hands out ports from a contiguous range, failing loud on
// exhaustion rather than silently blocking.
type PortPool struct {
	mu       sync.Mutex
	low, high int
	used     map[int]bool
}

// NewPortPool creates a pool covering [low, high] inclusive.
func NewPortPool(low, high int) *PortPool {
	return &PortPool{low: low, high: high, used: make(map[int]bool)}
}

// Allocate returns the lowest free port in range, or an error if the
// pool is exhausted.
func (p *PortPool) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for port := p.low; port <= p.high; port++ {
		if !p.used[port] {
			p.used[port] = true
			return port, nil
		}
	}
	return 0, fmt.Errorf("transport: port pool [%d-%d] exhausted", p.low, p.high)
}

// Release returns a port to the pool.
func (p *PortPool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.used, port)
}

// WaitForHealth polls pollFn every interval until it returns true, the
// deadline passes, or ctx is cancelled.
func WaitForHealth(ctx context.Context, interval, timeout time.Duration, pollFn func(context.Context) bool) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if pollFn(ctx) {
			return nil
		}
		time.Sleep(interval)
	}
	return fmt.Errorf("transport: health check timed out after %s", timeout)
}
