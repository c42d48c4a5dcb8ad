package transport

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/conductor/pkg/models"
)

// DefaultAgentImage is the container image used for adapter shims,
// overridable per brief via brief.PluginName-keyed lookup at the
// gateway layer.
const DefaultAgentImage = "conductor/agent-runner:latest"

type containerProc struct {
	containerID string
	endpoint    string
	brief       models.AgentBrief
}

// ContainerTransport runs the adapter shim in a Docker container, same
// RPC surface as LocalHTTPTransport, plus a health poll before the
// gateway considers the container ready (§4.8's container lifecycle:
// create, bind port, start, poll /health until ready or timeout).
type ContainerTransport struct {
	mu      sync.Mutex
	procs   map[string]*containerProc
	ports   *PortPool
	image   string
	client  *http.Client
	startup time.Duration
	poll    time.Duration
}

// NewContainerTransport creates a transport that launches containers
// from image, allocating host ports from ports.
func NewContainerTransport(ports *PortPool, image string, startupTimeout, pollInterval time.Duration) *ContainerTransport {
	if image == "" {
		image = DefaultAgentImage
	}
	return &ContainerTransport{
		procs:   make(map[string]*containerProc),
		ports:   ports,
		image:   image,
		client:  &http.Client{Timeout: 30 * time.Second},
		startup: startupTimeout,
		poll:    pollInterval,
	}
}

func (t *ContainerTransport) Spawn(ctx context.Context, brief models.AgentBrief) (models.AgentHandle, error) {
	port, err := t.ports.Allocate()
	if err != nil {
		return models.AgentHandle{}, err
	}

	id := uuid.NewString()
	containerName := fmt.Sprintf("conductor-agent-%s", id)
	args := []string{"run", "-d", "--name", containerName, "-p", fmt.Sprintf("%d:9000", port), "-e", "AGENT_PORT=9000", t.image}

	cmd := exec.CommandContext(ctx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		t.ports.Release(port)
		return models.AgentHandle{}, fmt.Errorf("transport/container: docker run failed: %w: %s", err, stderr.String())
	}
	containerID := firstLine(stdout.String())

	endpoint := fmt.Sprintf("http://127.0.0.1:%d", port)
	if err := WaitForHealth(ctx, t.poll, t.startup, func(ctx context.Context) bool {
		resp, err := t.client.Get(endpoint + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}); err != nil {
		t.stopContainer(containerID)
		t.ports.Release(port)
		return models.AgentHandle{}, fmt.Errorf("transport/container: %w", err)
	}

	t.mu.Lock()
	t.procs[id] = &containerProc{containerID: containerID, endpoint: endpoint, brief: brief}
	t.mu.Unlock()

	return models.AgentHandle{ID: id, PluginName: brief.PluginName, Status: models.AgentStatusRunning}, nil
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}

func (t *ContainerTransport) stopContainer(containerID string) {
	if containerID == "" {
		return
	}
	if err := exec.Command("docker", "stop", "-t", "5", containerID).Run(); err != nil {
		log.Warn().Err(err).Str("containerId", containerID).Msg("transport/container: graceful stop failed, removing anyway")
	}
	_ = exec.Command("docker", "rm", "-f", containerID).Run()
}

func (t *ContainerTransport) proc(id string) (*containerProc, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.procs[id]
	return p, ok
}

func (t *ContainerTransport) Pause(ctx context.Context, handle models.AgentHandle) (models.SerializedAgentState, error) {
	p, ok := t.proc(handle.ID)
	if !ok {
		return models.SerializedAgentState{}, fmt.Errorf("transport/container: unknown handle %q", handle.ID)
	}
	resp, err := t.client.Post(p.endpoint+"/pause", "application/json", nil)
	if err != nil {
		return models.SerializedAgentState{}, err
	}
	defer resp.Body.Close()
	return models.SerializedAgentState{AgentID: handle.ID, Brief: p.brief, SerializedBy: models.SerializedByPause}, nil
}

func (t *ContainerTransport) Resume(ctx context.Context, state models.SerializedAgentState) (models.AgentHandle, error) {
	return models.AgentHandle{}, fmt.Errorf("transport/container: resume requires a fresh Spawn; containers are not restored in place")
}

// Kill stops the container with a grace period then force-removes it,
// mirroring §4.8's SIGTERM-then-SIGKILL lifecycle rule.
func (t *ContainerTransport) Kill(ctx context.Context, handle models.AgentHandle, opts KillOptions) (KillResult, error) {
	p, ok := t.proc(handle.ID)
	if !ok {
		return KillResult{}, fmt.Errorf("transport/container: unknown handle %q", handle.ID)
	}
	timeout := "5"
	if opts.GraceTimeoutMs > 0 {
		timeout = fmt.Sprintf("%d", opts.GraceTimeoutMs/1000)
	}
	err := exec.Command("docker", "stop", "-t", timeout, p.containerID).Run()
	_ = exec.Command("docker", "rm", "-f", p.containerID).Run()

	t.mu.Lock()
	delete(t.procs, handle.ID)
	t.mu.Unlock()

	return KillResult{CleanShutdown: err == nil}, nil
}

func (t *ContainerTransport) ResolveDecision(ctx context.Context, handle models.AgentHandle, decisionID string, resolution models.Resolution) error {
	p, ok := t.proc(handle.ID)
	if !ok {
		return fmt.Errorf("transport/container: unknown handle %q", handle.ID)
	}
	resp, err := t.client.Post(p.endpoint+"/resolve", "application/json", nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (t *ContainerTransport) InjectContext(ctx context.Context, handle models.AgentHandle, injection Injection) error {
	p, ok := t.proc(handle.ID)
	if !ok {
		return fmt.Errorf("transport/container: unknown handle %q", handle.ID)
	}
	resp, err := t.client.Post(p.endpoint+"/inject-context", "application/json", nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (t *ContainerTransport) UpdateBrief(ctx context.Context, handle models.AgentHandle, partial models.AgentBrief) error {
	p, ok := t.proc(handle.ID)
	if !ok {
		return fmt.Errorf("transport/container: unknown handle %q", handle.ID)
	}
	resp, err := t.client.Post(p.endpoint+"/update-brief", "application/json", nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (t *ContainerTransport) RequestCheckpoint(ctx context.Context, handle models.AgentHandle, decisionID string) (models.SerializedAgentState, error) {
	return t.Pause(ctx, handle)
}

func (t *ContainerTransport) Capabilities() Capabilities {
	return Capabilities{Pause: true, Resume: false, Checkpoint: true, ContextInjection: true}
}
