package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/conductor/pkg/models"
)

type localProcess struct {
	cmd      *exec.Cmd
	endpoint string
	brief    models.AgentBrief
}

// LocalHTTPTransport runs the adapter shim as a child process speaking
// JSON-over-HTTP on the given port. Command and args are the shim
// binary invocation; %d in args is substituted with the allocated port.
type LocalHTTPTransport struct {
	mu      sync.Mutex
	procs   map[string]*localProcess
	ports   *PortPool
	command string
	args    []string
	client  *http.Client
}

// NewLocalHTTPTransport creates a transport that launches command with
// args (one of which should reference the allocated port via "%d") for
// every spawn.
func NewLocalHTTPTransport(ports *PortPool, command string, args []string) *LocalHTTPTransport {
	return &LocalHTTPTransport{
		procs:   make(map[string]*localProcess),
		ports:   ports,
		command: command,
		args:    args,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *LocalHTTPTransport) Spawn(ctx context.Context, brief models.AgentBrief) (models.AgentHandle, error) {
	port, err := t.ports.Allocate()
	if err != nil {
		return models.AgentHandle{}, err
	}

	args := make([]string, len(t.args))
	for i, a := range t.args {
		if strings.Contains(a, "%d") {
			a = fmt.Sprintf(a, port)
		}
		args[i] = a
	}
	cmd := exec.CommandContext(context.Background(), t.command, args...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("AGENT_PORT=%d", port))
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.ports.Release(port)
		return models.AgentHandle{}, fmt.Errorf("transport/local_http: failed to start shim: %w", err)
	}

	endpoint := fmt.Sprintf("http://127.0.0.1:%d", port)
	id := uuid.NewString()

	if err := WaitForHealth(ctx, 250*time.Millisecond, 15*time.Second, func(ctx context.Context) bool {
		resp, err := t.client.Get(endpoint + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}); err != nil {
		_ = cmd.Process.Kill()
		t.ports.Release(port)
		return models.AgentHandle{}, fmt.Errorf("transport/local_http: shim never became healthy: %w", err)
	}

	body, _ := json.Marshal(brief)
	resp, err := t.client.Post(endpoint+"/spawn", "application/json", bytes.NewReader(body))
	if err != nil {
		_ = cmd.Process.Kill()
		t.ports.Release(port)
		return models.AgentHandle{}, fmt.Errorf("transport/local_http: /spawn failed: %w", err)
	}
	resp.Body.Close()

	t.mu.Lock()
	t.procs[id] = &localProcess{cmd: cmd, endpoint: endpoint, brief: brief}
	t.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		log.Info().Str("agentId", id).Msg("transport/local_http: shim process exited")
	}()

	return models.AgentHandle{ID: id, PluginName: brief.PluginName, Status: models.AgentStatusRunning}, nil
}

func (t *LocalHTTPTransport) proc(id string) (*localProcess, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.procs[id]
	return p, ok
}

func (t *LocalHTTPTransport) rpc(ctx context.Context, id, path string, in, out any) error {
	p, ok := t.proc(id)
	if !ok {
		return fmt.Errorf("transport/local_http: unknown handle %q", id)
	}
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport/local_http: %s failed: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("transport/local_http: %s returned status %d", path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (t *LocalHTTPTransport) Pause(ctx context.Context, handle models.AgentHandle) (models.SerializedAgentState, error) {
	var state models.SerializedAgentState
	if err := t.rpc(ctx, handle.ID, "/pause", nil, &state); err != nil {
		return models.SerializedAgentState{}, err
	}
	state.SerializedBy = models.SerializedByPause
	return state, nil
}

func (t *LocalHTTPTransport) Resume(ctx context.Context, state models.SerializedAgentState) (models.AgentHandle, error) {
	if err := t.rpc(ctx, state.AgentID, "/resume", state, nil); err != nil {
		return models.AgentHandle{}, err
	}
	return models.AgentHandle{ID: state.AgentID, PluginName: state.Brief.PluginName, Status: models.AgentStatusRunning}, nil
}

// Kill asks the shim to stop via /kill, sends SIGTERM, and waits up to
// 5s for the process to exit before falling back to SIGKILL.
func (t *LocalHTTPTransport) Kill(ctx context.Context, handle models.AgentHandle, opts KillOptions) (KillResult, error) {
	p, ok := t.proc(handle.ID)
	if !ok {
		return KillResult{}, fmt.Errorf("transport/local_http: unknown handle %q", handle.ID)
	}
	_ = t.rpc(ctx, handle.ID, "/kill", opts, nil)
	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = p.cmd.Wait()
		close(done)
	}()

	clean := true
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		clean = false
		_ = p.cmd.Process.Kill()
	}

	t.mu.Lock()
	delete(t.procs, handle.ID)
	t.mu.Unlock()

	return KillResult{CleanShutdown: clean}, nil
}

func (t *LocalHTTPTransport) ResolveDecision(ctx context.Context, handle models.AgentHandle, decisionID string, resolution models.Resolution) error {
	return t.rpc(ctx, handle.ID, "/resolve", map[string]any{"decisionId": decisionID, "resolution": resolution}, nil)
}

func (t *LocalHTTPTransport) InjectContext(ctx context.Context, handle models.AgentHandle, injection Injection) error {
	return t.rpc(ctx, handle.ID, "/inject-context", injection, nil)
}

func (t *LocalHTTPTransport) UpdateBrief(ctx context.Context, handle models.AgentHandle, partial models.AgentBrief) error {
	return t.rpc(ctx, handle.ID, "/update-brief", partial, nil)
}

func (t *LocalHTTPTransport) RequestCheckpoint(ctx context.Context, handle models.AgentHandle, decisionID string) (models.SerializedAgentState, error) {
	var state models.SerializedAgentState
	err := t.rpc(ctx, handle.ID, "/checkpoint", map[string]any{"decisionId": decisionID}, &state)
	state.SerializedBy = models.SerializedByDecisionCheckpoint
	return state, err
}

func (t *LocalHTTPTransport) Capabilities() Capabilities {
	return Capabilities{Pause: true, Resume: true, Checkpoint: true, ContextInjection: true}
}
