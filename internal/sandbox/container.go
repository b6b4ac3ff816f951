package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fluxforge/agentcore/internal/common/logger"
)

// devServerPorts are the ports the verifier's system prompt instructs it to
// try for a freshly started dev server (see verifier.go's system prompt).
// Each is published host:container 1:1 so the verifier's host-process
// headless-browser screenshot tool can reach "http://localhost:<port>"
// unchanged regardless of which sandbox backend is running the server.
var devServerPorts = []string{"3000", "5173", "8080"}

func devServerPortBindings() (nat.PortSet, nat.PortMap) {
	exposed := make(nat.PortSet, len(devServerPorts))
	bindings := make(nat.PortMap, len(devServerPorts))
	for _, p := range devServerPorts {
		port := nat.Port(p + "/tcp")
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: p}}
	}
	return exposed, bindings
}

// containerProvider is the remote Sandbox Provider backend: each sandbox is a
// long-lived container running "sleep infinity", with all workspace
// operations dispatched through exec rather than volume mounts, mirroring
// the co-located backend's semantics over a Docker daemon connection.
type containerProvider struct {
	cli   *client.Client
	image string
	log   *logger.Logger
}

func newContainerProvider(opts *options) (*containerProvider, error) {
	clientOpts := []client.Opt{client.WithAPIVersionNegotiation()}
	if opts.containerHost != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.containerHost))
	}
	if opts.containerAPI != "" {
		clientOpts = append(clientOpts, client.WithVersion(opts.containerAPI))
	}

	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	return &containerProvider{
		cli:   cli,
		image: opts.containerImage,
		log:   opts.logger.With(zap.String("component", "sandbox.container")),
	}, nil
}

const containerWorkspace = "/workspace/repo"

func (p *containerProvider) Create(ctx context.Context, repoURL, token string) (*Sandbox, error) {
	exposed, bindings := devServerPortBindings()
	resp, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image:        p.image,
		Cmd:          []string{"sleep", "infinity"},
		WorkingDir:   "/workspace",
		ExposedPorts: exposed,
	}, &container.HostConfig{AutoRemove: false, PortBindings: bindings}, nil, nil, "agentcore-sandbox-"+uuid.NewString()[:8])
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = p.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("start container: %w", err)
	}

	sb := &Sandbox{
		ID:          uuid.NewString(),
		Workspace:   containerWorkspace,
		Env:         map[string]string{},
		Backend:     BackendContainer,
		ContainerID: resp.ID,
	}

	cloneURL := injectToken(repoURL, token)
	cloneCmd := fmt.Sprintf("git clone --depth 1 %s %s", shellQuote(cloneURL), shellQuote(containerWorkspace))
	result, err := p.exec(ctx, sb, cloneCmd, 60*time.Second)
	if err != nil {
		p.teardownContainer(ctx, resp.ID)
		return nil, fmt.Errorf("clone exec: %w", err)
	}
	if result.ExitCode != 0 {
		p.teardownContainer(ctx, resp.ID)
		return nil, fmt.Errorf("git clone failed: %s", result.Stderr)
	}

	return sb, nil
}

func (p *containerProvider) RunCommand(ctx context.Context, sb *Sandbox, cmd string, timeout time.Duration) (CommandResult, error) {
	return p.exec(ctx, sb, cmd, timeout)
}

func (p *containerProvider) exec(ctx context.Context, sb *Sandbox, cmd string, timeout time.Duration) (CommandResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	env := make([]string, 0, len(sb.Env))
	for k, v := range sb.Env {
		env = append(env, k+"="+v)
	}

	execConfig := container.ExecOptions{
		Cmd:          []string{"sh", "-c", cmd},
		Env:          env,
		WorkingDir:   sb.Workspace,
		AttachStdout: true,
		AttachStderr: true,
	}

	execID, err := p.cli.ContainerExecCreate(runCtx, sb.ContainerID, execConfig)
	if err != nil {
		return CommandResult{}, fmt.Errorf("exec create: %w", err)
	}

	attach, err := p.cli.ContainerExecAttach(runCtx, execID.ID, container.ExecAttachOptions{})
	if err != nil {
		return CommandResult{}, fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copyDone <- copyErr
	}()

	select {
	case <-runCtx.Done():
		return CommandResult{ExitCode: -1, Stdout: "", Stderr: "Command timed out"}, nil
	case copyErr := <-copyDone:
		if copyErr != nil && copyErr != io.EOF {
			return CommandResult{}, fmt.Errorf("read exec output: %w", copyErr)
		}
	}

	inspect, err := p.cli.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return CommandResult{}, fmt.Errorf("exec inspect: %w", err)
	}

	return CommandResult{
		ExitCode: inspect.ExitCode,
		Stdout:   decodeLossy(stdout.Bytes()),
		Stderr:   decodeLossy(stderr.Bytes()),
	}, nil
}

func (p *containerProvider) ReadFile(ctx context.Context, sb *Sandbox, path string) (string, error) {
	target, err := ResolveWorkspacePath(sb.Workspace, path)
	if err != nil {
		return "", err
	}

	statResult, err := p.exec(ctx, sb, fmt.Sprintf("test -d %s && echo DIR || echo FILE", shellQuote(target)), 10*time.Second)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(statResult.Stdout) == "DIR" {
		entries, _ := p.ListDir(ctx, sb, path)
		return "", &IsDirectoryError{Path: path, Entries: entries}
	}

	result, err := p.exec(ctx, sb, fmt.Sprintf("base64 %s", shellQuote(target)), 30*time.Second)
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("not found: %s", path)
	}
	return decodeBase64Lossy(result.Stdout)
}

func (p *containerProvider) WriteFile(ctx context.Context, sb *Sandbox, path, content string) error {
	target, err := ResolveWorkspacePath(sb.Workspace, path)
	if err != nil {
		return err
	}
	encoded := encodeBase64(content)
	cmd := fmt.Sprintf("mkdir -p $(dirname %s) && echo %s | base64 -d > %s", shellQuote(target), shellQuote(encoded), shellQuote(target))
	result, err := p.exec(ctx, sb, cmd, 30*time.Second)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("write file: %s", result.Stderr)
	}
	return nil
}

func (p *containerProvider) ListDir(ctx context.Context, sb *Sandbox, path string) ([]string, error) {
	target, err := ResolveWorkspacePath(sb.Workspace, path)
	if err != nil {
		return nil, err
	}
	result, err := p.exec(ctx, sb, fmt.Sprintf("ls -1F %s", shellQuote(target)), 10*time.Second)
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("not found: %s", path)
	}
	lines := strings.Split(strings.TrimRight(result.Stdout, "\n"), "\n")
	names := make([]string, 0, len(lines))
	for _, l := range lines {
		if l == "" {
			continue
		}
		names = append(names, strings.TrimRight(l, "*@=|"))
	}
	sort.Strings(names)
	return names, nil
}

func (p *containerProvider) Destroy(ctx context.Context, sb *Sandbox) error {
	return p.teardownContainer(ctx, sb.ContainerID)
}

func (p *containerProvider) teardownContainer(ctx context.Context, containerID string) error {
	if containerID == "" {
		return nil
	}
	timeout := 5
	_ = p.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
	if err := p.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		p.log.Warn("remove container failed", zap.String("container_id", containerID), zap.Error(err))
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
