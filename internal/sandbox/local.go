package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fluxforge/agentcore/internal/common/logger"
)

// localProvider is the co-located process-tree Sandbox Provider backend: a
// temporary directory on the host plus child processes inheriting (and
// overlaying) the sandbox's env map.
type localProvider struct {
	log *logger.Logger
}

func newLocalProvider(opts *options) *localProvider {
	return &localProvider{log: opts.logger.With(zap.String("component", "sandbox.local"))}
}

func (p *localProvider) Create(ctx context.Context, repoURL, token string) (*Sandbox, error) {
	root, err := os.MkdirTemp("", "agentcore_")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	cloneURL := injectToken(repoURL, token)
	repoDir := filepath.Join(root, "repo")

	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", cloneURL, repoDir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.RemoveAll(root)
		return nil, fmt.Errorf("git clone failed: %w: %s", err, stderr.String())
	}

	return &Sandbox{
		ID:        uuid.NewString(),
		Workspace: repoDir,
		Env:       map[string]string{},
		Backend:   BackendLocal,
	}, nil
}

func (p *localProvider) RunCommand(ctx context.Context, sb *Sandbox, cmd string, timeout time.Duration) (CommandResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(runCtx, "sh", "-c", cmd)
	c.Dir = sb.Workspace
	c.Env = mergeEnv(os.Environ(), sb.Env)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return CommandResult{ExitCode: -1, Stdout: "", Stderr: "Command timed out"}, nil
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return CommandResult{
				ExitCode: exitErr.ExitCode(),
				Stdout:   decodeLossy(stdout.Bytes()),
				Stderr:   decodeLossy(stderr.Bytes()),
			}, nil
		}
		return CommandResult{}, fmt.Errorf("run command: %w", err)
	}
	return CommandResult{
		ExitCode: 0,
		Stdout:   decodeLossy(stdout.Bytes()),
		Stderr:   decodeLossy(stderr.Bytes()),
	}, nil
}

func (p *localProvider) ReadFile(ctx context.Context, sb *Sandbox, path string) (string, error) {
	target, err := ResolveWorkspacePath(sb.Workspace, path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(target)
	if err != nil {
		return "", fmt.Errorf("not found: %s", path)
	}
	if info.IsDir() {
		entries, _ := p.ListDir(ctx, sb, path)
		return "", &IsDirectoryError{Path: path, Entries: entries}
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if !utf8.Valid(data) {
		return BinarySentinel(len(data)), nil
	}
	return string(data), nil
}

func (p *localProvider) WriteFile(ctx context.Context, sb *Sandbox, path, content string) error {
	target, err := ResolveWorkspacePath(sb.Workspace, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}
	return os.WriteFile(target, []byte(content), 0o644)
}

func (p *localProvider) ListDir(ctx context.Context, sb *Sandbox, path string) ([]string, error) {
	target, err := ResolveWorkspacePath(sb.Workspace, path)
	if err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(target)
	if err != nil {
		return nil, fmt.Errorf("not found: %s", path)
	}
	names := make([]string, 0, len(dirEntries))
	for _, e := range dirEntries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (p *localProvider) Destroy(ctx context.Context, sb *Sandbox) error {
	root := sb.Workspace
	if filepath.Base(root) == "repo" {
		root = filepath.Dir(root)
	}
	return os.RemoveAll(root)
}

func injectToken(repoURL, token string) string {
	if token == "" || !strings.Contains(repoURL, "github.com") {
		return repoURL
	}
	return strings.Replace(repoURL, "https://", fmt.Sprintf("https://x-access-token:%s@", token), 1)
}

func mergeEnv(base []string, overlay map[string]string) []string {
	merged := make([]string, len(base), len(base)+len(overlay))
	copy(merged, base)
	for k, v := range overlay {
		merged = append(merged, k+"="+v)
	}
	return merged
}

func decodeLossy(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "�")
}
