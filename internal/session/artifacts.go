package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fluxforge/agentcore/internal/agent/orchestrator"
	"github.com/fluxforge/agentcore/internal/store"
)

// persistArtifact writes data beneath artifactsDir/runID/name<ext> (ext
// chosen from kind, matching the original's {"diff": ".patch", "log":
// ".log", "report": ".md", "screenshot": ".png"} map with a ".txt"
// fallback) and records it in the store. Returns the artifact's store ID.
func (c *Controller) persistArtifact(ctx context.Context, runID string, kind store.ArtifactKind, name string, data []byte, metadata map[string]any) (string, error) {
	runDir := filepath.Join(c.artifactsDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("session: create artifact dir: %w", err)
	}

	path := filepath.Join(runDir, name+store.ExtensionForKind(kind))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("session: write artifact %s: %w", path, err)
	}

	return c.store.CreateArtifact(ctx, runID, kind, name, path, int64(len(data)), metadata)
}

// artifactSaver adapts persistArtifact to orchestrator.ArtifactSaver, the
// hook sub-agents (the verifier's screenshot tool, in practice) use to
// persist a byproduct mid-run without knowing about the store directly.
func (c *Controller) artifactSaver(runID string) orchestrator.ArtifactSaver {
	return func(ctx context.Context, name, kind string, data []byte, metadata map[string]any) (string, error) {
		return c.persistArtifact(ctx, runID, store.ArtifactKind(kind), name, data, metadata)
	}
}
