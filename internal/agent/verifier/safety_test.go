package verifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsForbiddenCommand(t *testing.T) {
	forbidden := []string{
		"git status",
		"GIT PUSH",
		"gh pr create",
		"git commit -m wip",
		"npm run build && git push",
		"create pr for this",
	}
	for _, cmd := range forbidden {
		assert.True(t, isForbiddenCommand(cmd), "expected %q to be forbidden", cmd)
	}

	allowed := []string{
		"npm test",
		"pytest -v",
		"pnpm install --frozen-lockfile",
		"make test",
	}
	for _, cmd := range allowed {
		assert.False(t, isForbiddenCommand(cmd), "expected %q to be allowed", cmd)
	}
}
