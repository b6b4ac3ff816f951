package githost

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractRepoFullName(t *testing.T) {
	cases := map[string]string{
		"https://github.com/acme/widgets.git": "acme/widgets",
		"https://github.com/acme/widgets":     "acme/widgets",
		"git@github.com:acme/widgets.git":     "acme/widgets",
	}
	for input, want := range cases {
		got, err := ExtractRepoFullName(input)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ExtractRepoFullName("https://gitlab.com/acme/widgets")
	assert.Error(t, err)
}

// githubAPIBaseOverride points the package-level API base at url for the
// duration of a test and returns a func to restore it.
func githubAPIBaseOverride(url string) func() {
	prev := githubAPIBase
	githubAPIBase = url
	return func() { githubAPIBase = prev }
}

func TestPATClient_CreatePR(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widgets/pulls", r.URL.Path)
		assert.Equal(t, "token secret", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "feature", body["head"])
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"number":   42,
			"html_url": "https://github.com/acme/widgets/pull/42",
			"state":    "open",
		})
	}))
	defer srv.Close()

	c := NewPATClient("secret")
	orig := githubAPIBaseOverride(srv.URL)
	defer orig()

	pr, err := c.CreatePR(context.Background(), "acme/widgets", "Add thing", "body text", "feature", "main")
	require.NoError(t, err)
	assert.Equal(t, 42, pr.Number)
	assert.Equal(t, "https://github.com/acme/widgets/pull/42", pr.URL)
}

func TestPATClient_MergePR_PropagatesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, _ = w.Write([]byte(`{"message":"Pull Request is not mergeable"}`))
	}))
	defer srv.Close()

	c := NewPATClient("secret")
	orig := githubAPIBaseOverride(srv.URL)
	defer orig()

	_, err := c.MergePR(context.Background(), "acme/widgets", 42)
	assert.Error(t, err)
}
