package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-github/v81/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Path     string `json:"path,omitempty"`
	SHA      string `json:"sha,omitempty"`
	Encoding string `json:"encoding,omitempty"`
	Content  string `json:"content,omitempty"`
}

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()

	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("/repos/acme/docs/contents/content/docs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []entry{
			{Type: "file", Name: "intro.md"},
			{Type: "file", Name: "logo.png"},
			{Type: "dir", Name: "guides"},
		})
	})
	mux.HandleFunc("/repos/acme/docs/contents/content/docs/guides", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []entry{
			{Type: "file", Name: "setup.markdown"},
			{Type: "file", Name: "advanced.md"},
		})
	})
	mux.HandleFunc("/repos/acme/docs/contents/content/docs/intro.md", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, entry{
			Type:     "file",
			Name:     "intro.md",
			Path:     "content/docs/intro.md",
			SHA:      "blob123",
			Encoding: "base64",
			Content:  base64.StdEncoding.EncodeToString([]byte("# Intro\n\nHello.\n")),
		})
	})
	mux.HandleFunc("/repos/acme/docs/commits", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "content/docs", r.URL.Query().Get("path"))
		writeJSON(w, []map[string]string{{"sha": "commit456"}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	gh := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	gh.BaseURL = base

	return NewFetcher(&Client{Client: gh}, "acme", "docs", "/content/docs/")
}

func TestListDocs(t *testing.T) {
	f := newTestFetcher(t)

	docs, err := f.ListDocs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"guides/advanced.md", "guides/setup.markdown", "intro.md"}, docs)
}

func TestFetchDoc(t *testing.T) {
	f := newTestFetcher(t)

	doc, err := f.FetchDoc(context.Background(), "intro.md")
	require.NoError(t, err)
	assert.Equal(t, "intro.md", doc.Path)
	assert.Equal(t, "# Intro\n\nHello.\n", doc.Content)
	assert.Equal(t, "blob123", doc.SHA)
	assert.Equal(t, "https://raw.githubusercontent.com/acme/docs/main/content/docs/intro.md", doc.URL)
}

func TestFetchDoc_NotFound(t *testing.T) {
	f := newTestFetcher(t)

	_, err := f.FetchDoc(context.Background(), "missing.md")
	assert.Error(t, err)
}

func TestGetLatestCommitSHA(t *testing.T) {
	f := newTestFetcher(t)

	sha, err := f.GetLatestCommitSHA(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "commit456", sha)
	assert.Equal(t, "acme/docs", f.Repository())
}

func TestNewFetcher_Defaults(t *testing.T) {
	f := NewFetcher(nil, "", "", "")
	assert.Equal(t, DefaultOwner+"/"+DefaultRepo, f.Repository())
	assert.Equal(t, DefaultBasePath, f.basePath)
}
