package knowledge

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favbox/gptdb/schema"
)

func writeFile(t *testing.T, name, content string) string {
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestParseTypes(t *testing.T) {
	kt, err := ParseKnowledgeType("url")
	require.NoError(t, err)
	assert.Equal(t, TypeURL, kt)
	_, err = ParseKnowledgeType("video")
	assert.Error(t, err)

	dt, err := DocumentTypeFromPath("a/b/README.MD")
	require.NoError(t, err)
	assert.Equal(t, DocumentMarkdown, dt)
	_, err = DocumentTypeFromPath("x.pdf")
	assert.ErrorIs(t, err, ErrUnsupportedDocument)
}

func TestFileKnowledge(t *testing.T) {
	f := NewFactory(nil)
	ctx := context.Background()

	t.Run("markdown", func(t *testing.T) {
		p := writeFile(t, "story.md", "# Title\n\nMegatron leads.")
		k, err := f.FromFilePath(p, Options{Metadata: map[string]any{"space": "s1"}})
		require.NoError(t, err)
		assert.Equal(t, TypeDocument, k.Type())
		docs, err := k.Load(ctx)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, p, docs[0].Source())
		assert.Equal(t, "s1", docs[0].Metadata["space"])
	})

	t.Run("html", func(t *testing.T) {
		p := writeFile(t, "page.html", "<html><body><h1>GPT-DB</h1><p>Hello <b>AWEL</b></p></body></html>")
		k, err := f.FromFilePath(p, Options{})
		require.NoError(t, err)
		docs, err := k.Load(ctx)
		require.NoError(t, err)
		assert.Contains(t, docs[0].Content, "# GPT-DB")
		assert.Contains(t, docs[0].Content, "**AWEL**")
	})

	t.Run("csv", func(t *testing.T) {
		p := writeFile(t, "data.csv", "name,role\nOptimus,leader\nBumblebee,scout\n")
		k, err := f.FromFilePath(p, Options{})
		require.NoError(t, err)
		docs, err := k.Load(ctx)
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "name: Bumblebee\nrole: scout", docs[1].Content)
		assert.Equal(t, 1, docs[1].Metadata["row"])
	})

	t.Run("json", func(t *testing.T) {
		p := writeFile(t, "data.json", `[{"q":"a"},"plain"]`)
		k, err := f.FromFilePath(p, Options{})
		require.NoError(t, err)
		docs, err := k.Load(ctx)
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, `{"q":"a"}`, docs[0].Content)
		assert.Equal(t, "plain", docs[1].Content)

		p = writeFile(t, "obj.json", `{"k": 1}`)
		k, _ = f.FromFilePath(p, Options{})
		docs, err = k.Load(ctx)
		require.NoError(t, err)
		assert.Len(t, docs, 1)
	})

	t.Run("missing file", func(t *testing.T) {
		k, err := f.FromFilePath(filepath.Join(t.TempDir(), "none.txt"), Options{})
		require.NoError(t, err)
		_, err = k.Load(ctx)
		assert.Error(t, err)
	})
}

func TestURLKnowledge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/plain" {
			w.Header().Set("Content-Type", "text/plain")
			_, _ = io.WriteString(w, "<b>not html</b>")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, "<h2>Docs</h2><ul><li>one</li></ul>")
	}))
	defer srv.Close()

	f := NewFactory(srv.Client())
	k, err := f.Create(TypeURL, srv.URL+"/page", Options{})
	require.NoError(t, err)
	docs, err := k.Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, docs[0].Content, "## Docs")
	assert.Equal(t, srv.URL+"/page", docs[0].Metadata[schema.MetaDataKeySource])

	k, _ = f.FromURL(srv.URL+"/plain", Options{})
	docs, err = k.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "<b>not html</b>", docs[0].Content)

	_, err = f.FromURL("ftp://x", Options{})
	assert.Error(t, err)
}

func TestTextKnowledge(t *testing.T) {
	f := NewFactory(nil)
	k, err := f.Create(TypeText, "GPT-DB is a platform", Options{})
	require.NoError(t, err)
	docs, err := k.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "text", docs[0].Source())

	_, err = f.FromText("  ", "empty", Options{}).Load(context.Background())
	assert.Error(t, err)
}
