package history

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExport_FromSQLite(t *testing.T) {
	ctx := context.Background()
	src, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Append(ctx, "googlecpp", testRun("a1", 1000), NoVersion)
	require.NoError(t, err)
	snap, err := src.Load(ctx, "googlecpp")
	require.NoError(t, err)
	_, err = src.Append(ctx, "googlecpp", testRun("a2", 3000), snap.Version)
	require.NoError(t, err)
	_, err = src.Append(ctx, "go", testRun("a2", 2000), NoVersion)
	require.NoError(t, err)

	doc, err := Export(ctx, src, true, WithRepoURL("https://github.com/acme/svc"))
	require.NoError(t, err)

	out, err := doc.Encode()
	require.NoError(t, err)
	text := string(out)
	assert.True(t, strings.HasPrefix(text, DataJSPrefix))
	assert.Contains(t, text, `"lastUpdate": 3000`)
	assert.Contains(t, text, `"repoUrl": "https://github.com/acme/svc"`)
	assert.Contains(t, text, `<tag> & more`, "no HTML escaping")

	back, err := Decode(out)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"googlecpp", "go"}, back.Tools())
	s, ok := back.Series("googlecpp")
	require.True(t, ok)
	require.Equal(t, 2, s.Len())
	assert.Equal(t, "a2", s.Run(1).Commit.ID)
	assert.JSONEq(t, string(snap.Series.Raw(0)), string(s.Raw(0)))
}

func TestExport_FileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newTestFileStore(t, "data.js")
	_, err := src.Append(ctx, "googlecpp", testRun("a1", 1000), NoVersion)
	require.NoError(t, err)

	doc, err := Export(ctx, src, true, WithRepoURL("https://github.com/acme/svc"))
	require.NoError(t, err)
	out, err := doc.Encode()
	require.NoError(t, err)

	data, err := os.ReadFile(src.path)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(out))
}

func TestExport_EmptyStore(t *testing.T) {
	doc, err := Export(context.Background(), newTestFileStore(t, "data.json"), false)
	require.NoError(t, err)
	assert.Empty(t, doc.Tools())
}
