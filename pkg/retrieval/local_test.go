package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/ragchat/pkg/chat"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLocalRetriever_LoadsMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "monday.txt"), "Monday dinner: lasagna with salad.\r\n\r\nMonday lunch: tomato soup.")
	writeFile(t, filepath.Join(dir, "week2", "tuesday.txt"), "Tuesday dinner: grilled salmon.")
	writeFile(t, filepath.Join(dir, "notes.md"), "dinner dinner dinner")

	r, err := NewLocalRetriever(dir, "")
	require.NoError(t, err)
	require.Equal(t, 3, r.Len())

	docs, err := r.Retrieve(context.Background(), "What's for dinner on Monday?", 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "monday.txt", docs[0].Source)
	require.Equal(t, "Monday dinner: lasagna with salad.", docs[0].Content)
	require.Equal(t, "Monday lunch: tomato soup.", docs[1].Content)
	require.Greater(t, docs[0].Score, docs[1].Score)

	docs, err = r.Retrieve(context.Background(), "salmon", 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "week2/tuesday.txt", docs[0].Source)
	require.Equal(t, 1.0, docs[0].Score)
}

func TestLocalRetriever_NoMatches(t *testing.T) {
	r := NewLocalRetrieverFromDocuments([]chat.Document{{Source: "a", Content: "pancakes"}})

	docs, err := r.Retrieve(context.Background(), "what is the", 3)
	require.NoError(t, err)
	require.Empty(t, docs)

	docs, err = r.Retrieve(context.Background(), "salmon", 3)
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestLocalRetriever_MissingDirAndBadPattern(t *testing.T) {
	r, err := NewLocalRetriever(filepath.Join(t.TempDir(), "nope"), "")
	require.NoError(t, err)
	require.Equal(t, 0, r.Len())

	_, err = NewLocalRetriever(t.TempDir(), "[")
	require.Error(t, err)
}

func TestLocalRetriever_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocalRetrieverFromDocuments(nil).Retrieve(ctx, "dinner", 1)
	require.ErrorIs(t, err, context.Canceled)
}
