package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, base, rel, content string) {
	t.Helper()
	full := filepath.Join(base, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func TestLocalFileStorage_Move(t *testing.T) {
	tempDir := t.TempDir()
	logger, _ := zap.NewDevelopment()
	fs := NewLocalFileStorage(tempDir, logger)
	ctx := context.Background()

	t.Run("moves file and creates parent directories", func(t *testing.T) {
		writeFile(t, tempDir, "staging/u1.jpg", "photo")

		err := fs.Move(ctx, "staging/u1.jpg", "evidence/booking/PO-1/u1.jpg")

		require.NoError(t, err)
		assert.NoFileExists(t, filepath.Join(tempDir, "staging/u1.jpg"))
		content, err := os.ReadFile(filepath.Join(tempDir, "evidence/booking/PO-1/u1.jpg"))
		require.NoError(t, err)
		assert.Equal(t, "photo", string(content))
	})

	t.Run("never overwrites destination", func(t *testing.T) {
		writeFile(t, tempDir, "staging/u2.jpg", "new")
		writeFile(t, tempDir, "evidence/booking/PO-1/taken.jpg", "old")

		err := fs.Move(ctx, "staging/u2.jpg", "evidence/booking/PO-1/taken.jpg")

		assert.ErrorIs(t, err, os.ErrExist)
		assert.FileExists(t, filepath.Join(tempDir, "staging/u2.jpg"))
		content, _ := os.ReadFile(filepath.Join(tempDir, "evidence/booking/PO-1/taken.jpg"))
		assert.Equal(t, "old", string(content))
	})

	t.Run("missing source", func(t *testing.T) {
		err := fs.Move(ctx, "staging/missing.jpg", "evidence/booking/PO-1/missing.jpg")
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("rejects paths outside base", func(t *testing.T) {
		writeFile(t, tempDir, "staging/u3.jpg", "x")
		assert.Error(t, fs.Move(ctx, "staging/u3.jpg", "../outside.jpg"))
		assert.Error(t, fs.Move(ctx, "../../etc/passwd", "evidence/x"))
	})

	t.Run("cancelled context", func(t *testing.T) {
		writeFile(t, tempDir, "staging/u4.jpg", "x")
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, fs.Move(cctx, "staging/u4.jpg", "evidence/u4.jpg"), context.Canceled)
		assert.FileExists(t, filepath.Join(tempDir, "staging/u4.jpg"))
	})
}

func TestLocalFileStorage_DeleteAndExists(t *testing.T) {
	tempDir := t.TempDir()
	fs := NewLocalFileStorage(tempDir, zap.NewNop())
	ctx := context.Background()

	writeFile(t, tempDir, "evidence/a.jpg", "x")
	assert.True(t, fs.Exists(ctx, "evidence/a.jpg"))

	require.NoError(t, fs.Delete(ctx, "evidence/a.jpg"))
	assert.False(t, fs.Exists(ctx, "evidence/a.jpg"))

	// idempotent
	require.NoError(t, fs.Delete(ctx, "evidence/a.jpg"))

	assert.Error(t, fs.Delete(ctx, "../escape.jpg"))
	assert.False(t, fs.Exists(ctx, "../"+filepath.Base(tempDir)))
}

func TestLocalFileStorage_GetFullPath(t *testing.T) {
	fs := NewLocalFileStorage("/data", zap.NewNop())
	assert.Equal(t, filepath.Join("/data", "evidence", "a.jpg"), fs.GetFullPath("evidence/a.jpg"))
}
