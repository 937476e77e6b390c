package keylog

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterSerializesLines(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = w.Write([]byte("CLIENT_RANDOM aa bb\n"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, bytes.Count(buf.Bytes(), []byte("CLIENT_RANDOM aa bb\n")))
}

func TestOpenAppendsAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.log")
	w, err := Open(path)
	require.NoError(t, err)

	_, err = w.Write([]byte("line1\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	n, err := w.Write([]byte("dropped\n"))
	require.NoError(t, err)
	assert.Equal(t, len("dropped\n"), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line1\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvVar, "")
	w, err := FromEnv()
	require.NoError(t, err)
	assert.Nil(t, w)

	path := filepath.Join(t.TempDir(), "env.log")
	t.Setenv(EnvVar, path)
	w, err = FromEnv()
	require.NoError(t, err)
	require.NotNil(t, w)
	require.NoError(t, w.Close())
}
