package demofs

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	assert.Equal(t, filepath.Join("demos", "duel.dm2"), Resolve("demos", "duel", None))
	assert.Equal(t, filepath.Join("demos", "duel.dm2.gz"), Resolve("demos", "duel", Gzip))
	assert.Equal(t, filepath.Join("demos", "duel.demo.dm2.zst"), Resolve("demos", "duel.demo", Zstd))
	assert.Equal(t, filepath.Join("demos", "duel.v2.dm2"), Resolve("demos", "duel.v2", None))
	assert.Equal(t, filepath.Join("demos", "duel.dm2"), Resolve("demos", "duel.dm2", None))
	assert.Equal(t, filepath.Join("demos", "duel.DM2.gz"), Resolve("demos", "duel.DM2", Gzip))
	assert.Equal(t, filepath.Join("demos", "duel.dm2.gz"), Resolve("demos", "duel.dm2.gz", Gzip))
	assert.Equal(t, filepath.Join("demos", "tv.mvd2"), Resolve("demos", "tv.mvd2", None))
	assert.Equal(t, "/tmp/x.dm2", Resolve("demos", "/tmp/x", None))
}

func TestIsDemo(t *testing.T) {
	for _, name := range []string{"a.dm2", "a.DM2.gz", "a.dm2.zst", "tv.mvd2", "tv.mvd2.gz"} {
		assert.True(t, IsDemo(name), name)
	}
	for _, name := range []string{"a", "a.v2", "a.gz", "a.dm2.bak"} {
		assert.False(t, IsDemo(name), name)
	}
}

func TestCompressionFor(t *testing.T) {
	assert.Equal(t, None, CompressionFor("a.dm2"))
	assert.Equal(t, Gzip, CompressionFor("a.dm2.gz"))
	assert.Equal(t, Zstd, CompressionFor("a.DM2.ZST"))
}

func TestCreateOpenRoundTrip(t *testing.T) {
	payload := []byte("demo payload that is long enough to be worth compressing, compressing, compressing")

	for _, c := range []Compression{None, Gzip, Zstd} {
		t.Run(c.String(), func(t *testing.T) {
			path := Resolve(filepath.Join(t.TempDir(), "nested"), "rec", c)

			w, err := Create(path, c)
			require.NoError(t, err)
			_, err = w.Write(payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			f, err := Open(path)
			require.NoError(t, err)
			defer f.Close()

			assert.Equal(t, int64(len(payload)), f.Size())

			_, err = f.Seek(5, io.SeekStart)
			require.NoError(t, err)
			rest, err := io.ReadAll(f)
			require.NoError(t, err)
			assert.Equal(t, payload[5:], rest)
		})
	}
}

func TestFindAndList(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.dm2"), []byte{1}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "two.dm2.gz"), []byte{1}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte{1}, 0o644))

	path, err := Find(dir, "two")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "two.dm2.gz"), path)

	_, err = Find(dir, "three")
	assert.ErrorIs(t, err, os.ErrNotExist)

	paths, err := List(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "one.dm2"),
		filepath.Join(dir, "two.dm2.gz"),
	}, paths)
}
