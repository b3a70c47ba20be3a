package persist

import (
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type counter struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestLoadReadOnlyMissing(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	var c counter
	err = s.LoadReadOnly("missing.json", &c)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.False(t, s.Exists("missing.json"))
}

func TestSaveAndLoad(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Save("dir/a.json", counter{Name: "a", Count: 1}, PrivateMode))
	var c counter
	require.NoError(t, s.LoadReadOnly("dir/a.json", &c))
	require.Equal(t, counter{Name: "a", Count: 1}, c)
	info, err := os.Stat(s.Path("dir/a.json"))
	require.NoError(t, err)
	require.Equal(t, PrivateMode, info.Mode().Perm())
	require.NoError(t, s.Remove("dir/a.json"))
	require.NoError(t, s.Remove("dir/a.json"))
}

func TestLoadAndModify(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var c counter
			errs <- s.LoadAndModify("count.json", &c, func() error {
				c.Count++
				return nil
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	var c counter
	require.NoError(t, s.LoadReadOnly("count.json", &c))
	require.Equal(t, 20, c.Count)

	failed := errors.New("no")
	err = s.LoadAndModify("count.json", &c, func() error {
		c.Count = 0
		return failed
	})
	require.ErrorIs(t, err, failed)
	require.NoError(t, s.LoadReadOnly("count.json", &c))
	require.Equal(t, 20, c.Count)
}

func TestList(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	names, err := s.List("peers")
	require.NoError(t, err)
	require.Empty(t, names)
	require.NoError(t, s.Save("peers/b.json", counter{}, PublicMode))
	require.NoError(t, s.Save("peers/a.json", counter{}, PublicMode))
	require.NoError(t, os.WriteFile(s.Path("peers/notes.txt"), []byte("x"), 0o644))
	names, err = s.List("peers")
	require.NoError(t, err)
	require.Equal(t, []string{"peers/a.json", "peers/b.json"}, names)
}
