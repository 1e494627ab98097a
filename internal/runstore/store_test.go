package runstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	return s
}

func TestCreateRun_WritesInitialFiles(t *testing.T) {
	s := newTestStore(t)

	h, err := s.CreateRun("cv/resnet50", CreateOptions{Alias: "baseline", Host: "gpu-box"})
	require.NoError(t, err)
	require.NotEmpty(t, h.ID())

	for _, name := range []string{"meta.json", "status.json", "events.jsonl", "logs.txt"} {
		assert.FileExists(t, filepath.Join(h.Dir(), name))
	}
	assert.DirExists(t, filepath.Join(h.Dir(), "media"))
}

func TestCreateRun_RejectsEmptyPath(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateRun("", CreateOptions{})
	assert.Error(t, err)
}

func TestCreateRun_IDIsSortableAndUnique(t *testing.T) {
	s := newTestStore(t)

	h1, err := s.CreateRun("a", CreateOptions{})
	require.NoError(t, err)
	h2, err := s.CreateRun("b", CreateOptions{})
	require.NoError(t, err)

	assert.NotEqual(t, h1.ID(), h2.ID())
}

func TestOpen_UnknownRunIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Open("does-not-exist")
	assert.Error(t, err)
}

func TestOpen_RoundTripsStatus(t *testing.T) {
	s := newTestStore(t)
	h, err := s.CreateRun("a", CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, h.Finish(StatusFinished))

	reopened, err := s.Open(h.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, reopened.status.Status)
}
