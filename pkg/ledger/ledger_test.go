package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_LoadEmpty(t *testing.T) {
	st, err := NewStore(t.TempDir())
	require.NoError(t, err)

	seen, err := st.Load("someaccount")
	require.NoError(t, err)
	assert.Equal(t, 0, seen.Len())
	assert.False(t, seen.Has("anything"))
}

func TestStore_FlushAndLoad(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(dir)
	require.NoError(t, err)

	seen := NewSeen()
	seen.Record("111")
	seen.Record("222")
	seen.Record("333")
	require.NoError(t, st.Flush("acct", seen))

	// file is plain newline-delimited text, oldest first
	data, err := os.ReadFile(filepath.Join(dir, "acct.txt"))
	require.NoError(t, err)
	assert.Equal(t, "111\n222\n333\n", string(data))

	loaded, err := st.Load("acct")
	require.NoError(t, err)
	assert.Equal(t, []string{"111", "222", "333"}, loaded.IDs())
	assert.True(t, loaded.Has("222"))
	assert.False(t, loaded.Has("444"))
}

func TestSeen_CapacityEviction(t *testing.T) {
	seen := NewSeen()
	for i := 0; i < Capacity+20; i++ {
		seen.Record(fmt.Sprintf("id-%03d", i))
	}

	assert.Equal(t, Capacity, seen.Len())
	// oldest 20 evicted, newest 50 kept
	assert.False(t, seen.Has("id-000"))
	assert.False(t, seen.Has("id-019"))
	assert.True(t, seen.Has("id-020"))
	assert.True(t, seen.Has("id-069"))

	ids := seen.IDs()
	assert.Equal(t, "id-020", ids[0])
	assert.Equal(t, "id-069", ids[len(ids)-1])
}

func TestSeen_RecordDuplicateAndEmpty(t *testing.T) {
	seen := NewSeen()
	seen.Record("a")
	seen.Record("a")
	seen.Record("")
	assert.Equal(t, 1, seen.Len())
}

func TestStore_FlushBounded(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(dir)
	require.NoError(t, err)

	seen := NewSeen()
	for i := 0; i < 75; i++ {
		seen.Record(fmt.Sprintf("%d", i))
	}
	require.NoError(t, st.Flush("acct", seen))

	data, err := os.ReadFile(filepath.Join(dir, "acct.txt"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, Capacity)
	assert.Equal(t, "25", lines[0]) // oldest surviving
	assert.Equal(t, "74", lines[len(lines)-1])
}

func TestStore_FlushReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(dir)
	require.NoError(t, err)

	first := NewSeen()
	first.Record("old")
	require.NoError(t, st.Flush("acct", first))

	second := NewSeen()
	second.Record("new")
	require.NoError(t, st.Flush("acct", second))

	loaded, err := st.Load("acct")
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, loaded.IDs())

	// no temp leftovers after successful flushes
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_PathSanitized(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(dir)
	require.NoError(t, err)

	seen := NewSeen()
	seen.Record("x")
	require.NoError(t, st.Flush("../evil/../../name", seen))

	// everything unsafe collapsed into the ledger dir
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), "/")

	loaded, err := st.Load("../evil/../../name")
	require.NoError(t, err)
	assert.True(t, loaded.Has("x"))
}

func TestStore_LoadSkipsBlankLines(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "acct.txt"), []byte("111\n\n  \n222\n"), 0o600))

	loaded, err := st.Load("acct")
	require.NoError(t, err)
	assert.Equal(t, []string{"111", "222"}, loaded.IDs())
}
