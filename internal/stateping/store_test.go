package stateping

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestAppendAndSnapshotOrder(t *testing.T) {
	s := NewStore()
	id := uuid.New()
	s.Append(id, []byte("a"))
	s.Append(id, []byte("b"))
	s.Append(id, []byte("c"))

	got := s.Snapshot(id)
	require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, got)
}

func TestAppendEvictsOldestAtCap(t *testing.T) {
	s := NewStore()
	id := uuid.New()
	for i := 0; i < MaxFrames+5; i++ {
		s.Append(id, []byte{byte(i)})
	}
	got := s.Snapshot(id)
	require.Len(t, got, MaxFrames)
	require.Equal(t, byte(5), got[0][0], "oldest 5 frames should have been evicted")
}

func TestResetClearsList(t *testing.T) {
	s := NewStore()
	id := uuid.New()
	s.Append(id, []byte("a"))
	s.Reset(id)
	require.Empty(t, s.Snapshot(id))
}

func TestSnapshotOfUnknownUUIDIsEmpty(t *testing.T) {
	s := NewStore()
	require.Empty(t, s.Snapshot(uuid.New()))
}
