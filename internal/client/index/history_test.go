package index

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_KeepsNewestFive(t *testing.T) {
	var h History
	base := time.UnixMilli(1_000)
	for i := 0; i < 8; i++ {
		h.Push(newHistoryEntry(base.Add(time.Duration(i)*time.Second), OpUpload, nil))
	}

	require.Equal(t, HistorySize, h.Len())
	entries := h.Entries()
	require.Len(t, entries, HistorySize)
	for i, e := range entries {
		// newest first: pushes 7,6,5,4,3
		assert.Equal(t, base.Add(time.Duration(7-i)*time.Second).UnixMilli(), e.Timestamp)
	}

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, entries[0], latest)
}

func TestHistory_Empty(t *testing.T) {
	var h History
	assert.Equal(t, 0, h.Len())
	assert.Empty(t, h.Entries())
	_, ok := h.Latest()
	assert.False(t, ok)
}

func TestHistory_FailureEntry(t *testing.T) {
	e := newHistoryEntry(time.UnixMilli(5), OpDownload, errors.New("boom"))
	assert.False(t, e.Success)
	assert.Equal(t, "boom", e.Error)
	assert.Equal(t, OpDownload, e.Operation)
}

func TestHistory_JSONRoundTripKeepsOrder(t *testing.T) {
	var h History
	h.Push(HistoryEntry{Timestamp: 1, Operation: OpUpload, Success: true})
	h.Push(HistoryEntry{Timestamp: 2, Operation: OpConflict, Success: true})
	h.Push(HistoryEntry{Timestamp: 3, Operation: OpDownload, Success: false, Error: "x"})

	data, err := jsonMarshal(h)
	require.NoError(t, err)

	var got History
	require.NoError(t, jsonUnmarshal(data, &got))
	assert.Equal(t, h.Entries(), got.Entries())
	assert.Equal(t, int64(3), got.Entries()[0].Timestamp)
}

func TestHistory_UnmarshalTruncatesLongArrays(t *testing.T) {
	data := []byte(`[
		{"timestamp":7,"operation":"upload","success":true},
		{"timestamp":6,"operation":"upload","success":true},
		{"timestamp":5,"operation":"upload","success":true},
		{"timestamp":4,"operation":"upload","success":true},
		{"timestamp":3,"operation":"upload","success":true},
		{"timestamp":2,"operation":"upload","success":true},
		{"timestamp":1,"operation":"upload","success":true}
	]`)

	var h History
	require.NoError(t, jsonUnmarshal(data, &h))
	require.Equal(t, HistorySize, h.Len())

	entries := h.Entries()
	assert.Equal(t, int64(7), entries[0].Timestamp)
	assert.Equal(t, int64(3), entries[HistorySize-1].Timestamp)
}
