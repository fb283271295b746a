package index

import "time"

// HistorySize is the number of operations remembered per file.
const HistorySize = 5

type Operation string

const (
	OpUpload   Operation = "upload"
	OpDownload Operation = "download"
	OpDelete   Operation = "delete"
	OpConflict Operation = "conflict"
)

type HistoryEntry struct {
	Timestamp int64     `json:"timestamp"`
	Operation Operation `json:"operation"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// History is a fixed capacity ring buffer of HistoryEntry. Pushing onto a
// full buffer overwrites the oldest entry. The zero value is an empty history
// and copying a History copies its entries.
type History struct {
	entries [HistorySize]HistoryEntry
	next    int // slot the next push writes to
	size    int
}

func (h *History) Push(e HistoryEntry) {
	h.entries[h.next] = e
	h.next = (h.next + 1) % HistorySize
	if h.size < HistorySize {
		h.size++
	}
}

func (h *History) Len() int {
	return h.size
}

// Entries returns the recorded entries, newest first.
func (h *History) Entries() []HistoryEntry {
	out := make([]HistoryEntry, 0, h.size)
	for i := 1; i <= h.size; i++ {
		out = append(out, h.entries[(h.next-i+HistorySize)%HistorySize])
	}
	return out
}

// Latest returns the most recent entry.
func (h *History) Latest() (HistoryEntry, bool) {
	if h.size == 0 {
		return HistoryEntry{}, false
	}
	return h.entries[(h.next-1+HistorySize)%HistorySize], true
}

func (h History) MarshalJSON() ([]byte, error) {
	return jsonMarshal(h.Entries())
}

// UnmarshalJSON accepts a newest first array of any length and keeps the
// HistorySize newest entries.
func (h *History) UnmarshalJSON(data []byte) error {
	var entries []HistoryEntry
	if err := jsonUnmarshal(data, &entries); err != nil {
		return err
	}
	*h = History{}
	if len(entries) > HistorySize {
		entries = entries[:HistorySize]
	}
	for i := len(entries) - 1; i >= 0; i-- {
		h.Push(entries[i])
	}
	return nil
}

func newHistoryEntry(at time.Time, op Operation, err error) HistoryEntry {
	e := HistoryEntry{
		Timestamp: at.UnixMilli(),
		Operation: op,
		Success:   err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
