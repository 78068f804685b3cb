package executor

import (
	"sync"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/types"
)

// defaultHistorySize bounds the result buffer; eviction is FIFO.
const defaultHistorySize = 1000

// history is the bounded FIFO buffer of command results. Command ids stay
// unique for the life of the buffer, so lookups are a plain map.
type history struct {
	mu    sync.Mutex
	cap   int
	order []string
	byID  map[string]types.CommandResult
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = defaultHistorySize
	}
	return &history{
		cap:  capacity,
		byID: make(map[string]types.CommandResult, capacity),
	}
}

// add records a result, evicting the oldest entry at capacity. A repeat
// id overwrites in place without consuming a slot.
func (h *history) add(result types.CommandResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.byID[result.CommandID]; exists {
		h.byID[result.CommandID] = result
		return
	}
	if len(h.order) >= h.cap {
		oldest := h.order[0]
		h.order = h.order[1:]
		delete(h.byID, oldest)
	}
	h.order = append(h.order, result.CommandID)
	h.byID[result.CommandID] = result
}

func (h *history) get(commandID string) (types.CommandResult, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.byID[commandID]
	return r, ok
}

// recent returns up to n results, newest first.
func (h *history) recent(n int) []types.CommandResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > len(h.order) {
		n = len(h.order)
	}
	out := make([]types.CommandResult, 0, n)
	for i := len(h.order) - 1; i >= len(h.order)-n; i-- {
		out = append(out, h.byID[h.order[i]])
	}
	return out
}

func (h *history) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.order)
}
