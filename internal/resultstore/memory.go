package resultstore

import (
	"context"
	"sort"
	"sync"

	"github.com/pingsantohq/pptpagent/pkg/types"
)

// Memory keeps the latest result per target for the local API.
type Memory struct {
	mu     sync.RWMutex
	latest map[string]types.ProbeResult
}

func NewMemory() *Memory {
	return &Memory{latest: make(map[string]types.ProbeResult)}
}

// Send records results, keeping the newest per target by timestamp.
func (m *Memory) Send(ctx context.Context, results []types.ProbeResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, res := range results {
		if prev, ok := m.latest[res.TargetID]; ok && prev.Timestamp.After(res.Timestamp) {
			continue
		}
		m.latest[res.TargetID] = res
	}
	return nil
}

func (m *Memory) Get(targetID string) (types.ProbeResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.latest[targetID]
	return res, ok
}

// Latest returns the newest result of every target, ordered by target ID.
func (m *Memory) Latest() []types.ProbeResult {
	m.mu.RLock()
	out := make([]types.ProbeResult, 0, len(m.latest))
	for _, res := range m.latest {
		out = append(out, res)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out
}
