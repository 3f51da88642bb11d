package fetch

import (
	"context"
	"sort"
	"sync"
	"time"
)

// OutcomeOK is the stats outcome for a validated response.
const OutcomeOK = "ok"

// StatsEvent describes one Fetch call. Outcome is OutcomeOK or an ErrorKind.
type StatsEvent struct {
	Endpoint string
	Outcome  string
	At       time.Time
}

// StatsRecorder stores fetch decision counters.
type StatsRecorder interface {
	Record(ctx context.Context, ev StatsEvent) error
	Totals(ctx context.Context) ([]EndpointStats, error)
}

// EndpointStats is the per-endpoint outcome tally.
type EndpointStats struct {
	Endpoint string           `json:"endpoint"`
	Outcomes map[string]int64 `json:"outcomes"`
}

// MemoryStats keeps counters in process. It never expires entries.
type MemoryStats struct {
	mu         sync.Mutex
	byEndpoint map[string]map[string]int64
}

// NewMemoryStats creates an empty in-process recorder.
func NewMemoryStats() *MemoryStats {
	return &MemoryStats{byEndpoint: make(map[string]map[string]int64)}
}

func (s *MemoryStats) Record(_ context.Context, ev StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byEndpoint == nil {
		s.byEndpoint = make(map[string]map[string]int64)
	}
	outcomes := s.byEndpoint[ev.Endpoint]
	if outcomes == nil {
		outcomes = make(map[string]int64)
		s.byEndpoint[ev.Endpoint] = outcomes
	}
	outcomes[ev.Outcome]++
	return nil
}

func (s *MemoryStats) Totals(_ context.Context) ([]EndpointStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]EndpointStats, 0, len(s.byEndpoint))
	for endpoint, outcomes := range s.byEndpoint {
		copied := make(map[string]int64, len(outcomes))
		for k, v := range outcomes {
			copied[k] = v
		}
		out = append(out, EndpointStats{Endpoint: endpoint, Outcomes: copied})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out, nil
}
