package retrieval

import (
	"log/slog"
	"time"

	"github.com/poiesic/contractor/core"
)

// Monitor provides hooks to observe the retrieval process.
type Monitor interface {
	Start(q core.Query)
	AfterEmbedding(dimension int, elapsed time.Duration)
	AfterSearch(hits []core.ScoredEntry, elapsed time.Duration)
	Finish(result *core.RetrievalResult, err error, elapsed time.Duration)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ core.Query)                                       {}
func (n *noopMonitor) AfterEmbedding(_ int, _ time.Duration)                    {}
func (n *noopMonitor) AfterSearch(_ []core.ScoredEntry, _ time.Duration)        {}
func (n *noopMonitor) Finish(_ *core.RetrievalResult, _ error, _ time.Duration) {}

// LogMonitor writes query timings and result counts to a slog.Logger.
type LogMonitor struct {
	Logger *slog.Logger
}

var _ Monitor = (*LogMonitor)(nil)

// NewLogMonitor creates a LogMonitor. A nil logger uses slog.Default().
func NewLogMonitor(logger *slog.Logger) *LogMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMonitor{Logger: logger.With("component", "retrieval-monitor")}
}

func (m *LogMonitor) Start(q core.Query) {
	m.Logger.Debug("query started", "top_k", q.TopK, "filter", len(q.Filter.DocumentIDs), "neighbors", q.Neighbors)
}

func (m *LogMonitor) AfterEmbedding(dimension int, elapsed time.Duration) {
	m.Logger.Debug("query embedded", "dimension", dimension, "elapsed", elapsed)
}

func (m *LogMonitor) AfterSearch(hits []core.ScoredEntry, elapsed time.Duration) {
	m.Logger.Debug("index searched", "hits", len(hits), "elapsed", elapsed)
}

func (m *LogMonitor) Finish(result *core.RetrievalResult, err error, elapsed time.Duration) {
	if err != nil {
		m.Logger.Info("query finished", "results", 0, "reason", err.Error(), "elapsed", elapsed)
		return
	}
	m.Logger.Info("query finished", "results", len(result.Results), "elapsed", elapsed)
}
