package miner

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Worker keeps the suggestion cache warm by re-mining on a fixed
// interval, so a listing request rarely pays for a full mining pass.
type Worker struct {
	miner           *Miner
	refreshInterval int64
	logger          *zap.Logger
}

// NewWorker creates a background refresher. refreshInterval is in
// minutes.
func NewWorker(m *Miner, refreshInterval int64, logger *zap.Logger) *Worker {
	return &Worker{
		miner:           m,
		refreshInterval: refreshInterval,
		logger:          logger,
	}
}

// Run starts the periodic re-mining loop. It blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Suggestion refresh worker started.",
		zap.Int64("interval_minutes", w.refreshInterval))

	ticker := time.NewTicker(time.Duration(w.refreshInterval) * time.Minute)
	defer ticker.Stop()

	// Initial mining pass on startup
	w.refresh()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Suggestion refresh worker stopped.")
			return
		case <-ticker.C:
			w.refresh()
		}
	}
}

func (w *Worker) refresh() {
	if err := w.miner.Refresh(); err != nil {
		w.logger.Error("Failed to refresh suggestion cache", zap.Error(err))
	}
}
