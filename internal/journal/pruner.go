package journal

import (
	"context"
	"time"
)

// Logger is the logging interface used by the pruner.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// PruneInterval is how often RunPruner deletes expired entries.
const PruneInterval = time.Hour

// RunPruner deletes entries older than retention every interval until ctx
// is done. It returns nil on cancellation; prune errors are logged and the
// loop continues. A non-positive retention keeps everything.
func (j *Journal) RunPruner(ctx context.Context, interval, retention time.Duration, logger Logger) error {
	if retention <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := j.Prune(ctx, j.now().Add(-retention))
			if err != nil {
				if logger != nil {
					logger.Warn("journal prune failed", "error", err)
				}
				continue
			}
			if n > 0 && logger != nil {
				logger.Info("journal pruned", "deleted", n, "retention", retention)
			}
		}
	}
}
