package approval

import (
	"context"
	"time"
)

// StartSweeper expires overdue pending requests on a fixed interval until the
// context is cancelled. Run it in a goroutine from main.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := s.ExpireDue(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "approval sweep failed", "error", err)
				continue
			}
			if expired > 0 {
				s.logger.InfoContext(ctx, "expired overdue approval requests", "count", expired)
			}
		}
	}
}
