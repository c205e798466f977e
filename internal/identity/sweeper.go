package identity

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const sweepInterval = 15 * time.Minute

// ActivationSweeper periodically clears activation tokens that expired
// before the member used them.
type ActivationSweeper struct {
	members MemberStore
	logger  *zap.Logger
	now     func() time.Time
}

func NewActivationSweeper(members MemberStore, logger *zap.Logger) *ActivationSweeper {
	return &ActivationSweeper{members: members, logger: logger, now: time.Now}
}

// Sweep runs one pass and returns the number of cleared tokens.
func (s *ActivationSweeper) Sweep(ctx context.Context) int64 {
	n, err := s.members.ClearExpiredActivationTokens(ctx, s.now().UTC())
	if err != nil {
		s.logger.Error("Activation sweep failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		s.logger.Info("Cleared expired activation tokens", zap.Int64("count", n))
	}
	return n
}

// Start hooks the sweeper ticker into the fx lifecycle.
func (s *ActivationSweeper) Start(lc fx.Lifecycle) {
	ticker := time.NewTicker(sweepInterval)
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.logger.Info("Starting activation sweeper", zap.Duration("interval", sweepInterval))
			go func() {
				for {
					select {
					case <-ticker.C:
						sweepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
						s.Sweep(sweepCtx)
						cancel()
					case <-done:
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.logger.Info("Stopping activation sweeper ...")
			ticker.Stop()
			close(done)
			return nil
		},
	})
}
