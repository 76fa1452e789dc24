package scheduler

import (
	"context"
	"time"

	"github.com/Catrya/mostro/config"
	"github.com/Catrya/mostro/constants"
	"github.com/Catrya/mostro/logger"
	"github.com/Catrya/mostro/orders"
	"github.com/Catrya/mostro/rates"
)

// Scheduler drives every periodic job from a single goroutine, so a slow
// sweep never races another instance of itself.
type Scheduler struct {
	cfg    *config.Config
	orders *orders.Service
	rates  *rates.Service
}

func New(cfg *config.Config, ordersSvc *orders.Service, ratesSvc *rates.Service) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		orders: ordersSvc,
		rates:  ratesSvc,
	}
}

// Run blocks until the context ends. Each tick runs its job inline; jobs are
// short and bounded, the long tail (payments) is already asynchronous.
func (s *Scheduler) Run(ctx context.Context) {
	expireTicker := time.NewTicker(constants.EXPIRE_PENDING_ORDERS_INTERVAL)
	defer expireTicker.Stop()
	retryTicker := time.NewTicker(constants.PAYMENT_RETRY_BACKOFF)
	defer retryTicker.Stop()
	rateTicker := time.NewTicker(s.cfg.RateRefreshInterval())
	defer rateTicker.Stop()
	republishTicker := time.NewTicker(time.Duration(s.cfg.Settings.Mostro.PublishRelaysInterval) * time.Second)
	defer republishTicker.Stop()

	logger.Logger.Info().Msg("Scheduler started")

	for {
		select {
		case <-ctx.Done():
			logger.Logger.Info().Msg("Scheduler stopped")
			return
		case <-expireTicker.C:
			s.orders.ExpirePendingOrders(ctx)
			s.orders.RevertStaleInvoiceExchange(ctx)
		case <-retryTicker.C:
			s.orders.RetryDuePayments(ctx)
		case <-rateTicker.C:
			if err := s.rates.Refresh(ctx); err != nil {
				logger.Logger.Error().Err(err).Msg("Failed to refresh fiat rates")
			}
		case <-republishTicker.C:
			s.orders.RepublishNearExpiry(ctx)
		}
	}
}
