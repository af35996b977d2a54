package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-push-relay/internal/observability/metrics"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

const defaultWelcomeSendTimeout = 30 * time.Second

type WelcomeConfig struct {
	Enabled     bool
	Delay       time.Duration
	Title       string
	Message     string
	SendTimeout time.Duration
}

// Welcomer sends a delayed welcome notification after a registration. Each
// notification runs as its own detached task whose outcome is only logged.
type Welcomer struct {
	dispatcher dispatch.Dispatcher
	cfg        WelcomeConfig
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWelcomer(dispatcher dispatch.Dispatcher, cfg WelcomeConfig, logger *slog.Logger) *Welcomer {
	if cfg.Title == "" {
		cfg.Title = "Welcome"
	}
	if cfg.Message == "" {
		cfg.Message = "Notifications are now enabled on this device"
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultWelcomeSendTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Welcomer{
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger.With("task", "welcome"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Schedule starts the delayed send. It never blocks and is a no-op on a nil
// or stopped Welcomer.
func (w *Welcomer) Schedule(userID, address string) {
	if w == nil || w.ctx.Err() != nil {
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		timer := time.NewTimer(w.cfg.Delay)
		defer timer.Stop()
		select {
		case <-w.ctx.Done():
			metrics.WelcomeNotificationsTotal.WithLabelValues("cancelled").Inc()
			w.logger.Debug("Welcome notification cancelled", "user_id", userID)
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(w.ctx, w.cfg.SendTimeout)
		defer cancel()

		_, err := w.dispatcher.Dispatch(ctx, dispatch.Message{
			Address: address,
			Title:   w.cfg.Title,
			Body:    w.cfg.Message,
		})
		if err != nil {
			metrics.WelcomeNotificationsTotal.WithLabelValues("failed").Inc()
			w.logger.Warn("Welcome notification failed", "user_id", userID, "kind", dispatch.KindOf(err), "err", err)
			return
		}
		metrics.WelcomeNotificationsTotal.WithLabelValues("sent").Inc()
		w.logger.Info("Welcome notification sent", "user_id", userID)
	}()
}

// Stop cancels pending tasks and waits for them to return.
func (w *Welcomer) Stop() {
	if w == nil {
		return
	}
	w.cancel()
	w.wg.Wait()
}
