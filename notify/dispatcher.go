package notify

import (
	"context"
	"errors"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"zone-contest-system/logger"
)

// Dispatcher delivers notifications asynchronously on a bounded worker pool.
// Dispatch never blocks on delivery and never reports delivery errors to the caller.
type Dispatcher struct {
	sender Sender
	pool   pond.Pool
	ctx    context.Context
}

// NewDispatcher starts a pool of workers with a bounded queue. A full queue drops
// the notification. Cancelling ctx does not discard queued notifications;
// Stop drains them.
func NewDispatcher(ctx context.Context, sender Sender, workers, queueSize int) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		pool: pond.NewPool(
			workers,
			pond.WithQueueSize(queueSize),
			pond.WithNonBlocking(true),
		),
		ctx: context.WithoutCancel(ctx),
	}
}

// Dispatch queues n for delivery
func (d *Dispatcher) Dispatch(n Notification) {
	if n.PushToken == "" {
		logger.Debug("Skipping notification without push token",
			zap.String("user_id", n.UserID), zap.String("type", string(n.Kind)))
		return
	}

	task := d.pool.SubmitErr(func() error {
		if err := d.sender.Send(d.ctx, n); err != nil {
			logger.Error(err,
				zap.String("message", "Failed to deliver notification"),
				zap.String("user_id", n.UserID),
				zap.String("type", string(n.Kind)),
			)
			return err
		}
		return nil
	})

	select {
	case <-task.Done():
		if err := task.Wait(); errors.Is(err, pond.ErrQueueFull) || errors.Is(err, pond.ErrPoolStopped) {
			logger.Warn("Notification dropped",
				zap.String("user_id", n.UserID),
				zap.String("type", string(n.Kind)),
				zap.Error(err),
			)
		}
	default:
	}
}

// Stop waits for queued notifications to finish
func (d *Dispatcher) Stop() {
	d.pool.StopAndWait()
}
