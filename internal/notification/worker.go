package notification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"bus-depot-backend/internal/model"
	"bus-depot-backend/internal/store"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool pushes override incidents to every subscribed controller.
type WorkerPool struct {
	size    int
	jobs    chan string
	store   store.Store
	webpush *webpush.Options
	sender  NotificationSender
	log     zerolog.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, s store.Store, webpushOptions *webpush.Options, log zerolog.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan string, size*8),
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		log:     log,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug().Int("worker", id).Msg("worker started")
	for {
		select {
		case allocationID := <-wp.jobs:
			wp.sendOverrideAlert(ctx, allocationID)
		case <-ctx.Done():
			wp.log.Debug().Int("worker", id).Msg("worker shutting down")
			return
		}
	}
}

// NotifyOverride queues an alert without blocking. Alerts are dropped when the
// queue is full; the incident stays listed in the alert view.
func (wp *WorkerPool) NotifyOverride(allocationID string) {
	select {
	case wp.jobs <- allocationID:
	default:
		wp.log.Warn().Str("allocation_id", allocationID).Msg("alert queue full, dropping push notification")
	}
}

func (wp *WorkerPool) sendOverrideAlert(ctx context.Context, allocationID string) {
	subscriptions, err := wp.store.ListSubscriptions(ctx)
	if err != nil {
		wp.log.Error().Err(err).Str("allocation_id", allocationID).Msg("error fetching subscriptions")
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	message := fmt.Sprintf("Parking override recorded for allocation %s.", allocationID)
	alloc, err := wp.store.FindAllocation(ctx, allocationID)
	if err != nil {
		wp.log.Error().Err(err).Str("allocation_id", allocationID).Msg("error fetching allocation")
	} else {
		message = overrideMessage(alloc)
	}

	wp.log.Info().Int("subscriptions", len(subscriptions)).Str("allocation_id", allocationID).Msg("sending override alerts")
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, []byte(message))
	}
}

func overrideMessage(a *model.Allocation) string {
	plate, bay := "unknown bus", "unknown bay"
	if a.Bus != nil {
		plate = a.Bus.PlateNumber
	}
	if a.Bay != nil {
		bay = a.Bay.BayCode
	}
	return fmt.Sprintf("Bus %s parked away from allocated bay %s after %d attempts. Override recorded.", plate, bay, a.WrongAttempts)
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("error sending notification")
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		wp.log.Info().Str("endpoint", sub.Endpoint).Msg("subscription expired, deleting")
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			wp.log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to delete expired subscription")
		}
	}
}
