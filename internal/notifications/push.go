package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"fructosahel/backend/internal/cache"
	"fructosahel/backend/internal/models"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// PushMessage is one encoded payload ready for delivery.
type PushMessage struct {
	Body   []byte
	Urgent bool
	Topic  string
}

// PushSender delivers to a single device. The returned status is the push
// service's HTTP status, or 0 when no response was received.
type PushSender interface {
	Configured() bool
	Send(ctx context.Context, sub models.PushSubscription, msg PushMessage) (int, error)
}

// ProviderError reports a non-2xx answer from the push service.
type ProviderError struct {
	StatusCode int
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("push service responded %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Gone reports a status meaning the subscription will never work again.
func Gone(status int) bool {
	return status == http.StatusGone || status == http.StatusNotFound
}

type WebPushConfig struct {
	Subject        string
	PublicKey      string
	PrivateKey     string
	TTL            time.Duration
	RequestTimeout time.Duration
}

// WebPushSender delivers through the browser vendors' Web Push services
// using VAPID authentication.
type WebPushSender struct {
	config  WebPushConfig
	client  webpush.HTTPClient
	breaker *cache.CircuitBreaker
}

func NewWebPushSender(config WebPushConfig, breaker *cache.CircuitBreaker) *WebPushSender {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 10 * time.Second
	}
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}
	if breaker == nil {
		breaker = cache.NewCircuitBreaker(&cache.CircuitBreakerConfig{
			Name:             "webpush",
			MaxFailures:      10,
			Timeout:          30 * time.Second,
			HalfOpenMaxCalls: 2,
		})
	}
	return &WebPushSender{
		config:  config,
		client:  &http.Client{Timeout: config.RequestTimeout},
		breaker: breaker,
	}
}

func (s *WebPushSender) Configured() bool {
	return s.config.PublicKey != "" && s.config.PrivateKey != ""
}

func (s *WebPushSender) Send(ctx context.Context, sub models.PushSubscription, msg PushMessage) (int, error) {
	urgency := webpush.UrgencyNormal
	if msg.Urgent {
		urgency = webpush.UrgencyHigh
	}

	var status int
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		resp, err := webpush.SendNotificationWithContext(ctx, msg.Body, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256dh,
				Auth:   sub.Auth,
			},
		}, &webpush.Options{
			HTTPClient:      s.client,
			Subscriber:      s.config.Subject,
			VAPIDPublicKey:  s.config.PublicKey,
			VAPIDPrivateKey: s.config.PrivateKey,
			TTL:             int(s.config.TTL.Seconds()),
			Urgency:         urgency,
			Topic:           msg.Topic,
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		status = resp.StatusCode
		// only provider-side trouble counts against the breaker
		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			return &ProviderError{StatusCode: status}
		}
		return nil
	})
	if err != nil {
		return status, err
	}
	if status >= http.StatusBadRequest {
		return status, &ProviderError{StatusCode: status}
	}
	return status, nil
}

// IsBreakerOpen reports whether err came from the circuit breaker rather
// than the push service.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, cache.ErrCircuitBreakerOpen) || errors.Is(err, cache.ErrTooManyRequests)
}
