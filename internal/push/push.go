// Package push delivers web push notifications to stored browser
// subscriptions using VAPID keys.
package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
)

var (
	ErrNotConfigured = errors.New("push service not configured")
	// ErrSubscriptionGone signals that the endpoint rejected the stored
	// subscription permanently; callers should drop it.
	ErrSubscriptionGone = errors.New("push subscription expired")
	ErrSendFailed       = errors.New("failed to send push notification")
)

type Sender struct {
	publicKey  string
	privateKey string
	subject    string
}

func NewSender(publicKey, privateKey, subject string) *Sender {
	return &Sender{publicKey: publicKey, privateKey: privateKey, subject: subject}
}

func (s *Sender) IsConfigured() bool {
	return s.publicKey != "" && s.privateKey != ""
}

type notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Send pushes a notification to the subscription stored as raw JSON (the
// object the browser's PushManager hands out).
func (s *Sender) Send(rawSubscription []byte, title, body string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	var sub webpush.Subscription
	if err := json.Unmarshal(rawSubscription, &sub); err != nil {
		return fmt.Errorf("decode push subscription: %w", err)
	}
	payload, err := json.Marshal(notification{Title: title, Body: body})
	if err != nil {
		return err
	}
	resp, err := webpush.SendNotification(payload, &sub, &webpush.Options{
		Subscriber:      s.subject,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             60,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrSubscriptionGone
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: status code %d", ErrSendFailed, resp.StatusCode)
	}
	return nil
}
