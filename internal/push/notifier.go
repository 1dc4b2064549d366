// Package push sends Web Push alerts to admins when visitors write.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/grihya/livechat/internal/logger"
	"github.com/grihya/livechat/internal/model"
	"github.com/grihya/livechat/internal/storage"
)

const (
	sendTimeout  = 10 * time.Second
	maxBodyRunes = 120
	pushTTL      = 30
)

type sendFunc func(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

// Alert is the JSON payload the service worker receives.
type Alert struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data"`
}

// Notifier implements the chat service's AdminNotifier. A notifier without
// keys is disabled and every call is a no-op.
type Notifier struct {
	store storage.PushSubscriptionStore
	opts  *webpush.Options
	send  sendFunc
}

func NewNotifier(store storage.PushSubscriptionStore, keys *VAPIDKeys, subscriber string) *Notifier {
	n := &Notifier{store: store, send: webpush.SendNotificationWithContext}
	if keys != nil && keys.PublicKey != "" && keys.PrivateKey != "" {
		n.opts = &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             pushTTL,
		}
	}
	return n
}

func (n *Notifier) Enabled() bool { return n != nil && n.opts != nil }

// PublicKey is what browsers need to subscribe; "" when disabled.
func (n *Notifier) PublicKey() string {
	if !n.Enabled() {
		return ""
	}
	return n.opts.VAPIDPublicKey
}

func (n *Notifier) Subscribe(ctx context.Context, adminID int64, sub model.PushSubscription) error {
	return n.store.AddSubscription(ctx, adminID, sub)
}

func (n *Notifier) Unsubscribe(ctx context.Context, adminID int64, endpoint string) error {
	return n.store.RemoveSubscription(ctx, adminID, endpoint)
}

// NotifyVisitorMessage sends in the background and never reports failure.
func (n *Notifier) NotifyVisitorMessage(conv *model.Conversation, m *model.Message) {
	if !n.Enabled() {
		return
	}
	alert := NewAlert(conv, m)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		n.Deliver(ctx, alert)
	}()
}

// NewAlert titles the alert with the visitor's name and truncates the body.
func NewAlert(conv *model.Conversation, m *model.Message) Alert {
	title := conv.VisitorName
	if title == "" {
		title = "Visitor"
	}
	body := m.Body
	if utf8.RuneCountInString(body) > maxBodyRunes {
		runes := []rune(body)
		body = string(runes[:maxBodyRunes-3]) + "..."
	}
	return Alert{
		Title: title,
		Body:  body,
		Data: map[string]string{
			"token":      conv.Token,
			"message_id": strconv.FormatInt(m.ID, 10),
		},
	}
}

// Deliver sends alert to every admin subscription and prunes endpoints the
// push service reports as gone. It returns the number of accepted sends.
func (n *Notifier) Deliver(ctx context.Context, alert Alert) int {
	defer logger.DeferLogDuration("push.Deliver", time.Now())()
	if !n.Enabled() {
		return 0
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		logger.Errorf("push encode: %v", err)
		return 0
	}
	subs, err := n.store.Subscriptions(ctx)
	if err != nil {
		logger.Errorf("push list subscriptions: %v", err)
		return 0
	}

	sent := 0
	for adminID, list := range subs {
		for i := range list {
			sub := &list[i]
			resp, err := n.send(ctx, payload, &webpush.Subscription{
				Endpoint: sub.Endpoint,
				Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
			}, n.opts)
			if err != nil {
				logger.Errorf("push send admin=%d %s: %v", adminID, shortEndpoint(sub.Endpoint), err)
				continue
			}
			resp.Body.Close()
			switch {
			case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
				if err := n.store.RemoveSubscription(ctx, adminID, sub.Endpoint); err != nil {
					logger.Errorf("push prune admin=%d: %v", adminID, err)
				}
			case resp.StatusCode >= 300:
				logger.Errorf("push send admin=%d %s: status %d", adminID, shortEndpoint(sub.Endpoint), resp.StatusCode)
			default:
				sent++
			}
		}
	}
	return sent
}

func shortEndpoint(s string) string {
	if len(s) > 50 {
		return s[:50]
	}
	return s
}
