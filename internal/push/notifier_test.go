package push

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/grihya/livechat/internal/config"
	"github.com/grihya/livechat/internal/model"
	"github.com/grihya/livechat/internal/storage/memory"
)

type fakeSender struct {
	mu       sync.Mutex
	status   map[string]int
	payloads []string
}

func (f *fakeSender) send(_ context.Context, payload []byte, sub *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, string(payload))
	code := http.StatusCreated
	if c, ok := f.status[sub.Endpoint]; ok {
		code = c
	}
	return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(""))}, nil
}

func sub(endpoint string) model.PushSubscription {
	return model.PushSubscription{Endpoint: endpoint, Keys: model.PushKeys{P256dh: "p", Auth: "a"}}
}

func TestDisabledWithoutKeys(t *testing.T) {
	n := NewNotifier(memory.NewSubscriptions(), nil, "mailto:x@example.com")
	if n.Enabled() || n.PublicKey() != "" {
		t.Fatal("notifier without keys must be disabled")
	}
	if got := n.Deliver(context.Background(), Alert{}); got != 0 {
		t.Fatalf("Deliver() = %d, want 0", got)
	}
	// must not panic or start work
	n.NotifyVisitorMessage(&model.Conversation{}, &model.Message{})
}

func TestDeliverPrunesGoneSubscriptions(t *testing.T) {
	store := memory.NewSubscriptions()
	ctx := context.Background()
	_ = store.AddSubscription(ctx, 1, sub("https://push.example/live"))
	_ = store.AddSubscription(ctx, 1, sub("https://push.example/gone"))
	_ = store.AddSubscription(ctx, 2, sub("https://push.example/missing"))

	fs := &fakeSender{status: map[string]int{
		"https://push.example/gone":    http.StatusGone,
		"https://push.example/missing": http.StatusNotFound,
	}}
	n := NewNotifier(store, &VAPIDKeys{PublicKey: "pub", PrivateKey: "priv"}, "mailto:x@example.com")
	n.send = fs.send

	if got := n.Deliver(ctx, Alert{Title: "Anna", Body: "hi"}); got != 1 {
		t.Fatalf("Deliver() = %d, want 1", got)
	}
	all, _ := store.Subscriptions(ctx)
	if len(all[1]) != 1 || all[1][0].Endpoint != "https://push.example/live" {
		t.Errorf("admin 1 subscriptions = %+v, want only live", all[1])
	}
	if _, ok := all[2]; ok {
		t.Errorf("admin 2 still subscribed after 404")
	}
	if len(fs.payloads) != 3 || !strings.Contains(fs.payloads[0], `"title":"Anna"`) {
		t.Errorf("payloads = %v", fs.payloads)
	}
}

func TestNewAlert(t *testing.T) {
	long := strings.Repeat("я", 200)
	a := NewAlert(&model.Conversation{Token: "tok"}, &model.Message{ID: 5, Body: long})
	if a.Title != "Visitor" {
		t.Errorf("Title = %q, want Visitor fallback", a.Title)
	}
	if n := len([]rune(a.Body)); n != maxBodyRunes {
		t.Errorf("body runes = %d, want %d", n, maxBodyRunes)
	}
	if a.Data["token"] != "tok" || a.Data["message_id"] != "5" {
		t.Errorf("Data = %v", a.Data)
	}
}

func TestResolveKeysFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "vapid.json")
	first, err := ResolveKeys(config.PushConfig{KeysFile: path})
	if err != nil {
		t.Fatalf("ResolveKeys() error = %v", err)
	}
	if !first.complete() {
		t.Fatal("generated keys are empty")
	}
	second, err := ResolveKeys(config.PushConfig{KeysFile: path})
	if err != nil {
		t.Fatalf("ResolveKeys() second error = %v", err)
	}
	if *second != *first {
		t.Error("keys changed between runs")
	}
	if info, err := os.Stat(path); err != nil || info.Mode().Perm() != 0o600 {
		t.Errorf("keys file mode = %v (%v), want 0600", info, err)
	}
}

func TestResolveKeys(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.json")
	if err := os.WriteFile(broken, []byte(`{"public_key":"only-half"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		cfg     config.PushConfig
		want    *VAPIDKeys
		wantErr bool
	}{
		{"config keys win over file", config.PushConfig{VAPIDPublicKey: "pub", VAPIDPrivateKey: "priv", KeysFile: broken},
			&VAPIDKeys{PublicKey: "pub", PrivateKey: "priv"}, false},
		{"nothing configured", config.PushConfig{}, nil, false},
		{"half a pair in config falls through", config.PushConfig{VAPIDPublicKey: "pub"}, nil, false},
		{"incomplete file is rejected", config.PushConfig{KeysFile: broken}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveKeys(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveKeys() error = %v, wantErr %v", err, tt.wantErr)
			}
			if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
				t.Errorf("ResolveKeys() = %+v, want %+v", got, tt.want)
			}
		})
	}
	data, _ := os.ReadFile(broken)
	if string(data) != `{"public_key":"only-half"}` {
		t.Errorf("broken keys file was rewritten: %s", data)
	}
}
