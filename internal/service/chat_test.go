package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/grihya/livechat/internal/model"
	"github.com/grihya/livechat/internal/storage/memory"
)

type recorder struct {
	mu        sync.Mutex
	published []*model.Message
	notified  []*model.Message
}

func (r *recorder) PublishMessage(_ *model.Conversation, m *model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, m)
}

func (r *recorder) NotifyVisitorMessage(_ *model.Conversation, m *model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified = append(r.notified, m)
}

// tickingClock advances one second on every call.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestService(t *testing.T) (*ChatService, *recorder) {
	t.Helper()
	store := memory.New()
	rec := &recorder{}
	return NewChatService(store, store, WithPublisher(rec), WithAdminNotifier(rec), WithClock(tickingClock())), rec
}

func TestStartCreatesOpenConversation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.Start(ctx, Visitor{Name: "  Anna  "})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if c.Token == "" || c.Status != model.StatusOpen || c.LastMessageAt != nil {
		t.Fatalf("Start() = %+v, want token, open status and no last_message_at", c)
	}
	if c.VisitorName != "Anna" {
		t.Errorf("VisitorName = %q, want trimmed", c.VisitorName)
	}
	other, _ := svc.Start(ctx, Visitor{})
	if other.Token == c.Token {
		t.Fatal("two conversations share a token")
	}

	got, err := svc.FindByToken(ctx, c.Token)
	if err != nil || got.ID != c.ID {
		t.Fatalf("FindByToken() = %v, %v", got, err)
	}
}

func TestFindByTokenUnknown(t *testing.T) {
	svc, _ := newTestService(t)
	for _, tok := range []string{"", "nope"} {
		if _, err := svc.FindByToken(context.Background(), tok); !errors.Is(err, ErrNotFound) {
			t.Errorf("FindByToken(%q) error = %v, want ErrNotFound", tok, err)
		}
	}
}

func TestAppendOrdersMessagesAndBumpsLastMessageAt(t *testing.T) {
	svc, rec := newTestService(t)
	ctx := context.Background()
	c, _ := svc.Start(ctx, Visitor{})

	const n = 5
	var last *model.Message
	for i := 0; i < n; i++ {
		m, err := svc.Append(ctx, c.Token, SendInput{Sender: model.SenderUser, Body: "msg"})
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		last = m
	}

	msgs, err := svc.ListMessages(ctx, c.Token)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != n {
		t.Fatalf("len(messages) = %d, want %d", len(msgs), n)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].ID <= msgs[i-1].ID {
			t.Fatalf("ids not ascending: %d after %d", msgs[i].ID, msgs[i-1].ID)
		}
	}

	got, _ := svc.FindByToken(ctx, c.Token)
	if got.LastMessageAt == nil || !got.LastMessageAt.Equal(last.CreatedAt) {
		t.Errorf("LastMessageAt = %v, want %v", got.LastMessageAt, last.CreatedAt)
	}
	if len(rec.published) != n || len(rec.notified) != n {
		t.Errorf("published/notified = %d/%d, want %d/%d", len(rec.published), len(rec.notified), n, n)
	}
}

func TestAppendAdminMessageSkipsAdminAlert(t *testing.T) {
	svc, rec := newTestService(t)
	ctx := context.Background()
	c, _ := svc.Start(ctx, Visitor{})
	adminID := int64(42)

	m, err := svc.Append(ctx, c.Token, SendInput{Sender: model.SenderAdmin, SenderID: &adminID, Body: "hello"})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if m.SenderID == nil || *m.SenderID != 42 {
		t.Errorf("SenderID = %v, want 42", m.SenderID)
	}
	if len(rec.published) != 1 || len(rec.notified) != 0 {
		t.Errorf("published/notified = %d/%d, want 1/0", len(rec.published), len(rec.notified))
	}
}

func TestAppendRejections(t *testing.T) {
	svc, rec := newTestService(t)
	ctx := context.Background()
	c, _ := svc.Start(ctx, Visitor{})

	tests := []struct {
		name      string
		token     string
		in        SendInput
		wantField string
		notFound  bool
	}{
		{"blank body", c.Token, SendInput{Sender: model.SenderUser, Body: "   "}, "body", false},
		{"bad sender", c.Token, SendInput{Sender: "bot", Body: "x"}, "sender", false},
		{"unknown token", "missing", SendInput{Sender: model.SenderUser, Body: "x"}, "", true},
		{"unknown token and blank body", "missing", SendInput{Sender: model.SenderUser, Body: " "}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Append(ctx, tt.token, tt.in)
			if tt.notFound {
				if !errors.Is(err, ErrNotFound) {
					t.Fatalf("error = %v, want ErrNotFound", err)
				}
				return
			}
			ve, ok := AsValidation(err)
			if !ok || ve.Field != tt.wantField {
				t.Fatalf("error = %v, want validation error on %s", err, tt.wantField)
			}
		})
	}

	msgs, _ := svc.ListMessages(ctx, c.Token)
	if len(msgs) != 0 {
		t.Errorf("rejected appends stored %d messages", len(msgs))
	}
	if len(rec.published) != 0 {
		t.Errorf("rejected appends published %d events", len(rec.published))
	}
}

func TestMarkReadIsIdempotentAndSkipsAdminMessages(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	c, _ := svc.Start(ctx, Visitor{})
	for _, s := range []model.SenderRole{model.SenderUser, model.SenderAdmin, model.SenderUser} {
		if _, err := svc.Append(ctx, c.Token, SendInput{Sender: s, Body: "x"}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := svc.MarkRead(ctx, c.Token)
	if err != nil || n != 2 {
		t.Fatalf("MarkRead() = %d, %v; want 2, nil", n, err)
	}
	n, err = svc.MarkRead(ctx, c.Token)
	if err != nil || n != 0 {
		t.Fatalf("second MarkRead() = %d, %v; want 0, nil", n, err)
	}

	msgs, _ := svc.ListMessages(ctx, c.Token)
	for _, m := range msgs {
		if m.Sender == model.SenderAdmin && m.ReadAt != nil {
			t.Errorf("admin message %d has read_at", m.ID)
		}
		if m.Sender == model.SenderUser && m.ReadAt == nil {
			t.Errorf("user message %d not read", m.ID)
		}
	}

	if _, err := svc.MarkRead(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkRead(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	c, _ := svc.Start(ctx, Visitor{})

	for _, st := range []string{"closed", "open", "assigned", "closed"} {
		got, err := svc.UpdateStatus(ctx, c.Token, st)
		if err != nil {
			t.Fatalf("UpdateStatus(%s) error = %v", st, err)
		}
		if string(got.Status) != st {
			t.Fatalf("status = %s, want %s", got.Status, st)
		}
	}

	_, err := svc.UpdateStatus(ctx, c.Token, "archived")
	if _, ok := AsValidation(err); !ok {
		t.Fatalf("UpdateStatus(archived) error = %v, want validation error", err)
	}
	got, _ := svc.FindByToken(ctx, c.Token)
	if got.Status != model.StatusClosed {
		t.Errorf("status after rejected update = %s, want closed", got.Status)
	}

	if _, err := svc.UpdateStatus(ctx, "missing", "open"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateStatus(missing) error = %v, want ErrNotFound", err)
	}
}

func TestListConversationsUnreadAndPaging(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var tokens []string
	for i := 0; i < 3; i++ {
		c, _ := svc.Start(ctx, Visitor{Name: "visitor"})
		tokens = append(tokens, c.Token)
	}
	// tokens[0] gets the newest activity and two unread messages
	_, _ = svc.Append(ctx, tokens[1], SendInput{Sender: model.SenderUser, Body: "a"})
	_, _ = svc.Append(ctx, tokens[0], SendInput{Sender: model.SenderUser, Body: "b"})
	_, _ = svc.Append(ctx, tokens[0], SendInput{Sender: model.SenderAdmin, Body: "c"})
	_, _ = svc.Append(ctx, tokens[0], SendInput{Sender: model.SenderUser, Body: "d"})

	page, err := svc.ListConversations(ctx, ListQuery{PerPage: 2})
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if page.Total != 3 || page.Page != 1 || page.PerPage != 2 || len(page.Data) != 2 {
		t.Fatalf("page = total %d page %d per_page %d len %d", page.Total, page.Page, page.PerPage, len(page.Data))
	}
	if page.Data[0].Token != tokens[0] || page.Data[0].UnreadCount != 2 {
		t.Errorf("first = %s unread %d, want %s unread 2", page.Data[0].Token, page.Data[0].UnreadCount, tokens[0])
	}
	if page.Data[1].Token != tokens[1] || page.Data[1].UnreadCount != 1 {
		t.Errorf("second = %s unread %d, want %s unread 1", page.Data[1].Token, page.Data[1].UnreadCount, tokens[1])
	}

	page, _ = svc.ListConversations(ctx, ListQuery{Page: 2, PerPage: 2})
	if len(page.Data) != 1 || page.Data[0].Token != tokens[2] {
		t.Errorf("page 2 = %+v, want only %s", page.Data, tokens[2])
	}

	page, _ = svc.ListConversations(ctx, ListQuery{PerPage: 1000})
	if page.PerPage != MaxPerPage {
		t.Errorf("PerPage = %d, want clamp to %d", page.PerPage, MaxPerPage)
	}

	if _, err := svc.ListConversations(ctx, ListQuery{Status: "pending"}); err == nil {
		t.Error("ListConversations(status=pending) error = nil, want validation error")
	}
}

func TestVisitorAdminScenario(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	adminID := int64(1)

	c, _ := svc.Start(ctx, Visitor{Name: "Ravi"})
	_, _ = svc.Append(ctx, c.Token, SendInput{Sender: model.SenderUser, Body: "Is the flat still available?"})
	_, _ = svc.Append(ctx, c.Token, SendInput{Sender: model.SenderAdmin, SenderID: &adminID, Body: "Yes"})
	_, _ = svc.Append(ctx, c.Token, SendInput{Sender: model.SenderUser, Body: "Great"})

	page, _ := svc.ListConversations(ctx, ListQuery{Search: "ravi"})
	if len(page.Data) != 1 || page.Data[0].UnreadCount != 2 {
		t.Fatalf("inbox = %+v, want one conversation with 2 unread", page.Data)
	}
	if _, err := svc.MarkRead(ctx, c.Token); err != nil {
		t.Fatal(err)
	}
	page, _ = svc.ListConversations(ctx, ListQuery{})
	if page.Data[0].UnreadCount != 0 {
		t.Errorf("unread after MarkRead = %d, want 0", page.Data[0].UnreadCount)
	}
	if _, err := svc.UpdateStatus(ctx, c.Token, "closed"); err != nil {
		t.Fatal(err)
	}
	page, _ = svc.ListConversations(ctx, ListQuery{Status: "open"})
	if page.Total != 0 {
		t.Errorf("open conversations = %d, want 0", page.Total)
	}
}

func TestAppendKeepsBodyAsSent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	c, _ := svc.Start(ctx, Visitor{})

	body := "  line one\nline two\n"
	m, err := svc.Append(ctx, c.Token, SendInput{Sender: model.SenderUser, Body: body})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	msgs, _ := svc.ListMessages(ctx, c.Token)
	if m.Body != body || len(msgs) != 1 || msgs[0].Body != body {
		t.Fatalf("stored body = %q, want %q", msgs[0].Body, body)
	}
}

func TestListConversationsHugePage(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for range 3 {
		if _, err := svc.Start(ctx, Visitor{}); err != nil {
			t.Fatal(err)
		}
	}

	for _, perPage := range []int{1, 20, MaxPerPage} {
		page, err := svc.ListConversations(ctx, ListQuery{Page: math.MaxInt, PerPage: perPage})
		if err != nil {
			t.Fatalf("ListConversations(per_page=%d) error = %v", perPage, err)
		}
		if len(page.Data) != 0 || page.Total != 3 || page.Page != math.MaxInt {
			t.Fatalf("per_page=%d: page = %+v, want empty page with total 3", perPage, page)
		}
	}
}
