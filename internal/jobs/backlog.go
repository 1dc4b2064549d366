package jobs

import (
	"context"
	"time"

	"github.com/grihya/livechat/internal/logger"
	"github.com/grihya/livechat/internal/storage"
)

const BacklogJobName = "unread-backlog"

type BacklogSource interface {
	UnreadBacklog(ctx context.Context) (storage.Backlog, error)
}

type ConnectionStats interface {
	Stats() (clients, channels int)
}

// BacklogReport returns the unread-backlog job: it logs how many visitor
// messages wait for an admin and how many realtime clients are connected.
// conns may be nil.
func BacklogReport(src BacklogSource, conns ConnectionStats, timeout time.Duration) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		b, err := src.UnreadBacklog(ctx)
		if err != nil {
			logger.Errorf("jobs: %s: %v", BacklogJobName, err)
			return
		}
		clients, channels := 0, 0
		if conns != nil {
			clients, channels = conns.Stats()
		}
		if b.Messages > 0 {
			logger.Warnf("jobs: %d unread visitor messages in %d conversations (ws clients=%d channels=%d)",
				b.Messages, b.Conversations, clients, channels)
			return
		}
		logger.Infof("jobs: no unread visitor messages (ws clients=%d channels=%d)", clients, channels)
	}
}
