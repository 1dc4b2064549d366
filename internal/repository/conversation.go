package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grihya/livechat/internal/logger"
	"github.com/grihya/livechat/internal/model"
	"github.com/grihya/livechat/internal/storage"
)

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

func (r *ConversationRepository) Create(ctx context.Context, c *model.Conversation) error {
	defer logger.DeferLogDuration("conv.Create", time.Now())()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO conversations (token, visitor_id, visitor_name, visitor_email, visitor_phone, status, created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8)
		 RETURNING id`,
		c.Token, c.VisitorID, c.VisitorName, c.VisitorEmail, c.VisitorPhone, c.Status, c.CreatedAt, c.UpdatedAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("convRepo.Create: %w", err)
	}
	return nil
}

func (r *ConversationRepository) GetByToken(ctx context.Context, token string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.GetByToken", time.Now())()
	c := &model.Conversation{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, token, visitor_id, COALESCE(visitor_name, ''), COALESCE(visitor_email, ''), COALESCE(visitor_phone, ''),
		        status, last_message_at, created_at, updated_at
		 FROM conversations WHERE token = $1`, token,
	).Scan(&c.ID, &c.Token, &c.VisitorID, &c.VisitorName, &c.VisitorEmail, &c.VisitorPhone,
		&c.Status, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetByToken: %w", err)
	}
	return c, nil
}

func (r *ConversationRepository) List(ctx context.Context, f storage.ListFilter) ([]model.ConversationSummary, int, error) {
	defer logger.DeferLogDuration("conv.List", time.Now())()

	countSQL, countArgs, err := buildCountQuery(f).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("convRepo.List count sql: %w", err)
	}
	var total int
	if err := r.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("convRepo.List count: %w", err)
	}

	query, args, err := buildListQuery(f).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("convRepo.List sql: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("convRepo.List query: %w", err)
	}
	defer rows.Close()

	list := make([]model.ConversationSummary, 0, f.Limit)
	for rows.Next() {
		var s model.ConversationSummary
		if err := rows.Scan(&s.ID, &s.Token, &s.VisitorID, &s.VisitorName, &s.VisitorEmail, &s.VisitorPhone,
			&s.Status, &s.LastMessageAt, &s.CreatedAt, &s.UpdatedAt,
			&s.UnreadCount, &s.LastActivityAt, &s.LatestMessageAt); err != nil {
			return nil, 0, fmt.Errorf("convRepo.List scan: %w", err)
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("convRepo.List rows: %w", err)
	}
	return list, total, nil
}

func (r *ConversationRepository) UpdateStatus(ctx context.Context, id int64, status model.ConversationStatus, at time.Time) error {
	defer logger.DeferLogDuration("conv.UpdateStatus", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversations SET status = $1, updated_at = $2 WHERE id = $3`,
		status, at, id,
	)
	if err != nil {
		return fmt.Errorf("convRepo.UpdateStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ConversationRepository) UnreadBacklog(ctx context.Context) (storage.Backlog, error) {
	defer logger.DeferLogDuration("conv.UnreadBacklog", time.Now())()
	var b storage.Backlog
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT m.conversation_id), COUNT(*)
		 FROM messages m
		 JOIN conversations c ON c.id = m.conversation_id
		 WHERE m.sender = 'user' AND m.read_at IS NULL AND c.status <> 'closed'`,
	).Scan(&b.Conversations, &b.Messages)
	if err != nil {
		return b, fmt.Errorf("convRepo.UnreadBacklog: %w", err)
	}
	return b, nil
}
