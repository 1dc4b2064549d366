package repository

import (
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/grihya/livechat/internal/storage"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const (
	latestMessageJoin = "LATERAL (SELECT MAX(m.created_at) AS last_at FROM messages m WHERE m.conversation_id = c.id) lm ON true"
	unreadJoin        = "LATERAL (SELECT COUNT(*) AS unread FROM messages m WHERE m.conversation_id = c.id AND m.sender = 'user' AND m.read_at IS NULL) u ON true"
	lastActivityExpr  = "GREATEST(c.last_message_at, lm.last_at)"
)

var conversationColumns = []string{
	"c.id", "c.token", "c.visitor_id",
	"COALESCE(c.visitor_name, '')", "COALESCE(c.visitor_email, '')", "COALESCE(c.visitor_phone, '')",
	"c.status", "c.last_message_at", "c.created_at", "c.updated_at",
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func listConditions(f storage.ListFilter) []sq.Sqlizer {
	var conds []sq.Sqlizer
	if f.Status != "" {
		conds = append(conds, sq.Eq{"c.status": string(f.Status)})
	}
	if f.Search != "" {
		pattern := "%" + likeEscaper.Replace(f.Search) + "%"
		conds = append(conds, sq.Or{
			sq.ILike{"c.visitor_name": pattern},
			sq.ILike{"c.token": pattern},
		})
	}
	return conds
}

// buildListQuery selects one inbox page. GREATEST ignores NULLs, so a stale or
// missing last_message_at is covered by the newest message's created_at.
func buildListQuery(f storage.ListFilter) sq.SelectBuilder {
	cols := append([]string{}, conversationColumns...)
	cols = append(cols, "COALESCE(u.unread, 0)", lastActivityExpr, "lm.last_at")
	q := psql.Select(cols...).
		From("conversations c").
		LeftJoin(latestMessageJoin).
		LeftJoin(unreadJoin).
		OrderBy(lastActivityExpr+" DESC NULLS LAST", "lm.last_at DESC NULLS LAST", "c.id DESC")
	for _, cond := range listConditions(f) {
		q = q.Where(cond)
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}
	return q
}

func buildCountQuery(f storage.ListFilter) sq.SelectBuilder {
	q := psql.Select("COUNT(*)").From("conversations c")
	for _, cond := range listConditions(f) {
		q = q.Where(cond)
	}
	return q
}
