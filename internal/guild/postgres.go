package guild

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chat-relay/internal/types"
)

var ErrChannelNotFound = errors.New("channel not found")

// PgGuildService reads channel and membership state from the guild
// service's Postgres database. All access is read-only.
type PgGuildService struct {
	conn *sql.DB
}

func NewPgGuildService(dsn string) (*PgGuildService, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgGuildService{conn: db}, nil
}

func (s *PgGuildService) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *PgGuildService) GetChannel(ctx context.Context, channelId string) (types.Channel, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT id, kind, COALESCE(guild_id, '') FROM channels "+
			"WHERE id = $1 LIMIT 1",
		channelId,
	)

	var ch types.Channel
	err := row.Scan(
		&ch.Id,
		&ch.Kind,
		&ch.GuildId,
	)
	if err == sql.ErrNoRows {
		return types.Channel{}, ErrChannelNotFound
	}
	if err != nil {
		return types.Channel{}, fmt.Errorf("get channel: %w", err)
	}

	if ch.Kind == types.ChannelDirect {
		members, err := s.ListMembers(ctx, channelId)
		if err != nil {
			return types.Channel{}, err
		}
		ch.Members = members
	}

	return ch, nil
}

func (s *PgGuildService) IsMember(ctx context.Context, userId, channelId string) (bool, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM channel_members "+
			"WHERE channel_id = $1 AND account_id = $2)",
		channelId,
		userId,
	)

	var ok bool
	if err := row.Scan(&ok); err != nil {
		return false, fmt.Errorf("is member: %w", err)
	}

	return ok, nil
}

func (s *PgGuildService) ListMembers(ctx context.Context, channelId string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT account_id FROM channel_members WHERE channel_id = $1",
		channelId,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}

	return members, rows.Err()
}
