package guild

import (
	"context"

	"chat-relay/internal/types"
)

// Service is the contract of the external guild/membership service. The
// relay only reads through it; channel and membership lifecycle is owned
// elsewhere.
type Service interface {
	GetChannel(ctx context.Context, channelId string) (types.Channel, error)
	IsMember(ctx context.Context, userId, channelId string) (bool, error)
	ListMembers(ctx context.Context, channelId string) ([]string, error)
}
