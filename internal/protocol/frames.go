package protocol

import (
	"fmt"
	"strings"
	"time"

	"chat-relay/internal/types"
)

const (
	guildPrefix  = "channel."
	directPrefix = "direct."
	sendSuffix   = ".send"
)

type BaseFrame struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientFrame is the envelope for everything a client sends. Exactly one
// of the pointer fields is set.
type ClientFrame struct {
	BaseFrame
	Subscribe   *Subscribe   `json:"subscribe,omitempty"`
	Unsubscribe *Unsubscribe `json:"unsubscribe,omitempty"`
	Send        *Send        `json:"send,omitempty"`
}

type Subscribe struct {
	Destination string `json:"destination"`
}

type Unsubscribe struct {
	Destination string `json:"destination"`
}

type Send struct {
	Destination string   `json:"destination"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
}

type ServerFrame struct {
	BaseFrame
	Ack      *Ack           `json:"ack,omitempty"`
	Error    *Error         `json:"error,omitempty"`
	Message  *types.Message `json:"message,omitempty"`
	Presence *Presence      `json:"presence,omitempty"`
}

type Ack struct {
	SessionId string         `json:"session_id,omitempty"`
	ChannelId string         `json:"channel_id,omitempty"`
	MessageId string         `json:"message_id,omitempty"`
	Sequence  int64          `json:"sequence,omitempty"`
	SentAt    *time.Time     `json:"sent_at,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

type Presence struct {
	UserId string               `json:"user_id"`
	Status types.PresenceStatus `json:"status"`
	At     time.Time            `json:"at"`
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

func AckFrame(id int, ack *Ack) *ServerFrame {
	return &ServerFrame{
		BaseFrame: BaseFrame{Id: id, Timestamp: Now()},
		Ack:       ack,
	}
}

func ErrorFrame(id int, e *Error) *ServerFrame {
	if e == nil {
		e = ErrUnknown
	}
	return &ServerFrame{
		BaseFrame: BaseFrame{Id: id, Timestamp: Now()},
		Error:     e,
	}
}

func MessageFrame(msg *types.Message) *ServerFrame {
	return &ServerFrame{
		BaseFrame: BaseFrame{Timestamp: Now()},
		Message:   msg,
	}
}

func PresenceFrame(userId string, status types.PresenceStatus, at time.Time) *ServerFrame {
	return &ServerFrame{
		BaseFrame: BaseFrame{Timestamp: Now()},
		Presence:  &Presence{UserId: userId, Status: status, At: at},
	}
}

// ParseDestination resolves a client-supplied destination such as
// "channel.42", "direct.abc" or "channel.42.send" into the channel kind
// and id. The ".send" suffix is accepted on both kinds.
func ParseDestination(dest string) (types.ChannelKind, string, error) {
	dest = strings.TrimSuffix(dest, sendSuffix)

	switch {
	case strings.HasPrefix(dest, guildPrefix):
		id := strings.TrimPrefix(dest, guildPrefix)
		if id == "" {
			return "", "", fmt.Errorf("empty channel id in destination %q", dest)
		}
		return types.ChannelGuild, id, nil
	case strings.HasPrefix(dest, directPrefix):
		id := strings.TrimPrefix(dest, directPrefix)
		if id == "" {
			return "", "", fmt.Errorf("empty channel id in destination %q", dest)
		}
		return types.ChannelDirect, id, nil
	default:
		return "", "", fmt.Errorf("unrecognized destination %q", dest)
	}
}
