package types

import (
	"time"
)

type ChannelKind string

const (
	ChannelGuild  ChannelKind = "GUILD"
	ChannelDirect ChannelKind = "DIRECT"
)

type Channel struct {
	Id      string      `json:"id"`
	Kind    ChannelKind `json:"kind"`
	GuildId string      `json:"guild_id,omitempty"`
	// Members holds the two participant ids for a direct channel. Guild
	// membership is resolved through the guild service, not carried here.
	Members []string `json:"members,omitempty"`
}

type Message struct {
	Id          string    `json:"id"`
	ChannelId   string    `json:"channel_id"`
	SenderId    string    `json:"sender_id"`
	Content     string    `json:"content"`
	Attachments []string  `json:"attachments,omitempty"`
	Sequence    int64     `json:"sequence"`
	SentAt      time.Time `json:"sent_at"`
}

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "ONLINE"
	PresenceOffline PresenceStatus = "OFFLINE"
)

type PresenceState struct {
	UserId           string         `json:"user_id"`
	Status           PresenceStatus `json:"status"`
	LastTransitionAt time.Time      `json:"last_transition_at"`
}
