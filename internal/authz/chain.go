package authz

import (
	"context"

	"chat-relay/internal/auth"
	"chat-relay/internal/guild"
	"chat-relay/internal/protocol"
)

// Request carries everything a check may need. Token is set at connect
// time; ChannelId is set when the request concerns a channel.
type Request struct {
	Token     string
	UserId    string
	ChannelId string
}

// Check is one link of the authorization chain.
type Check interface {
	Evaluate(ctx context.Context, req *Request) *protocol.Error
}

// Chain evaluates its checks in order; the first rejection short-circuits
// the rest.
type Chain struct {
	checks []Check
}

func NewChain(checks ...Check) *Chain {
	return &Chain{checks: checks}
}

func (c *Chain) Evaluate(ctx context.Context, req *Request) *protocol.Error {
	for _, check := range c.checks {
		if rej := check.Evaluate(ctx, req); rej != nil {
			return rej
		}
	}
	return nil
}

// CredentialCheck verifies the request token and fills in the user id for
// the checks after it.
type CredentialCheck struct {
	verifier *auth.Verifier
}

func NewCredentialCheck(verifier *auth.Verifier) *CredentialCheck {
	return &CredentialCheck{verifier: verifier}
}

func (c *CredentialCheck) Evaluate(_ context.Context, req *Request) *protocol.Error {
	// Already verified upstream, nothing to add.
	if req.UserId != "" {
		return nil
	}
	if req.Token == "" {
		return protocol.ErrMissingCredentials
	}

	claims, rej := c.verifier.Verify(req.Token)
	if rej != nil {
		return rej
	}

	req.UserId = claims.UserId
	return nil
}

// MembershipCheck answers through the TTL-bounded guild cache; a miss or
// expired entry refreshes synchronously from the guild service.
type MembershipCheck struct {
	cache *guild.Cache
}

func NewMembershipCheck(cache *guild.Cache) *MembershipCheck {
	return &MembershipCheck{cache: cache}
}

func (c *MembershipCheck) Evaluate(ctx context.Context, req *Request) *protocol.Error {
	if req.ChannelId == "" {
		return nil
	}

	member, err := c.cache.IsMember(ctx, req.UserId, req.ChannelId)
	if err != nil {
		return protocol.ErrUnknown
	}
	if !member {
		return protocol.ErrNotAMember
	}

	return nil
}
