package collaborator

import (
	"context"
	"net/url"
	"time"

	"chat_delivery_service/internal/chat/domain"
	errprocess "chat_delivery_service/pkg/err"
)

// PolicyClient conversation authority: membership, member ids, last message
type PolicyClient struct {
	client
	permsURL       string
	membersURL     string
	lastMessageURL string
}

// NewPolicyClient urls contain {conversationId}
func NewPolicyClient(permsURL, membersURL, lastMessageURL, internalToken string, timeout time.Duration) *PolicyClient {
	return &PolicyClient{
		client:         newClient("policy", timeout, internalToken),
		permsURL:       permsURL,
		membersURL:     membersURL,
		lastMessageURL: lastMessageURL,
	}
}

// Membership asks whether principal may act in the conversation
func (p *PolicyClient) Membership(ctx context.Context, principal domain.Principal, conversationID string) (domain.Membership, error) {
	if p.permsURL == "" {
		return domain.Membership{}, errprocess.Unavailable("policy: perms url not configured", nil)
	}
	u, err := url.Parse(expand(p.permsURL, conversationID))
	if err != nil {
		return domain.Membership{}, errprocess.Internal("policy: bad perms url", err)
	}
	q := u.Query()
	q.Set("userId", principal.UserID)
	u.RawQuery = q.Encode()

	headers := map[string]string{}
	if principal.Token != "" {
		headers["Authorization"] = "Bearer " + principal.Token
	}
	var m domain.Membership
	if err := p.do(ctx, "GET", u.String(), headers, nil, &m); err != nil {
		if errprocess.KindOf(err) == errprocess.KindNotFound {
			return domain.Membership{}, nil
		}
		return domain.Membership{}, err
	}
	return m, nil
}

type memberIDsResponse struct {
	UserIDsSnake []interface{} `json:"user_ids"`
	UserIDs      []interface{} `json:"userIds"`
}

// MemberIDs every member of the conversation
func (p *PolicyClient) MemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	if p.membersURL == "" {
		return nil, nil
	}
	var res memberIDsResponse
	if err := p.do(ctx, "GET", expand(p.membersURL, conversationID), nil, nil, &res); err != nil {
		return nil, err
	}
	raw := res.UserIDsSnake
	if raw == nil {
		raw = res.UserIDs
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s := str(v); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// UpdateLastMessage conversation list denormalization, preview capped at 255 runes
func (p *PolicyClient) UpdateLastMessage(ctx context.Context, conversationID string, at time.Time, preview string) error {
	if p.lastMessageURL == "" {
		return nil
	}
	r := []rune(preview)
	if len(r) > 255 {
		preview = string(r[:255])
	}
	body := map[string]string{
		"last_message_at":      at.UTC().Format(time.RFC3339Nano),
		"last_message_preview": preview,
	}
	return p.do(ctx, "PATCH", expand(p.lastMessageURL, conversationID), nil, body, nil)
}

// AllowAllPolicy development policy, every principal is a member
type AllowAllPolicy struct{}

// Membership always allowed
func (AllowAllPolicy) Membership(context.Context, domain.Principal, string) (domain.Membership, error) {
	return domain.Membership{IsMember: true, Role: "member"}, nil
}

// MemberIDs unknown
func (AllowAllPolicy) MemberIDs(context.Context, string) ([]string, error) { return nil, nil }

// UpdateLastMessage no-op
func (AllowAllPolicy) UpdateLastMessage(context.Context, string, time.Time, string) error {
	return nil
}
