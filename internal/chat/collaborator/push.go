package collaborator

import (
	"context"
	"time"

	"chat_delivery_service/internal/chat/domain"
)

// PushClient delivers notifications to the push gateway
type PushClient struct {
	client
	url string
}

// NewPushClient create PushClient
func NewPushClient(url, internalToken string, timeout time.Duration) *PushClient {
	return &PushClient{client: newClient("push", timeout, internalToken), url: url}
}

// Notify best effort, callers retry
func (p *PushClient) Notify(ctx context.Context, n domain.PushNotification) error {
	return p.do(ctx, "POST", p.url, nil, n, nil)
}
