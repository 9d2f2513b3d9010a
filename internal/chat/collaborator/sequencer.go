package collaborator

import (
	"context"
	"encoding/json"
	"time"

	errprocess "chat_delivery_service/pkg/err"
)

// SequencerClient allocates seqs from the conversation authority
type SequencerClient struct {
	client
	url string
}

// NewSequencerClient url contains {conversationId}
func NewSequencerClient(url, internalToken string, timeout time.Duration) *SequencerClient {
	return &SequencerClient{client: newClient("sequencer", timeout, internalToken), url: url}
}

type seqResponse struct {
	Seq   json.Number `json:"seq"`
	Value json.Number `json:"value"`
	Data  *struct {
		Seq json.Number `json:"seq"`
	} `json:"data"`
}

// Next next seq, anything below 1 is treated as a sequencer failure
func (s *SequencerClient) Next(ctx context.Context, conversationID string) (int64, error) {
	var res seqResponse
	body := map[string]string{"conversationId": conversationID}
	if err := s.do(ctx, "POST", expand(s.url, conversationID), nil, body, &res); err != nil {
		if errprocess.KindOf(err) != errprocess.KindDependencyUnavailable {
			return 0, errprocess.Unavailable("sequencer refused allocation", err)
		}
		return 0, err
	}

	raw := res.Seq
	if res.Data != nil && res.Data.Seq != "" {
		raw = res.Data.Seq
	}
	if raw == "" {
		raw = res.Value
	}
	seq, err := raw.Int64()
	if err != nil || seq < 1 {
		return 0, errprocess.Unavailable("sequencer returned an invalid seq", err)
	}
	return seq, nil
}
