package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	errprocess "chat_delivery_service/pkg/err"
	"chat_delivery_service/pkg/middlewares"
)

// client JSON over HTTP with a per call deadline and the internal auth header
type client struct {
	httpc         *http.Client
	internalToken string
	timeout       time.Duration
	name          string
}

func newClient(name string, timeout time.Duration, internalToken string) client {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	return client{
		httpc:         &http.Client{},
		internalToken: internalToken,
		timeout:       timeout,
		name:          name,
	}
}

// do sends body as JSON (nil for none) and decodes a 2xx response into out (nil to discard).
func (c client) do(ctx context.Context, method, url string, headers map[string]string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errprocess.Internal(c.name+": encode request", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return errprocess.Internal(c.name+": build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.internalToken != "" {
		req.Header.Set(middlewares.HeaderInternalAuth, c.internalToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errprocess.Unavailable(c.name+" unreachable", err)
	}
	defer resp.Body.Close()

	if err := statusError(c.name, resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return errprocess.Unavailable(c.name+": malformed response", err)
	}
	return nil
}

func statusError(name string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	cause := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &errprocess.Error{Kind: errprocess.KindAuth, Message: name + " rejected the credentials", Cause: cause}
	case resp.StatusCode == http.StatusNotFound:
		return &errprocess.Error{Kind: errprocess.KindNotFound, Message: name + ": not found", Cause: cause}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return errprocess.Unavailable(name+" failed", cause)
	default:
		return &errprocess.Error{Kind: errprocess.KindValidation, Message: name + " refused the request", Cause: cause}
	}
}

// expand fills {conversationId} with the path escaped id, a client supplied id never adds path segments
func expand(tmpl, conversationID string) string {
	return strings.ReplaceAll(tmpl, "{conversationId}", url.PathEscape(conversationID))
}

func str(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
