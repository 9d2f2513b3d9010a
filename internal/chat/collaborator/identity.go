package collaborator

import (
	"context"
	"strings"
	"time"

	"chat_delivery_service/internal/chat/domain"
	errprocess "chat_delivery_service/pkg/err"
	"chat_delivery_service/pkg/token"
)

// IntrospectAuthenticator resolves tokens against the identity service
type IntrospectAuthenticator struct {
	client
	url    string
	scheme string
}

// NewIntrospectAuthenticator create IntrospectAuthenticator
func NewIntrospectAuthenticator(url, scheme, internalToken string, timeout time.Duration) *IntrospectAuthenticator {
	if scheme == "" {
		scheme = "Bearer"
	}
	if !strings.HasSuffix(url, "/") {
		url += "/"
	}
	return &IntrospectAuthenticator{
		client: newClient("identity", timeout, internalToken),
		url:    url,
		scheme: scheme,
	}
}

// Authenticate token -> principal
func (a *IntrospectAuthenticator) Authenticate(ctx context.Context, tok string) (domain.Principal, error) {
	var data map[string]interface{}
	err := a.do(ctx, "GET", a.url, map[string]string{"Authorization": a.scheme + " " + tok}, nil, &data)
	if err != nil {
		if errprocess.KindOf(err) == errprocess.KindDependencyUnavailable {
			return domain.Principal{}, err
		}
		return domain.Principal{}, errprocess.Auth("invalid token")
	}

	userID := str(data["userId"])
	if userID == "" {
		userID = str(data["id"])
	}
	if userID == "" {
		return domain.Principal{}, errprocess.Auth("invalid token payload")
	}

	username := str(data["username"])
	if username == "" {
		username = str(data["display_name"])
	}
	if username == "" {
		if email := str(data["email"]); email != "" {
			username = strings.SplitN(email, "@", 2)[0]
		}
	}
	if username == "" {
		username = "user"
	}

	deviceID := str(data["device_id"])
	if deviceID == "" {
		deviceID = str(data["deviceId"])
	}

	return domain.Principal{
		UserID:   userID,
		Username: username,
		DeviceID: deviceID,
		Scopes:   scopes(data),
		Token:    tok,
	}, nil
}

func scopes(data map[string]interface{}) []string {
	if raw, ok := data["scopes"].([]interface{}); ok {
		out := make([]string, 0, len(raw))
		for _, s := range raw {
			out = append(out, str(s))
		}
		return out
	}
	if ent, ok := data["entitlements"].(map[string]interface{}); ok {
		var out []string
		for k, v := range ent {
			if b, ok := v.(bool); ok && b {
				out = append(out, k)
			}
		}
		return out
	}
	return nil
}

// JWTAuthenticator verifies HS256 tokens locally
type JWTAuthenticator struct {
	secret []byte
}

// NewJWTAuthenticator create JWTAuthenticator
func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

// Authenticate token -> principal
func (a *JWTAuthenticator) Authenticate(_ context.Context, tok string) (domain.Principal, error) {
	claims, err := token.ParseJWT(a.secret, tok)
	if err != nil {
		return domain.Principal{}, errprocess.Auth("invalid token")
	}
	return domain.Principal{
		UserID:   claims.UserID,
		Username: claims.Username,
		DeviceID: claims.DeviceID,
		Scopes:   claims.Scopes,
		Token:    tok,
	}, nil
}
