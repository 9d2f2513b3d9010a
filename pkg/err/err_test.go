package errprocess

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation("text is required"), KindValidation},
		{"wrapped conflict", fmt.Errorf("offer: %w", Conflict("call active")), KindConflict},
		{"deadline", fmt.Errorf("sequencer: %w", context.DeadlineExceeded), KindDependencyUnavailable},
		{"unavailable", Unavailable("sequencer", errors.New("502")), KindDependencyUnavailable},
		{"plain", errors.New("boom"), KindInternal},
		{"nil", nil, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, KindOf(c.err))
		})
	}
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("hangup: %w", NotFound("call %s not found", "c1"))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrConflict))
}

func TestPublicMessageHidesInternalCause(t *testing.T) {
	assert.Equal(t, "internal error", PublicMessage(Internal("insert", errors.New("mongo: socket closed"))))
	assert.Equal(t, "dependency unavailable", PublicMessage(context.DeadlineExceeded))
	assert.Equal(t, "not a member", PublicMessage(Auth("not a member")))
}

func TestUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Unavailable("policy", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}
