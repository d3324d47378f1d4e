package internal

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "unknown", GetRequestID(ctx))
	assert.False(t, HasRequestID(ctx))

	ctx = WithRequestID(ctx, "req_1234")
	assert.Equal(t, "req_1234", GetRequestID(ctx))
	assert.True(t, HasRequestID(ctx))
}

func TestNewRequestID(t *testing.T) {
	a, b := NewRequestID(), NewRequestID()
	assert.True(t, strings.HasPrefix(a, "req_"))
	assert.Len(t, a, len("req_")+8)
	assert.NotEqual(t, a, b)
}
