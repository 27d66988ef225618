package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	_, ok := RequestID(ctx)
	assert.False(t, ok)

	ctx = WithRequestID(ctx, "req-abc")
	v, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-abc", v)
}

func TestAppUser_EmptyIsAbsent(t *testing.T) {
	ctx := WithAppUser(context.Background(), "")
	_, ok := AppUser(ctx)
	assert.False(t, ok)

	ctx = WithAppUser(ctx, "alice")
	v, ok := AppUser(ctx)
	assert.True(t, ok)
	assert.Equal(t, "alice", v)
}

func TestModel(t *testing.T) {
	ctx := WithModel(context.Background(), "llama3")
	v, ok := Model(ctx)
	assert.True(t, ok)
	assert.Equal(t, "llama3", v)
}
