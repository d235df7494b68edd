package utils

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_PassesResultsThrough(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx := context.Background()

	result, err := cb.Execute(ctx, func() (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	wantErr := errors.New("downstream unavailable")
	_, err = cb.Execute(ctx, func() (interface{}, error) {
		return nil, wantErr
	})
	assert.Equal(t, wantErr, err)
}

func TestCircuitBreaker_OpensAfterFailureRatio(t *testing.T) {
	cb := NewCircuitBreaker("test")
	cb.maxRequests = 5
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cb.Execute(ctx, func() (interface{}, error) {
			return nil, errors.New("boom")
		})
	}

	_, err := cb.Execute(ctx, func() (interface{}, error) {
		t.Fatal("request must not reach the dependency while open")
		return nil, nil
	})
	assert.Equal(t, ErrCircuitOpen, err)
}
