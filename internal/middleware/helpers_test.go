package middleware

import (
	"context"
	"errors"
	"sync"
)

type testTokenValidator struct {
	mu            sync.Mutex
	expectedToken string
	err           error
	called        bool
	gotToken      string
	principal     string
}

func (v *testTokenValidator) ValidateToken(_ context.Context, token string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.called = true
	v.gotToken = token
	if v.err != nil {
		return "", v.err
	}
	if v.expectedToken != "" && token != v.expectedToken {
		return "", errors.New("invalid token")
	}
	return v.principal, nil
}
