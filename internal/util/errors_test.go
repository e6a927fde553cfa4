package util

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{nil, ""},
		{NewRouteNotFoundError("GET", "/x"), KindRouteNotFound},
		{NewUnauthenticatedError("no token"), KindUnauthenticated},
		{NewForbiddenError("no role"), KindForbidden},
		{NewRateLimitError(10, time.Minute), KindRateLimitExceeded},
		{NewCircuitOpenError("a:80", "open"), KindServiceUnavailable},
		{NewUpstreamError("svc", "a:80", errors.New("x"), false), KindServiceUnavailable},
		{NewUpstreamError("svc", "a:80", errors.New("x"), true), KindUpstreamTimeout},
		{NewPoolExhaustedError("a:80", 100, time.Second), KindPoolExhausted},
		{NewDiscoveryError("svc", errors.New("x")), KindDiscoveryUnavailable},
		{ErrNoAvailableInstance, KindNoAvailableInstance},
		{errors.New("anything else"), KindInternal},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.kind, KindOf(tc.err), "%v", tc.err)
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("handling request: %w", NewRateLimitError(5, time.Minute))
	assert.Equal(t, KindRateLimitExceeded, KindOf(err))

	err = WrapError(NewPoolExhaustedError("a:80", 10, time.Second), "forward failed")
	assert.Equal(t, KindPoolExhausted, KindOf(err))
}

func TestStructuredErrorsMatchSentinels(t *testing.T) {
	assert.ErrorIs(t, NewRouteNotFoundError("GET", "/x"), ErrRouteNotFound)
	assert.ErrorIs(t, NewUnauthenticatedError("r"), ErrUnauthenticated)
	assert.ErrorIs(t, NewForbiddenError("r"), ErrForbidden)
	assert.NotErrorIs(t, NewForbiddenError("r"), ErrUnauthenticated)
	assert.ErrorIs(t, NewRateLimitError(1, time.Second), ErrRateLimited)
	assert.ErrorIs(t, NewCircuitOpenError("t", "open"), ErrServiceUnavailable)
	assert.ErrorIs(t, NewPoolExhaustedError("t", 1, time.Second), ErrPoolExhausted)
	assert.ErrorIs(t, NewDiscoveryError("s", errors.New("x")), ErrDiscoveryUnavailable)

	timeoutErr := NewUpstreamError("s", "t", errors.New("x"), true)
	assert.ErrorIs(t, timeoutErr, ErrUpstreamTimeout)
	assert.ErrorIs(t, timeoutErr, ErrServiceUnavailable)

	plainErr := NewUpstreamError("s", "t", errors.New("x"), false)
	assert.NotErrorIs(t, plainErr, ErrUpstreamTimeout)
}

func TestUpstreamErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewUpstreamError("svc", "a:80", cause, false)
	assert.ErrorIs(t, err, cause)
}

func TestWrapErrorNil(t *testing.T) {
	assert.Nil(t, WrapError(nil, "context"))
}
