package httperror

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewKnownKind(t *testing.T) {
	err := New(NotFound, "no such route")
	assert.Equal(t, http.StatusNotFound, err.Status)
	assert.True(t, err.IsClientError())
	assert.False(t, err.IsServerError())
	assert.False(t, err.IsRetryable())
}

func TestNewUnknownKindFallsBackToInternalServerError(t *testing.T) {
	err := New(Kind("NotARealKind"), "whatever")
	assert.Equal(t, InternalServerError, err.Kind)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		kind      Kind
		retryable bool
	}{
		{InternalServerError, true},
		{ServiceUnavailable, true},
		{RequestTimeout, true},
		{TooManyRequests, true},
		{GatewayTimeout, true},
		{BadRequest, false},
		{NotFound, false},
		{Forbidden, false},
	}
	for _, c := range cases {
		err := New(c.kind, "x")
		assert.Equal(t, c.retryable, err.IsRetryable(), "kind=%s", c.kind)
	}
}

func TestLiftPassesThroughTaxonomyErrors(t *testing.T) {
	original := New(Conflict, "duplicate route")
	lifted := Lift(original)
	assert.Same(t, original, lifted)
}

func TestLiftWrapsArbitraryErrors(t *testing.T) {
	lifted := Lift(assertError("boom"))
	assert.Equal(t, InternalServerError, lifted.Kind)
	assert.Equal(t, "boom", lifted.Data["originalError"])
}

func TestLiftNil(t *testing.T) {
	assert.Nil(t, Lift(nil))
}

func TestEnvelopeHidesStackInProduction(t *testing.T) {
	err := New(InternalServerError, "oops")
	err.Stack = "trace line 1\ntrace line 2"

	devEnv := err.Envelope(true)
	assert.Equal(t, err.Stack, devEnv.Error.Stack)

	prodEnv := err.Envelope(false)
	assert.Empty(t, prodEnv.Error.Stack)
}

type assertError string

func (e assertError) Error() string { return string(e) }
