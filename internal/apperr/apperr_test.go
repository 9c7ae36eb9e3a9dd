package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("name is required"), http.StatusBadRequest},
		{Authentication("Invalid API key"), http.StatusUnauthorized},
		{Authorization("Forbidden"), http.StatusForbidden},
		{NotFound("Location not found"), http.StatusNotFound},
		{Conflict("duplicate"), http.StatusConflict},
		{RateLimited("Rate limit exceeded", time.Second), http.StatusTooManyRequests},
		{QuotaExceeded("Daily quota exceeded", time.Hour), http.StatusTooManyRequests},
		{Upstream("fetch failed", errors.New("boom")), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Status(tc.err), tc.err.Error())
	}
}

func TestWrappedErrorKeepsKind(t *testing.T) {
	err := fmt.Errorf("handler: %w", NotFound("Client not found"))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, Public(err))
	assert.False(t, Public(Internal("db", errors.New("conn reset"))))
}
