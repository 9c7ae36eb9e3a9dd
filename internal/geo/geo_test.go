package geo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNominatimParsesAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		assert.Equal(t, "5", r.URL.Query().Get("zoom"))
		assert.Equal(t, nominatimUserAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"address":{"country_code":"ca","county":"Squamish-Lillooet"}}`))
	}))
	defer srv.Close()

	n := NewNominatim(srv.Client(), srv.URL)
	p, err := n.Reverse(context.Background(), 50.11, -122.95)
	require.NoError(t, err)
	assert.Equal(t, Place{Country: "CA", Region: "Squamish-Lillooet"}, p)
}

func TestNominatimPrefersState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"address":{"country":"United States","state":"Colorado","county":"Eagle County"}}`))
	}))
	defer srv.Close()

	p, err := NewNominatim(srv.Client(), srv.URL).Reverse(context.Background(), 39.6, -106.5)
	require.NoError(t, err)
	assert.Equal(t, Place{Country: "United States", Region: "Colorado"}, p)
}

type failing struct{ calls int }

func (f *failing) Reverse(context.Context, float64, float64) (Place, error) {
	f.calls++
	return Place{}, errors.New("upstream down")
}

type fixed struct{ calls int }

func (f *fixed) Reverse(context.Context, float64, float64) (Place, error) {
	f.calls++
	return Place{Country: "Canada", Region: "British Columbia"}, nil
}

func TestLookupOrUnknownDegrades(t *testing.T) {
	p := LookupOrUnknown(context.Background(), &failing{}, 1, 2)
	assert.Equal(t, Place{Country: UnknownCountry}, p)

	p = LookupOrUnknown(context.Background(), nil, 1, 2)
	assert.Equal(t, UnknownCountry, p.Country)
}

func TestCachedReusesResults(t *testing.T) {
	inner := &fixed{}
	c := NewCached(inner, time.Minute)

	for i := 0; i < 3; i++ {
		p, err := c.Reverse(context.Background(), 50.1127, -122.9545)
		require.NoError(t, err)
		assert.Equal(t, "Canada", p.Country)
	}
	assert.Equal(t, 1, inner.calls)

	bad := &failing{}
	_, err := NewCached(bad, time.Minute).Reverse(context.Background(), 1, 1)
	assert.Error(t, err)
}
