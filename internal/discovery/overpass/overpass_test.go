package overpass

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ozgrid/bulkcheck/internal/check"
	"github.com/ozgrid/bulkcheck/internal/geo"
)

var testRegion = geo.BBox{South: -37.8265, West: 144.9475, North: -37.8060, East: 144.9835}

const sampleResponse = `{
  "elements": [
    {
      "type": "node",
      "lat": -37.8102,
      "lon": 144.9628,
      "tags": {"addr:housenumber": "1", "addr:street": "Swanston Street", "addr:suburb": "Melbourne", "addr:postcode": "3000"}
    },
    {
      "type": "way",
      "center": {"lat": -37.8150, "lon": 144.9660},
      "tags": {"addr:housenumber": "100", "addr:street": "Collins Street", "addr:city": "Melbourne", "addr:postcode": "3000"}
    },
    {
      "type": "node",
      "lat": -37.8102,
      "lon": 144.9628,
      "tags": {"addr:housenumber": "1", "addr:street": "Swanston  Street", "addr:suburb": "Melbourne", "addr:postcode": "3000"}
    },
    {
      "type": "node",
      "lat": -37.8120,
      "lon": 144.9630,
      "tags": {"building": "yes"}
    },
    {
      "type": "way",
      "tags": {"addr:housenumber": "7", "addr:street": "Lonsdale Street"}
    }
  ]
}`

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestDiscoverParsesNodesAndWays(t *testing.T) {
	t.Parallel()

	var gotQuery string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gotQuery = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleResponse))
	})

	d := New(Config{Endpoint: srv.URL, StateSuffix: "VIC", Timeout: 5 * time.Second}, nil)
	subjects, err := d.Discover(context.Background(), testRegion, 0)
	require.NoError(t, err)

	// Two usable addresses: the duplicate node collapses onto the first,
	// the tagless node and the center-less way are dropped.
	require.Len(t, subjects, 2)
	require.Equal(t, "1 Swanston Street Melbourne VIC 3000", subjects[0].Address)
	require.Equal(t, -37.8102, subjects[0].Lat)
	require.Equal(t, "100 Collins Street Melbourne VIC 3000", subjects[1].Address)
	require.Equal(t, -37.8150, subjects[1].Lat)
	require.Equal(t, 144.9660, subjects[1].Lon)

	require.Contains(t, gotQuery, "addr%3Ahousenumber")
	require.Contains(t, gotQuery, "-37.8265")
}

func TestDiscoverHonorsMaxCount(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(sampleResponse))
	})

	d := New(Config{Endpoint: srv.URL, StateSuffix: "VIC"}, nil)
	subjects, err := d.Discover(context.Background(), testRegion, 1)
	require.NoError(t, err)
	require.Len(t, subjects, 1)
}

func TestDiscoverServerErrorIsDiscoveryUnavailable(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	d := New(Config{Endpoint: srv.URL}, nil)
	_, err := d.Discover(context.Background(), testRegion, 0)
	require.Error(t, err)
	require.ErrorIs(t, err, check.ErrDiscoveryUnavailable)
}

func TestDiscoverBadJSONIsDiscoveryUnavailable(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>gateway timeout</html>"))
	})

	d := New(Config{Endpoint: srv.URL}, nil)
	_, err := d.Discover(context.Background(), testRegion, 0)
	require.Error(t, err)
	require.ErrorIs(t, err, check.ErrDiscoveryUnavailable)
}

func TestDiscoverRejectsInvalidRegion(t *testing.T) {
	t.Parallel()

	d := New(Config{Endpoint: "http://unused.invalid"}, nil)
	_, err := d.Discover(context.Background(), geo.BBox{South: 1, North: -1}, 0)
	require.Error(t, err)
	require.ErrorIs(t, err, check.ErrDiscoveryUnavailable)
}

func TestFormatAddressShapes(t *testing.T) {
	t.Parallel()

	d := New(Config{StateSuffix: "VIC"}, nil)

	tests := []struct {
		name string
		tags map[string]string
		want string
	}{
		{
			name: "full",
			tags: map[string]string{"addr:housenumber": "7", "addr:street": "Lonsdale St", "addr:suburb": "Melbourne", "addr:postcode": "3000"},
			want: "7 Lonsdale St Melbourne VIC 3000",
		},
		{
			name: "city fallback",
			tags: map[string]string{"addr:housenumber": "7", "addr:street": "Lonsdale St", "addr:city": "Melbourne"},
			want: "7 Lonsdale St Melbourne VIC",
		},
		{
			name: "no street",
			tags: map[string]string{"addr:housenumber": "7"},
			want: "",
		},
		{
			name: "street only",
			tags: map[string]string{"addr:street": "Lonsdale St"},
			want: "Lonsdale St VIC",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, d.formatAddress(tt.tags))
		})
	}
}
