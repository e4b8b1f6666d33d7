package geo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBBox(t *testing.T) {
	t.Parallel()

	box, err := ParseBBox("-37.8265,144.9475,-37.8060,144.9835")
	require.NoError(t, err)
	require.Equal(t, BBox{South: -37.8265, West: 144.9475, North: -37.8060, East: 144.9835}, box)
	require.Equal(t, "-37.8265,144.9475,-37.8060,144.9835", box.String())
}

func TestParseBBoxErrors(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"",
		"1,2,3",
		"a,b,c,d",
		"1,2,3,4,5",
		"-37.80,144.94,-37.82,144.98", // south above north
	} {
		_, err := ParseBBox(raw)
		require.Error(t, err, "ParseBBox(%q)", raw)
	}
}

func TestContains(t *testing.T) {
	t.Parallel()

	box := BBox{South: -37.8265, West: 144.9475, North: -37.8060, East: 144.9835}
	require.True(t, box.Contains(-37.8102, 144.9628))
	require.True(t, box.Contains(-37.8265, 144.9475)) // boundary included
	require.False(t, box.Contains(-37.9000, 144.9628))
	require.False(t, box.Contains(-37.8102, 145.1000))
}

func TestNormalizeAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"1 Swanston St Melbourne", "1 swanston st melbourne"},
		{"  1  SWANSTON   ST  ", "1 swanston st"},
		{"1\tSwanston\nSt", "1 swanston st"},
		{"", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, NormalizeAddress(tt.in))
	}
}

func TestHaversineKm(t *testing.T) {
	t.Parallel()

	// Flinders Street Station to Melbourne Central, roughly 950m.
	d := HaversineKm(-37.8183, 144.9671, -37.8100, 144.9628)
	require.InDelta(t, 1.0, d, 0.15)
	require.Zero(t, HaversineKm(-37.81, 144.96, -37.81, 144.96))
}
