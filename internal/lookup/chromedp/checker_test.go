package chromedplookup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ozgrid/bulkcheck/internal/check"
)

func TestNewRequiresServiceURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	c, err := New(Config{ServiceURL: "https://example.com/qualify"}, nil)
	require.NoError(t, err)
	defer c.Close()

	require.Equal(t, "#tcom-sq-main-input", c.cfg.InputSelector)
	require.Equal(t, "eligible for 5G Home Internet", c.cfg.AvailablePhrase)
	require.Equal(t, 25*time.Second, c.cfg.NavTimeout)
	require.Equal(t, 1, cap(c.sem))
	require.Nil(t, c.limiter)

	limited, err := New(Config{ServiceURL: "https://example.com/qualify", QPS: 0.5, MaxParallel: 3}, nil)
	require.NoError(t, err)
	defer limited.Close()
	require.NotNil(t, limited.limiter)
	require.Equal(t, 3, cap(limited.sem))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want check.ErrorKind
	}{
		{"deadline", context.DeadlineExceeded, check.KindTimeout},
		{"canceled", context.Canceled, check.KindTransport},
		{"missing node", errors.New("could not find node for selector"), check.KindBlocked},
		{"selector wait", errors.New("timed out waiting for selector #x"), check.KindBlocked},
		{"websocket", errors.New("websocket url read: EOF"), check.KindTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err, "stage")
			require.Equal(t, tt.want, check.KindOf(err))
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestLookupAbortsWhenContextCanceled(t *testing.T) {
	t.Parallel()

	c, err := New(Config{ServiceURL: "https://example.com/qualify"}, nil)
	require.NoError(t, err)
	defer c.Close()

	// Occupy the single browser slot so the lookup blocks on acquisition.
	c.sem <- struct{}{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = c.Lookup(ctx, check.NewSubject("1 Swanston St", -37.81, 144.96))
	require.Error(t, err)
	require.Equal(t, check.KindTransport, check.KindOf(err))
}
