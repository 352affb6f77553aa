package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/air-quality-fusion/internal/airquality"
)

type recordingFetcher struct {
	mu    sync.Mutex
	keys  []string
	calls chan struct{}
	fail  string
}

func (f *recordingFetcher) FetchAndStore(ctx context.Context, loc airquality.Location) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("missing deadline")
	}
	f.mu.Lock()
	f.keys = append(f.keys, loc.Key())
	f.mu.Unlock()
	if f.calls != nil {
		f.calls <- struct{}{}
	}
	if loc.City == f.fail {
		return errors.New("upstream down")
	}
	return nil
}

var (
	quiet = slog.New(slog.NewTextHandler(io.Discard, nil))
	locs  = []airquality.Location{
		{City: "Seoul", Country: "KR", Lat: 37.57, Lon: 126.98},
		{City: "Lisbon", Country: "PT", Lat: 38.72, Lon: -9.14},
	}
)

func TestRunOnceFetchesEveryLocation(t *testing.T) {
	f := &recordingFetcher{fail: "Lisbon"}
	s := New(locs, time.Hour, f, quiet)

	s.RunOnce()

	sort.Strings(f.keys)
	assert.Equal(t, []string{"lisbon:PT", "seoul:KR"}, f.keys)
}

func TestStartRunsImmediately(t *testing.T) {
	f := &recordingFetcher{calls: make(chan struct{}, 2)}
	s := New(locs, time.Hour, f, quiet)
	require.NoError(t, s.Start())
	defer s.Stop()

	for i := 0; i < 2; i++ {
		select {
		case <-f.calls:
		case <-time.After(5 * time.Second):
			t.Fatal("scheduled job did not run")
		}
	}
}

func TestStartWithoutLocations(t *testing.T) {
	s := New(nil, 0, &recordingFetcher{}, quiet)
	assert.Equal(t, 15*time.Minute, s.interval)
	require.NoError(t, s.Start())
	s.Stop()
}
