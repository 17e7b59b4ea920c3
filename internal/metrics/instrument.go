package metrics

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/awaistahir/smart-sprinkler/internal/engine"
	"github.com/awaistahir/smart-sprinkler/internal/notify"
	"github.com/awaistahir/smart-sprinkler/internal/store"
	"github.com/awaistahir/smart-sprinkler/internal/valve"
	"github.com/awaistahir/smart-sprinkler/internal/weather"
)

// Notifier turns zone events into counters and gauges
type Notifier struct{}

func (Notifier) Notify(_ context.Context, e notify.Event) {
	zone := strconv.Itoa(e.ZoneID)

	switch e.Kind {
	case notify.CycleStarted:
		Cycles.WithLabelValues(zone).Inc()
	case notify.ScheduleUpdated:
		Depletion.WithLabelValues(zone).Set(e.Depletion)
		if e.Next != nil {
			NextRun.WithLabelValues(zone).Set(float64(e.Next.Start.Unix()))
		} else {
			NextRun.WithLabelValues(zone).Set(0)
		}
	default:
		Runs.WithLabelValues(zone, string(e.Kind)).Inc()
	}
}

type fetcher struct {
	next weather.Fetcher
}

// InstrumentFetcher counts forecast fetch results
func InstrumentFetcher(f weather.Fetcher) weather.Fetcher {
	return fetcher{next: f}
}

func (f fetcher) Daily(ctx context.Context) (*engine.Forecast, error) {
	forecast, err := f.next.Daily(ctx)
	if err != nil {
		ForecastFetches.WithLabelValues("error").Inc()
		return nil, err
	}
	ForecastFetches.WithLabelValues("ok").Inc()
	return forecast, nil
}

type instrumentedStore struct {
	store.Store
}

// InstrumentStore counts failed reads and writes. A missing document is not a failure.
func InstrumentStore(s store.Store) store.Store {
	return instrumentedStore{Store: s}
}

func (s instrumentedStore) GetDocument(ctx context.Context, key string) ([]byte, error) {
	doc, err := s.Store.GetDocument(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		StoreErrors.WithLabelValues("get").Inc()
	}
	return doc, err
}

func (s instrumentedStore) PutDocument(ctx context.Context, key string, doc []byte) error {
	err := s.Store.PutDocument(ctx, key, doc)
	if err != nil {
		StoreErrors.WithLabelValues("put").Inc()
	}
	return err
}

func (s instrumentedStore) ListDocuments(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.Store.ListDocuments(ctx, prefix)
	if err != nil {
		StoreErrors.WithLabelValues("list").Inc()
	}
	return keys, err
}

type instrumentedValve struct {
	next valve.Valve
}

// InstrumentValve counts failed valve commands
func InstrumentValve(v valve.Valve) valve.Valve {
	return instrumentedValve{next: v}
}

func (v instrumentedValve) Open(ctx context.Context, zoneID int, duration time.Duration) error {
	err := v.next.Open(ctx, zoneID, duration)
	if err != nil {
		ValveErrors.WithLabelValues(strconv.Itoa(zoneID), "open").Inc()
	}
	return err
}

func (v instrumentedValve) Close(ctx context.Context, zoneID int) error {
	err := v.next.Close(ctx, zoneID)
	if err != nil {
		ValveErrors.WithLabelValues(strconv.Itoa(zoneID), "close").Inc()
	}
	return err
}
