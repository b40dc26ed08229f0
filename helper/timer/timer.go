package timer

import (
	"context"
	"math/rand"
	"reflect"
	"runtime"
	"time"

	"github.com/lthibault/jitterbug"

	log "github.com/sirupsen/logrus"
)

type Interval struct {
	Duration time.Duration
	Jitter   time.Duration

	// Immediate makes the first invocation happen right away instead of
	// after the first tick. Used for announcements, where waiting a full
	// interval would delay the node becoming visible.
	Immediate bool
}

type tickerJitter struct {
	MaxJitter time.Duration
}

func (j tickerJitter) Jitter(d time.Duration) time.Duration {
	if j.MaxJitter >= d {
		log.Fatal("tickerJitter: MaxJitter is greater than duration")
	}

	if j.MaxJitter == 0 {
		return d
	}

	return d + (time.Duration(rand.Int63n(int64(2*j.MaxJitter))) - j.MaxJitter)
}

// RunWithTicker runs f periodically with the given interval. Exits when the
// context is cancelled or when f() returns an error.
func RunWithTicker(ctx context.Context, interval *Interval, f func(ctx context.Context) error) error {
	funcName := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()

	j := jitterbug.New(interval.Duration, &tickerJitter{MaxJitter: interval.Jitter})
	defer j.Stop()

	log.Debugf("RunWithTicker: running %s with interval %v (jitter %v)", funcName, interval.Duration, interval.Jitter)

	if interval.Immediate {
		if err := f(ctx); err != nil {
			log.Errorf("RunWithTicker: function %s returned error: %v", funcName, err)
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			log.Debugf("RunWithTicker: context cancelled for %s", funcName)
			return ctx.Err()
		case <-j.C:
			if err := f(ctx); err != nil {
				log.Errorf("RunWithTicker: function %s returned error: %v", funcName, err)
				return err
			}
		}
	}
}
