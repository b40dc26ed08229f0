// Package rendezvous defines the fallback peer source consulted when
// bootstrap finds no reachable peer. Nodes join a shared topic and
// receive candidate peer addresses asynchronously. A DHT-backed
// implementation is an external collaborator; this package ships a
// static source so the fallback path works with configured seed nodes.
package rendezvous

import (
	"context"
	"headcount/helper/timer"
	"headcount/oid"
	"time"

	log "github.com/sirupsen/logrus"
)

// PeerSource yields candidate peer addresses for a topic until Leave is
// called or the join context is cancelled.
type PeerSource interface {
	// Join subscribes to the topic and returns a channel of candidate
	// addresses. The channel is closed when the subscription ends.
	Join(ctx context.Context, topic *oid.Oid) (<-chan string, error)

	// Leave announces departure and ends the subscription.
	Leave() error
}

// Static is a PeerSource backed by a fixed list of seed addresses,
// re-emitted periodically so transiently unreachable seeds get retried.
type Static struct {
	Addresses []string
	Interval  time.Duration

	cancel context.CancelFunc
}

func NewStatic(addresses []string) *Static {
	return &Static{
		Addresses: addresses,
		Interval:  time.Minute,
	}
}

func (s *Static) Join(ctx context.Context, topic *oid.Oid) (<-chan string, error) {
	log.Infof("Rendezvous: joining topic %s with %d static seeds", topic.String(), len(s.Addresses))

	ctx, s.cancel = context.WithCancel(ctx)
	out := make(chan string)

	go func() {
		defer close(out)

		emit := func(ctx context.Context) error {
			for _, addr := range s.Addresses {
				select {
				case out <- addr:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		}

		iv := &timer.Interval{
			Duration:  s.Interval,
			Jitter:    s.Interval / 10,
			Immediate: true,
		}
		timer.RunWithTicker(ctx, iv, emit)
	}()

	return out, nil
}

func (s *Static) Leave() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}
