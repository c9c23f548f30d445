package notify

import (
	"context"
	"fmt"
	"sync"

	"mediarr/internal/eventbus"
	"mediarr/internal/kit"
	logx "mediarr/pkg/logx"
)

// Bridge subscribes to the scheduler's bus and turns job failures into
// notifications. It is the only coupling between the scheduler and the
// dispatcher; neither imports the other.
type Bridge struct {
	bus        eventbus.Bus
	dispatcher *Service
	log        logx.Logger

	stopOnce sync.Once
	unsub    func()
	done     chan struct{}
}

func NewBridge(bus eventbus.Bus, dispatcher *Service, log logx.Logger) *Bridge {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bridge{bus: bus, dispatcher: dispatcher, log: log, done: make(chan struct{})}
}

// Start begins consuming bus events until Stop or ctx cancellation.
func (b *Bridge) Start(ctx context.Context) {
	ch, unsub := b.bus.Subscribe(32)
	b.unsub = unsub

	go func() {
		defer close(b.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if ev.Type != eventbus.TopicJobFailed {
					continue
				}
				b.handleFailure(ctx, ev)
			}
		}
	}()
}

func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.unsub != nil {
			b.unsub()
		}
		<-b.done
	})
}

func (b *Bridge) handleFailure(ctx context.Context, ev eventbus.Event) {
	run, ok := ev.Data.(kit.JobRun)
	if !ok {
		b.log.Warn("job failure event with unexpected payload", logx.Any("data", ev.Data))
		return
	}

	b.dispatcher.Dispatch(ctx, kit.Event{
		Type: kit.EventJobFailed,
		Payload: kit.Payload{
			Event:   kit.EventJobFailed,
			Subject: fmt.Sprintf("Background job failed: %s", run.JobName),
			Message: run.Error,
			Extra: map[string]string{
				"job":         run.JobName,
				"started_at":  run.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
				"duration_ms": fmt.Sprintf("%d", run.DurationMS),
			},
		},
	})
}
