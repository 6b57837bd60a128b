package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Secineralyr/Cotonestrum/internal/reducer"
)

const publishTimeout = 5 * time.Second

type outbound struct {
	name    string
	publish func(ctx context.Context) error
}

// Forwarder moves reducer output onto a Publisher. Events are queued and
// published by Run so a slow broker never stalls the read loop. When the
// queue is full the event is dropped and logged.
type Forwarder struct {
	pub    Publisher
	queue  chan outbound
	logger *zap.Logger
}

// NewForwarder creates a Forwarder with the given queue size.
func NewForwarder(pub Publisher, queueSize int, logger *zap.Logger) *Forwarder {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Forwarder{
		pub:    pub,
		queue:  make(chan outbound, queueSize),
		logger: logger.Named("forwarder"),
	}
}

// Attach subscribes the forwarder to red's change sets and notices. The
// returned function detaches it.
func (f *Forwarder) Attach(red *reducer.Reducer) func() {
	unsubChanges := red.Subscribe(f.Changes)
	unsubNotices := red.OnNotice(f.Notice)
	return func() {
		unsubChanges()
		unsubNotices()
	}
}

// Changes queues a change set.
func (f *Forwarder) Changes(cs reducer.ChangeSet) {
	f.enqueue(outbound{
		name: RoutingKeyChanged(cs.Kind),
		publish: func(ctx context.Context) error {
			return f.pub.PublishChanges(ctx, cs)
		},
	})
}

// Notice queues a server notice.
func (f *Forwarder) Notice(n reducer.Notice) {
	f.enqueue(outbound{
		name: RoutingKeyNotice,
		publish: func(ctx context.Context) error {
			return f.pub.PublishNotice(ctx, n)
		},
	})
}

// Connection queues a connection state transition.
func (f *Forwarder) Connection(state, address string, cause error) {
	f.enqueue(outbound{
		name: RoutingKeyConnection,
		publish: func(ctx context.Context) error {
			return f.pub.PublishConnection(ctx, state, address, cause)
		},
	})
}

func (f *Forwarder) enqueue(o outbound) {
	select {
	case f.queue <- o:
	default:
		f.logger.Warn("Event queue full, dropping event",
			zap.String("routing_key", o.name),
		)
	}
}

// Run publishes queued events until ctx is cancelled, then flushes what is
// left in the queue.
func (f *Forwarder) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	f.logger.Info("Event forwarder started")

	for {
		select {
		case <-ctx.Done():
			f.flush()
			f.logger.Info("Event forwarder stopped")
			return
		case o := <-f.queue:
			f.send(ctx, o)
		}
	}
}

func (f *Forwarder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	for {
		select {
		case o := <-f.queue:
			f.send(ctx, o)
		default:
			return
		}
	}
}

func (f *Forwarder) send(ctx context.Context, o outbound) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := o.publish(ctx); err != nil {
		f.logger.Warn("Failed to publish event",
			zap.String("routing_key", o.name),
			zap.Error(err),
		)
	}
}
