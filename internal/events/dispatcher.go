package events

import (
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultQueueSize bounds the number of undelivered events.
	DefaultQueueSize = 256
	// DefaultDurableWait is how long Publish waits for room before dropping
	// a crossing event.
	DefaultDurableWait = 500 * time.Millisecond
)

// Handler is an outbound sink. Handle runs on the dispatcher goroutine and
// should not block for long; a returned error is logged and otherwise ignored.
type Handler interface {
	Name() string
	Handle(Event) error
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc struct {
	ID string
	Fn func(Event) error
}

func (h HandlerFunc) Name() string         { return h.ID }
func (h HandlerFunc) Handle(e Event) error { return h.Fn(e) }

// Dispatcher delivers events to every handler in registration order on a
// single background goroutine. Crossing events are durable: the last quarter
// of the queue is reserved for them and, when even that is full, Publish waits
// up to the durable wait before dropping. Every other event is dropped as soon
// as only the reserve is left.
type Dispatcher struct {
	handlers    []Handler
	queue       chan Event
	reserve     int
	durableWait time.Duration
	stop        chan struct{}
	wg       sync.WaitGroup
	started  atomic.Bool
	stopped  atomic.Bool
	dropped  atomic.Uint64
	mu       sync.Mutex
}

func NewDispatcher(queueSize int, handlers ...Handler) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	reserve := queueSize / 4
	if reserve == 0 && queueSize > 1 {
		reserve = 1
	}
	return &Dispatcher{
		handlers:    handlers,
		queue:       make(chan Event, queueSize),
		reserve:     reserve,
		durableWait: DefaultDurableWait,
		stop:        make(chan struct{}),
	}
}

// SetDurableWait changes how long Publish may block on a crossing event. It
// must be called before Start.
func (d *Dispatcher) SetDurableWait(w time.Duration) {
	d.durableWait = w
}

// AddHandler registers another sink. It must be called before Start.
func (d *Dispatcher) AddHandler(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Start launches the delivery goroutine. Calling it twice has no effect.
func (d *Dispatcher) Start() {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	d.mu.Lock()
	handlers := append([]Handler(nil), d.handlers...)
	d.mu.Unlock()

	names := make([]string, len(handlers))
	for i, h := range handlers {
		names[i] = h.Name()
	}
	log.Infof("Event dispatcher started with handlers %v", names)

	d.wg.Add(1)
	go d.run(handlers)
}

// Publish queues e for delivery and reports whether it was accepted. Only
// crossing events can block, for at most the durable wait.
func (d *Dispatcher) Publish(e Event) bool {
	if d.stopped.Load() {
		return false
	}
	if !isDurable(e) {
		if len(d.queue) >= cap(d.queue)-d.reserve {
			d.drop(e)
			return false
		}
		select {
		case d.queue <- e:
			return true
		default:
			d.drop(e)
			return false
		}
	}

	select {
	case d.queue <- e:
		return true
	default:
	}
	timer := time.NewTimer(d.durableWait)
	defer timer.Stop()
	select {
	case d.queue <- e:
		return true
	case <-timer.C:
	case <-d.stop:
	}
	d.drop(e)
	return false
}

func isDurable(e Event) bool {
	_, ok := e.(CrossingEvent)
	return ok
}

func (d *Dispatcher) drop(e Event) {
	n := d.dropped.Add(1)
	entry := log.WithFields(log.Fields{"event": e.Kind(), "dropped": n})
	if isDurable(e) {
		entry.Error("Event queue full, crossing event lost")
		return
	}
	entry.Warn("Event queue full, event dropped")
}

// Dropped returns the number of events discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Pending returns the number of queued, undelivered events.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Stop delivers what is still queued and waits for the goroutine to exit.
func (d *Dispatcher) Stop() {
	if !d.stopped.CompareAndSwap(false, true) {
		return
	}
	close(d.stop)
	d.wg.Wait()
	log.Info("Event dispatcher stopped")
}

func (d *Dispatcher) run(handlers []Handler) {
	defer d.wg.Done()
	for {
		select {
		case e := <-d.queue:
			d.deliver(handlers, e)
		case <-d.stop:
			for {
				select {
				case e := <-d.queue:
					d.deliver(handlers, e)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(handlers []Handler, e Event) {
	for _, h := range handlers {
		if err := h.Handle(e); err != nil {
			log.WithFields(log.Fields{
				"handler": h.Name(),
				"event":   e.Kind(),
			}).Errorf("Event handler failed: %v", err)
		}
	}
}
