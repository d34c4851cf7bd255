package services

import "sync"

type busEvent struct {
	payload any
	name    string
}

// dispatcher delivers events on its own goroutine, in push order. Store
// change hooks push here so bus handlers never run under the store's write lock.
type dispatcher struct {
	cond   *sync.Cond
	signal chan struct{}
	stop   chan struct{}
	items  []busEvent
	mu     sync.Mutex
	busy   bool
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *dispatcher) push(name string, payload any) {
	d.mu.Lock()
	d.items = append(d.items, busEvent{name: name, payload: payload})
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run(handle func(busEvent)) {
	for {
		select {
		case <-d.stop:
			return
		case <-d.signal:
		}

		for {
			d.mu.Lock()
			batch := d.items
			d.items = nil
			if len(batch) == 0 {
				d.busy = false
				d.cond.Broadcast()
				d.mu.Unlock()
				break
			}
			d.busy = true
			d.mu.Unlock()

			for _, ev := range batch {
				handle(ev)
			}
		}
	}
}

// wait blocks until every pushed event was handled.
func (d *dispatcher) wait() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.items) > 0 || d.busy {
		d.cond.Wait()
	}
}

func (d *dispatcher) close() {
	close(d.stop)
}
