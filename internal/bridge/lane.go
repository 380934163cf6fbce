package bridge

import (
	"sync"
)

// lane runs one session's client operations in arrival order on a single
// goroutine, off the connection's read loop. Tasks queued before close
// still run.
type lane struct {
	tasks     chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newLane(size int) *lane {
	l := &lane{
		tasks: make(chan func(), size),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *lane) run() {
	defer close(l.done)
	for {
		select {
		case task := <-l.tasks:
			task()
		case <-l.quit:
			for {
				select {
				case task := <-l.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

// submit queues a task, waiting for room. It reports false once closed.
func (l *lane) submit(task func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.tasks <- task:
		return true
	case <-l.quit:
		return false
	}
}

// offer queues a task only if there is room.
func (l *lane) offer(task func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.tasks <- task:
		return true
	default:
		return false
	}
}

// close stops accepting tasks. It may be called from a task.
func (l *lane) close() {
	l.closeOnce.Do(func() { close(l.quit) })
}
