package orchestrator

import "sync"

// orderedLocks groups the orchestrator's three mutexes behind a fixed
// acquisition order. Any code path taking more than one of them must go
// through acquireOrdered, which always locks process -> status -> buffer.
type orderedLocks struct {
	process sync.Mutex // worker process list
	status  sync.Mutex // worker status map
	buffer  sync.Mutex // result buffer
}

type lockSet struct {
	process bool
	status  bool
	buffer  bool
}

// acquireOrdered locks the requested subset in global order and returns the
// matching release function (unlocks in reverse).
func (l *orderedLocks) acquireOrdered(want lockSet) func() {
	if want.process {
		l.process.Lock()
	}
	if want.status {
		l.status.Lock()
	}
	if want.buffer {
		l.buffer.Lock()
	}
	return func() {
		if want.buffer {
			l.buffer.Unlock()
		}
		if want.status {
			l.status.Unlock()
		}
		if want.process {
			l.process.Unlock()
		}
	}
}
