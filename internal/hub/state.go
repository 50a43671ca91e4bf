package hub

import "sync"

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// StateFeed holds the current state and fans transitions out to
// subscribers. Each subscriber channel keeps only the most recent
// undelivered states; a slow reader never blocks Set.
type StateFeed struct {
	mu   sync.Mutex
	cur  State
	subs map[int]chan State
	next int
}

func NewStateFeed() *StateFeed {
	return &StateFeed{subs: make(map[int]chan State)}
}

func (f *StateFeed) Get() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur
}

// Set records s and notifies subscribers. It reports whether the state changed.
func (f *StateFeed) Set(s State) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cur == s {
		return false
	}
	f.cur = s
	for _, ch := range f.subs {
		offer(ch, s)
	}
	return true
}

// Subscribe returns a channel of future transitions and a cancel func.
func (f *StateFeed) Subscribe() (<-chan State, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	ch := make(chan State, 16)
	f.subs[id] = ch
	return ch, func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func offer(ch chan State, s State) {
	select {
	case ch <- s:
		return
	default:
	}
	// full: drop the oldest so the latest state is always delivered
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}
