// Package monitor is the consumer-facing surface of live trip monitoring:
// read accessors over the store, the selection set and the refresh command.
package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"trip-monitor/internal/hub"
	"trip-monitor/internal/store"
	"trip-monitor/internal/trip"
)

// Connector is the part of the supervisor the monitor depends on.
type Connector interface {
	EnsureConnected()
	State() hub.State
	Subscribe() (<-chan hub.State, func())
	Messages() <-chan hub.Message
}

type Refresher interface {
	Refresh(ctx context.Context) error
	StartRefresher(ctx context.Context)
	Stop()
}

type Metrics interface {
	EventObserve(kind, outcome string, d time.Duration)
	DecodeErrorInc()
	StatsSet(st trip.Stats)
}

// View is everything a dashboard needs to render the live map at once.
type View struct {
	ConnectionState hub.State `json:"connectionState"`
	Selected        []trip.ID `json:"selectedTripIds"`
	store.Snapshot
}

type Monitor struct {
	conn    Connector
	store   *store.Store
	loader  Refresher
	log     *logrus.Entry
	metrics Metrics

	selMu    sync.RWMutex
	selected map[trip.ID]struct{}

	subMu sync.Mutex
	subs  map[int]chan struct{}
	next  int
}

func New(conn Connector, st *store.Store, loader Refresher, log *logrus.Entry, m Metrics) *Monitor {
	return &Monitor{
		conn:     conn,
		store:    st,
		loader:   loader,
		log:      log,
		metrics:  m,
		selected: make(map[trip.ID]struct{}),
		subs:     make(map[int]chan struct{}),
	}
}

// Run connects, seeds the roster and applies hub events until ctx is done.
// It is the only goroutine that applies events to the store.
func (m *Monitor) Run(ctx context.Context) error {
	storeCh, cancelStore := m.store.Subscribe()
	defer cancelStore()
	stateCh, cancelState := m.conn.Subscribe()
	defer cancelState()

	m.conn.EnsureConnected()
	go func() {
		// startup seed; the supervisor reseeds again after every connect
		_ = m.loader.Refresh(ctx)
	}()
	m.loader.StartRefresher(ctx)
	defer m.loader.Stop()

	msgs := m.conn.Messages()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-msgs:
			m.handle(msg)
		case <-storeCh:
			if m.metrics != nil {
				m.metrics.StatsSet(m.store.Stats())
			}
			m.notify()
		case st := <-stateCh:
			m.log.WithField("state", st).Info("hub connection state changed")
			m.notify()
		}
	}
}

func (m *Monitor) handle(msg hub.Message) {
	start := time.Now()
	ev, err := hub.Decode(msg)
	if err != nil {
		m.log.WithError(err).WithField("subject", msg.Subject).Warn("dropping undecodable hub message")
		if m.metrics != nil {
			m.metrics.DecodeErrorInc()
		}
		return
	}
	out := m.store.Apply(ev)
	if m.metrics != nil {
		// label by parsed kind; raw wire kinds are hub-controlled
		m.metrics.EventObserve(string(ev.Kind), out.String(), time.Since(start))
	}
}

func (m *Monitor) ConnectionState() hub.State { return m.conn.State() }

func (m *Monitor) Trips() []trip.OngoingTrip { return m.store.Trips() }

func (m *Monitor) Trip(id trip.ID) (trip.OngoingTrip, bool) { return m.store.Trip(id) }

func (m *Monitor) LocationOf(id trip.ID) (trip.Location, bool) { return m.store.LocationOf(id) }

func (m *Monitor) AttendanceOf(id trip.ID) (trip.Attendance, bool) { return m.store.AttendanceOf(id) }

func (m *Monitor) Stats() trip.Stats { return m.store.Stats() }

// Refresh forces a roster reseed.
func (m *Monitor) Refresh(ctx context.Context) error { return m.loader.Refresh(ctx) }

func (m *Monitor) View() View {
	return View{
		ConnectionState: m.conn.State(),
		Selected:        m.SelectedTripIDs(),
		Snapshot:        m.store.Snapshot(),
	}
}

// Select adds id to the selection. Ids need not be in the roster; a
// selection whose trip has been reconciled away is kept and simply matches
// nothing.
func (m *Monitor) Select(id trip.ID) {
	m.selMu.Lock()
	_, had := m.selected[id]
	m.selected[id] = struct{}{}
	m.selMu.Unlock()
	if !had {
		m.notify()
	}
}

func (m *Monitor) Deselect(id trip.ID) {
	m.selMu.Lock()
	_, had := m.selected[id]
	delete(m.selected, id)
	m.selMu.Unlock()
	if had {
		m.notify()
	}
}

func (m *Monitor) SelectedTripIDs() []trip.ID {
	m.selMu.RLock()
	defer m.selMu.RUnlock()
	ids := make([]trip.ID, 0, len(m.selected))
	for id := range m.selected {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SelectedTrips returns the selected trips that are still in the roster.
func (m *Monitor) SelectedTrips() []trip.OngoingTrip {
	var out []trip.OngoingTrip
	for _, id := range m.SelectedTripIDs() {
		if t, ok := m.store.Trip(id); ok {
			out = append(out, t)
		}
	}
	return out
}

// Subscribe signals after any store, connection state or selection change.
// Signals coalesce.
func (m *Monitor) Subscribe() (<-chan struct{}, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.next
	m.next++
	ch := make(chan struct{}, 1)
	m.subs[id] = ch
	return ch, func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *Monitor) notify() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
