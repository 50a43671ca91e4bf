// Package store reconciles hub events and roster seeds into the in-memory
// picture of trips currently on the road.
package store

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"trip-monitor/internal/trip"
)

// Outcome reports what Apply did with an event.
type Outcome int

const (
	Applied   Outcome = iota
	Unchanged         // valid, but state already reflected it
	Stale             // older than what is stored
	Foreign           // trip is not in the roster
	Unknown           // unrecognised kind
	Invalid           // recognised kind with a missing or bad payload
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Unchanged:
		return "unchanged"
	case Stale:
		return "stale"
	case Foreign:
		return "foreign"
	case Unknown:
		return "unknown"
	case Invalid:
		return "invalid"
	}
	return "outcome?"
}

type SeedResult struct {
	Added   int
	Removed int
	Updated int
}

func (r SeedResult) Changed() bool { return r.Added+r.Removed+r.Updated > 0 }

type Snapshot struct {
	Revision   uint64                      `json:"revision"`
	Trips      []trip.OngoingTrip          `json:"trips"`
	Locations  map[trip.ID]trip.Location   `json:"locations"`
	Attendance map[trip.ID]trip.Attendance `json:"attendance"`
	Stats      trip.Stats                  `json:"stats"`
}

// Store is the only owner of the roster and its location and attendance
// projections. Every mutation completes under the lock, so readers never
// observe a partially applied event.
type Store struct {
	log *logrus.Entry

	mu         sync.RWMutex
	revision   uint64
	trips      map[trip.ID]trip.OngoingTrip
	locations  map[trip.ID]trip.Location
	attendance map[trip.ID]trip.Attendance

	subMu sync.Mutex
	subs  map[int]chan struct{}
	next  int
}

func New(log *logrus.Entry) *Store {
	return &Store{
		log:        log,
		trips:      make(map[trip.ID]trip.OngoingTrip),
		locations:  make(map[trip.ID]trip.Location),
		attendance: make(map[trip.ID]trip.Attendance),
		subs:       make(map[int]chan struct{}),
	}
}

// Apply folds one hub event into the store.
func (s *Store) Apply(ev trip.Event) Outcome {
	s.mu.Lock()
	out := s.applyLocked(ev)
	if out == Applied {
		s.revision++
	}
	s.mu.Unlock()

	l := s.log.WithFields(logrus.Fields{"kind": ev.RawKind, "trip": ev.TripID, "outcome": out})
	switch out {
	case Applied:
		s.notify()
	case Stale, Unchanged:
		l.Debug("event not applied")
	default:
		l.Warn("event ignored")
	}
	return out
}

func (s *Store) applyLocked(ev trip.Event) Outcome {
	switch ev.Kind {
	case trip.KindTripStarted:
		return s.tripStarted(ev)
	case trip.KindTripEnded:
		return s.tripEnded(ev.TripID)
	case trip.KindLocationReported:
		return s.locationReported(ev)
	case trip.KindAttendanceChanged:
		return s.attendanceChanged(ev)
	case trip.KindAttendanceSnapshot:
		return s.attendanceSnapshot(ev)
	}
	return Unknown
}

func (s *Store) tripStarted(ev trip.Event) Outcome {
	if ev.TripID == "" {
		return Invalid
	}
	meta := trip.OngoingTrip{TripID: ev.TripID}
	if ev.Trip != nil {
		meta = *ev.Trip
		meta.TripID = ev.TripID
	}
	cur, ok := s.trips[ev.TripID]
	if !ok {
		s.trips[ev.TripID] = meta
		return Applied
	}
	merged := cur.Merge(meta)
	if merged.Equal(cur) {
		return Unchanged
	}
	s.trips[ev.TripID] = merged
	return Applied
}

func (s *Store) tripEnded(id trip.ID) Outcome {
	if _, ok := s.trips[id]; !ok {
		return Foreign
	}
	s.removeLocked(id)
	return Applied
}

func (s *Store) removeLocked(id trip.ID) {
	delete(s.trips, id)
	delete(s.locations, id)
	delete(s.attendance, id)
}

func (s *Store) locationReported(ev trip.Event) Outcome {
	if ev.Location == nil {
		return Invalid
	}
	if _, ok := s.trips[ev.TripID]; !ok {
		return Foreign
	}
	if cur, ok := s.locations[ev.TripID]; ok && ev.Location.RecordedAt.Before(cur.RecordedAt) {
		return Stale
	}
	s.locations[ev.TripID] = ev.Location.Clone()
	return Applied
}

func (s *Store) attendanceChanged(ev trip.Event) Outcome {
	if ev.Change == nil || ev.Change.StudentID == "" || !ev.Change.Status.Valid() {
		return Invalid
	}
	if _, ok := s.trips[ev.TripID]; !ok {
		return Foreign
	}
	att := s.attendance[ev.TripID]
	if cur, ok := att[ev.Change.StudentID]; ok && ev.Change.At.Before(cur.At) {
		return Stale
	}
	if att == nil {
		att = make(trip.Attendance)
		s.attendance[ev.TripID] = att
	}
	att[ev.Change.StudentID] = trip.StudentAttendance{Status: ev.Change.Status, At: ev.Change.At}
	return Applied
}

func (s *Store) attendanceSnapshot(ev trip.Event) Outcome {
	if ev.Attendance == nil {
		return Invalid
	}
	for _, a := range ev.Attendance {
		if !a.Status.Valid() {
			return Invalid
		}
	}
	if _, ok := s.trips[ev.TripID]; !ok {
		return Foreign
	}
	s.attendance[ev.TripID] = ev.Attendance.Clone()
	return Applied
}

// SeedRoster reconciles the roster against an authoritative list: missing
// trips are added, trips absent from the list are removed along with their
// projections, and metadata of trips present in both is refreshed.
func (s *Store) SeedRoster(trips []trip.OngoingTrip) SeedResult {
	want := make(map[trip.ID]trip.OngoingTrip, len(trips))
	for _, t := range trips {
		if t.TripID == "" {
			continue
		}
		want[t.TripID] = t
	}

	var res SeedResult
	s.mu.Lock()
	for id := range s.trips {
		if _, ok := want[id]; !ok {
			s.removeLocked(id)
			res.Removed++
		}
	}
	for id, t := range want {
		cur, ok := s.trips[id]
		if !ok {
			s.trips[id] = t
			res.Added++
			continue
		}
		if merged := cur.Merge(t); !merged.Equal(cur) {
			s.trips[id] = merged
			res.Updated++
		}
	}
	if res.Changed() {
		s.revision++
	}
	s.mu.Unlock()

	if res.Changed() {
		s.log.WithFields(logrus.Fields{"added": res.Added, "removed": res.Removed, "updated": res.Updated}).Info("roster reconciled")
		s.notify()
	}
	return res
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Revision:   s.revision,
		Trips:      s.tripsLocked(),
		Locations:  make(map[trip.ID]trip.Location, len(s.locations)),
		Attendance: make(map[trip.ID]trip.Attendance, len(s.attendance)),
		Stats:      computeStats(s.trips, s.locations, s.attendance),
	}
	for id, l := range s.locations {
		snap.Locations[id] = l.Clone()
	}
	for id, a := range s.attendance {
		snap.Attendance[id] = a.Clone()
	}
	return snap
}

func (s *Store) tripsLocked() []trip.OngoingTrip {
	out := make([]trip.OngoingTrip, 0, len(s.trips))
	for _, t := range s.trips {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TripID < out[j].TripID })
	return out
}

// Trips returns the roster ordered by trip id.
func (s *Store) Trips() []trip.OngoingTrip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tripsLocked()
}

func (s *Store) Trip(id trip.ID) (trip.OngoingTrip, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trips[id]
	return t, ok
}

func (s *Store) LocationOf(id trip.ID) (trip.Location, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.locations[id]
	if !ok {
		return trip.Location{}, false
	}
	return l.Clone(), true
}

func (s *Store) AttendanceOf(id trip.ID) (trip.Attendance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attendance[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

func (s *Store) Stats() trip.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return computeStats(s.trips, s.locations, s.attendance)
}

func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Subscribe returns a channel that receives a signal after state changes.
// Signals coalesce: a reader that falls behind sees one pending signal.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.next
	s.next++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch
	return ch, func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
