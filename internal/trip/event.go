package trip

import "time"

type Kind string

const (
	KindTripStarted        Kind = "TripStarted"
	KindTripEnded          Kind = "TripEnded"
	KindLocationReported   Kind = "LocationReported"
	KindAttendanceChanged  Kind = "AttendanceChanged"
	KindAttendanceSnapshot Kind = "AttendanceSnapshot"
	KindUnknown            Kind = ""
)

// ParseKind maps a wire kind to a known Kind, or KindUnknown.
func ParseKind(s string) Kind {
	switch k := Kind(s); k {
	case KindTripStarted, KindTripEnded, KindLocationReported, KindAttendanceChanged, KindAttendanceSnapshot:
		return k
	}
	return KindUnknown
}

type AttendanceChange struct {
	StudentID StudentID
	Status    AttendanceStatus
	At        time.Time
}

// Event is a decoded hub event. Only the payload field matching Kind is set.
type Event struct {
	Kind      Kind
	RawKind   string
	TripID    ID
	Timestamp time.Time

	Trip       *OngoingTrip      // TripStarted
	Location   *Location         // LocationReported
	Change     *AttendanceChange // AttendanceChanged
	Attendance Attendance        // AttendanceSnapshot
}
