package trip

import "time"

// ID identifies a trip for as long as it is ongoing.
type ID string

type StudentID string

type OngoingTrip struct {
	TripID    ID        `json:"tripId"`
	RouteID   string    `json:"routeId"`
	VehicleID string    `json:"vehicleId"`
	DriverID  string    `json:"driverId,omitempty"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"startedAt"`
}

// Merge overlays the non-zero fields of o onto t.
func (t OngoingTrip) Merge(o OngoingTrip) OngoingTrip {
	if o.RouteID != "" {
		t.RouteID = o.RouteID
	}
	if o.VehicleID != "" {
		t.VehicleID = o.VehicleID
	}
	if o.DriverID != "" {
		t.DriverID = o.DriverID
	}
	if o.Status != "" {
		t.Status = o.Status
	}
	if !o.StartedAt.IsZero() {
		t.StartedAt = o.StartedAt
	}
	return t
}

// Equal compares field by field, using time.Time.Equal for StartedAt.
func (t OngoingTrip) Equal(o OngoingTrip) bool {
	return t.TripID == o.TripID && t.RouteID == o.RouteID && t.VehicleID == o.VehicleID &&
		t.DriverID == o.DriverID && t.Status == o.Status && t.StartedAt.Equal(o.StartedAt)
}

type Location struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Heading    *float64  `json:"heading,omitempty"` // degrees, if reported
	Speed      *float64  `json:"speed,omitempty"`   // m/s, if reported
	RecordedAt time.Time `json:"recordedAt"`
}

// Clone returns a copy that shares no pointers with l.
func (l Location) Clone() Location {
	if l.Heading != nil {
		h := *l.Heading
		l.Heading = &h
	}
	if l.Speed != nil {
		s := *l.Speed
		l.Speed = &s
	}
	return l
}

type AttendanceStatus string

const (
	Boarded AttendanceStatus = "boarded"
	Dropped AttendanceStatus = "dropped"
	Absent  AttendanceStatus = "absent"
	Pending AttendanceStatus = "pending"
)

func (s AttendanceStatus) Valid() bool {
	switch s {
	case Boarded, Dropped, Absent, Pending:
		return true
	}
	return false
}

type StudentAttendance struct {
	Status AttendanceStatus `json:"status"`
	At     time.Time        `json:"at"`
}

// Attendance maps each student on a trip to their latest status.
type Attendance map[StudentID]StudentAttendance

func (a Attendance) Clone() Attendance {
	out := make(Attendance, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

type Stats struct {
	Trips           int `json:"trips"`
	TripsReporting  int `json:"tripsReporting"` // trips with at least one location
	Students        int `json:"students"`
	StudentsBoarded int `json:"studentsBoarded"`
	StudentsDropped int `json:"studentsDropped"`
	StudentsAbsent  int `json:"studentsAbsent"`
	StudentsPending int `json:"studentsPending"`
}
