package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"trip-monitor/internal/trip"
)

var ErrMalformed = errors.New("malformed hub event")

var validate = validator.New()

// envelope is the JSON frame published by the hub for every trip event.
type envelope struct {
	Kind      string          `json:"kind" validate:"required"`
	TripID    string          `json:"tripId" validate:"required"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type tripStartedPayload struct {
	RouteID   string    `json:"routeId"`
	VehicleID string    `json:"vehicleId"`
	DriverID  string    `json:"driverId"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"startedAt"`
}

type locationPayload struct {
	Latitude   *float64   `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude  *float64   `json:"longitude" validate:"required,gte=-180,lte=180"`
	Heading    *float64   `json:"heading" validate:"omitempty,gte=0,lt=360"`
	Speed      *float64   `json:"speed" validate:"omitempty,gte=0"`
	RecordedAt *time.Time `json:"recordedAt"`
}

type attendancePayload struct {
	StudentID string     `json:"studentId" validate:"required"`
	Status    string     `json:"status" validate:"required,oneof=boarded dropped absent pending"`
	At        *time.Time `json:"at"`
}

type studentPayload struct {
	Status string    `json:"status" validate:"required,oneof=boarded dropped absent pending"`
	At     time.Time `json:"at"`
}

type snapshotPayload struct {
	Students map[string]studentPayload `json:"students" validate:"dive"`
}

// Decode turns a raw hub message into a trip event. Unrecognised kinds are
// returned as trip.KindUnknown without error; anything that cannot be
// parsed or fails validation wraps ErrMalformed.
func Decode(m Message) (trip.Event, error) {
	var env envelope
	if err := json.Unmarshal(m.Data, &env); err != nil {
		return trip.Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	ev := trip.Event{
		Kind:      trip.ParseKind(env.Kind),
		RawKind:   env.Kind,
		TripID:    trip.ID(env.TripID),
		Timestamp: env.Timestamp,
	}
	if ev.Kind == trip.KindUnknown {
		return ev, nil
	}
	if err := validate.Struct(env); err != nil {
		return trip.Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = m.ReceivedAt
	}

	switch ev.Kind {
	case trip.KindTripStarted:
		var p tripStartedPayload
		if err := decodePayload(env.Payload, &p, false); err != nil {
			return trip.Event{}, err
		}
		ev.Trip = &trip.OngoingTrip{
			TripID:    ev.TripID,
			RouteID:   p.RouteID,
			VehicleID: p.VehicleID,
			DriverID:  p.DriverID,
			Status:    p.Status,
			StartedAt: p.StartedAt,
		}
		if ev.Trip.StartedAt.IsZero() {
			ev.Trip.StartedAt = ev.Timestamp
		}
	case trip.KindTripEnded:
	case trip.KindLocationReported:
		var p locationPayload
		if err := decodePayload(env.Payload, &p, true); err != nil {
			return trip.Event{}, err
		}
		loc := trip.Location{
			Latitude:   *p.Latitude,
			Longitude:  *p.Longitude,
			Heading:    p.Heading,
			Speed:      p.Speed,
			RecordedAt: ev.Timestamp,
		}
		if p.RecordedAt != nil {
			loc.RecordedAt = *p.RecordedAt
		}
		ev.Location = &loc
	case trip.KindAttendanceChanged:
		var p attendancePayload
		if err := decodePayload(env.Payload, &p, true); err != nil {
			return trip.Event{}, err
		}
		ch := trip.AttendanceChange{
			StudentID: trip.StudentID(p.StudentID),
			Status:    trip.AttendanceStatus(p.Status),
			At:        ev.Timestamp,
		}
		if p.At != nil {
			ch.At = *p.At
		}
		ev.Change = &ch
	case trip.KindAttendanceSnapshot:
		var p snapshotPayload
		if err := decodePayload(env.Payload, &p, true); err != nil {
			return trip.Event{}, err
		}
		ev.Attendance = make(trip.Attendance, len(p.Students))
		for id, s := range p.Students {
			at := s.At
			if at.IsZero() {
				at = ev.Timestamp
			}
			ev.Attendance[trip.StudentID(id)] = trip.StudentAttendance{Status: trip.AttendanceStatus(s.Status), At: at}
		}
	}
	return ev, nil
}

func decodePayload(raw json.RawMessage, v any, required bool) error {
	if len(raw) == 0 || string(raw) == "null" {
		if required {
			return fmt.Errorf("%w: missing payload", ErrMalformed)
		}
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
