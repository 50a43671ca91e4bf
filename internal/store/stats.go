package store

import "trip-monitor/internal/trip"

// computeStats derives aggregate counts from the maps alone.
func computeStats(trips map[trip.ID]trip.OngoingTrip, locations map[trip.ID]trip.Location, attendance map[trip.ID]trip.Attendance) trip.Stats {
	st := trip.Stats{Trips: len(trips)}
	for id := range trips {
		if _, ok := locations[id]; ok {
			st.TripsReporting++
		}
		for _, a := range attendance[id] {
			st.Students++
			switch a.Status {
			case trip.Boarded:
				st.StudentsBoarded++
			case trip.Dropped:
				st.StudentsDropped++
			case trip.Absent:
				st.StudentsAbsent++
			case trip.Pending:
				st.StudentsPending++
			}
		}
	}
	return st
}
