package scheduling

import "time"

// FilterConflicts removes the slots whose start equals, to the minute, the
// scheduled time of an appointment that still occupies its slot. Slots that
// merely overlap an appointment are kept.
func FilterConflicts(slots []Slot, appointments []Appointment) []Slot {
	taken := occupiedMinutes(appointments)

	free := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if _, ok := taken[minuteKey(s.StartsAt)]; ok {
			continue
		}
		free = append(free, s)
	}
	return free
}

func countFree(slots []Slot, taken map[int64]struct{}) int {
	n := 0
	for _, s := range slots {
		if _, ok := taken[minuteKey(s.StartsAt)]; !ok {
			n++
		}
	}
	return n
}

func occupiedMinutes(appointments []Appointment) map[int64]struct{} {
	taken := make(map[int64]struct{}, len(appointments))
	for _, a := range appointments {
		if !a.Status.Occupies() {
			continue
		}
		taken[minuteKey(a.ScheduledAt)] = struct{}{}
	}
	return taken
}

func minuteKey(t time.Time) int64 {
	return t.UTC().Truncate(time.Minute).Unix()
}
