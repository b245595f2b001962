package scheduling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFilterConflicts(t *testing.T) {
	plan, _ := GenerateSlots(DayRequest{
		Date:   monday,
		Weekly: []WeeklyAvailability{weekly(Monday, NewClock(9, 0), NewClock(10, 30), 30)},
	})
	at := func(h, m int) time.Time { return monday.At(NewClock(h, m), time.UTC) }

	appts := []Appointment{
		{ScheduledAt: at(9, 30), Status: StatusConfirmed},
		{ScheduledAt: at(10, 0), Status: StatusCancelled},
		// overlapping but not starting on a slot boundary
		{ScheduledAt: at(10, 15), Status: StatusRequested},
		// same instant in another zone, with seconds
		{ScheduledAt: at(10, 30).Add(42 * time.Second).In(time.FixedZone("UTC+2", 2*3600)), Status: StatusCompleted},
	}

	free := FilterConflicts(plan.Slots, appts)
	assert.Equal(t, []string{"09:00", "10:00"}, starts(free))
}

func TestFilterConflictsEmpty(t *testing.T) {
	free := FilterConflicts(nil, nil)
	assert.NotNil(t, free)
	assert.Empty(t, free)
}
