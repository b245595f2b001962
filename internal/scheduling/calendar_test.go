package scheduling

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeekdayOf(t *testing.T) {
	tests := []struct {
		in   time.Weekday
		want Weekday
	}{
		{time.Monday, Monday},
		{time.Friday, Friday},
		{time.Saturday, Saturday},
		{time.Sunday, Sunday},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, WeekdayOf(tt.in), tt.in.String())
	}
}

func TestDateWeekdayWeekendBoundary(t *testing.T) {
	assert.Equal(t, Friday, NewDate(2025, time.January, 3).Weekday())
	assert.Equal(t, Saturday, NewDate(2025, time.January, 4).Weekday())
	assert.Equal(t, Sunday, NewDate(2025, time.January, 5).Weekday())
	assert.Equal(t, Monday, NewDate(2025, time.January, 6).Weekday())
}

func TestParseWeekday(t *testing.T) {
	w, err := ParseWeekday("sunday")
	require.NoError(t, err)
	assert.Equal(t, Sunday, w)

	_, err = ParseWeekday("funday")
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestParseDateAndClock(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, NewDate(2024, time.February, 29), d)
	assert.Equal(t, NewDate(2024, time.March, 1), d.AddDays(1))

	_, err = ParseDate("2024-13-01")
	assert.ErrorIs(t, err, ErrValidation)

	c, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, NewClock(9, 30), c)
	assert.Equal(t, "09:30", c.String())

	_, err = ParseClock("25:00")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDateAtUsesLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	at := NewDate(2025, time.January, 6).At(NewClock(9, 0), loc)
	assert.Equal(t, time.Date(2025, time.January, 6, 14, 0, 0, 0, time.UTC), at.UTC())
}

func TestCalendarJSON(t *testing.T) {
	payload := struct {
		Date    Date    `json:"date"`
		Time    Clock   `json:"time"`
		Weekday Weekday `json:"weekday"`
	}{NewDate(2025, time.March, 9), NewClock(14, 5), Sunday}

	b, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2025-03-09","time":"14:05","weekday":"sunday"}`, string(b))
}
