package timewindow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// at builds an instant on a fixed reference week. 2024-06-02 is a Sunday.
func at(weekday time.Weekday, clock string) time.Time {
	base := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	sec, err := ParseTimeOfDay(clock)
	if err != nil {
		panic(err)
	}
	return base.AddDate(0, 0, int(weekday)).Add(time.Duration(sec) * time.Second)
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name  string
		days  []int
		start string
		end   string
		field string
	}{
		{"empty days", nil, "09:00", "17:00", "days_of_week"},
		{"day out of range high", []int{7}, "09:00", "17:00", "days_of_week"},
		{"day out of range low", []int{-1}, "09:00", "17:00", "days_of_week"},
		{"zero length", []int{1}, "09:00", "09:00", "end_time"},
		{"bad start format", []int{1}, "nine", "17:00", "start_time"},
		{"bad end format", []int{1}, "09:00", "25:00", "end_time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.days, tt.start, tt.end)
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestNewNormalizesDays(t *testing.T) {
	w, err := New([]int{5, 1, 5, 3}, "09:00", "17:00")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 5}, w.Days)
}

func TestContainsSameDay(t *testing.T) {
	w, err := New([]int{1, 2, 3, 4, 5}, "06:00", "11:00")
	require.NoError(t, err)

	assert.True(t, w.Contains(at(time.Wednesday, "07:00")))
	assert.True(t, w.Contains(at(time.Monday, "06:00")), "start is inclusive")
	assert.False(t, w.Contains(at(time.Monday, "11:00")), "end is exclusive")
	assert.False(t, w.Contains(at(time.Wednesday, "05:59")))
	assert.False(t, w.Contains(at(time.Sunday, "07:00")), "day not in set")
}

func TestContainsWrapsMidnight(t *testing.T) {
	// Monday 22:00 - 02:00 runs into Tuesday morning.
	w, err := New([]int{1}, "22:00", "02:00")
	require.NoError(t, err)
	require.True(t, w.WrapsMidnight())

	assert.True(t, w.Contains(at(time.Monday, "23:00")))
	assert.True(t, w.Contains(at(time.Monday, "22:00")))
	assert.True(t, w.Contains(at(time.Tuesday, "01:00")), "after midnight belongs to Monday's rule")
	assert.False(t, w.Contains(at(time.Tuesday, "02:00")), "end is exclusive")
	assert.False(t, w.Contains(at(time.Tuesday, "03:00")))
	assert.False(t, w.Contains(at(time.Sunday, "23:00")), "Sunday is not in the day set")
	assert.False(t, w.Contains(at(time.Monday, "01:00")), "Monday early morning needs a Sunday rule")
}

func TestContainsWrapAcrossWeekBoundary(t *testing.T) {
	// Saturday night into Sunday morning.
	w, err := New([]int{6}, "23:00", "01:30")
	require.NoError(t, err)

	assert.True(t, w.Contains(at(time.Saturday, "23:30")))
	assert.True(t, w.Contains(at(time.Sunday, "01:00")))
	assert.False(t, w.Contains(at(time.Sunday, "01:30")))
}

func TestParseTimeOfDay(t *testing.T) {
	sec, err := ParseTimeOfDay("06:30")
	require.NoError(t, err)
	assert.Equal(t, 6*3600+30*60, sec)

	sec, err = ParseTimeOfDay("23:59:59")
	require.NoError(t, err)
	assert.Equal(t, 23*3600+59*60+59, sec)

	_, err = ParseTimeOfDay("24:00")
	assert.Error(t, err)
	_, err = ParseTimeOfDay("12")
	assert.Error(t, err)
}

func TestDaysRoundTrip(t *testing.T) {
	days, err := DecodeDays(EncodeDays([]int{0, 3, 6}))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3, 6}, days)

	days, err = DecodeDays("")
	require.NoError(t, err)
	assert.Nil(t, days)

	_, err = DecodeDays("1,x")
	assert.Error(t, err)
}
