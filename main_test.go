package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/config"
)

func TestBuildCalendarAppliesConfiguredHolidays(t *testing.T) {
	cfg := &config.Config{
		DomesticTimezone: "Asia/Seoul",
		DomesticOpen:     "09:00",
		DomesticClose:    "15:30",
		DomesticHolidays: []string{"2024-03-01"},
		GlobalTimezone:   "America/New_York",
		GlobalOpen:       "09:30",
		GlobalClose:      "16:00",
		GlobalHolidays:   []string{"2024-07-04"},
	}
	cal, err := buildCalendar(cfg)
	require.NoError(t, err)

	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	newYork, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	open, err := cal.IsOpen(broker.SegmentDomestic, time.Date(2024, 3, 1, 10, 0, 0, 0, seoul))
	require.NoError(t, err)
	assert.False(t, open, "domestic holiday")
	open, err = cal.IsOpen(broker.SegmentDomestic, time.Date(2024, 3, 4, 10, 0, 0, 0, seoul))
	require.NoError(t, err)
	assert.True(t, open)

	open, err = cal.IsOpen(broker.SegmentGlobal, time.Date(2024, 7, 4, 11, 0, 0, 0, newYork))
	require.NoError(t, err)
	assert.False(t, open, "global holiday")
	open, err = cal.IsOpen(broker.SegmentGlobal, time.Date(2024, 7, 5, 11, 0, 0, 0, newYork))
	require.NoError(t, err)
	assert.True(t, open)
}

func TestBuildCalendarRejectsBadHoliday(t *testing.T) {
	cfg := &config.Config{
		DomesticTimezone: "Asia/Seoul",
		DomesticOpen:     "09:00",
		DomesticClose:    "15:30",
		DomesticHolidays: []string{"next tuesday"},
		GlobalTimezone:   "America/New_York",
		GlobalOpen:       "09:30",
		GlobalClose:      "16:00",
	}
	_, err := buildCalendar(cfg)
	assert.Error(t, err)
}
