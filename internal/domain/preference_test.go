package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPreference() DeliveryPreference {
	return DeliveryPreference{
		UserID:       "dana",
		DisplayName:  "Dana",
		Channel:      ChannelSlack,
		Address:      "C123",
		DeliveryTime: "08:00",
		Timezone:     "America/New_York",
		Enabled:      true,
	}
}

func TestDeliveryPreference_Validate(t *testing.T) {
	require.NoError(t, validPreference().Validate())

	inapp := validPreference()
	inapp.Channel = ChannelInApp
	inapp.Address = ""
	require.NoError(t, inapp.Validate(), "in-app delivery does not need an address")
	assert.Equal(t, "dana", inapp.DeliveryAddress())
}

func TestDeliveryPreference_NoChannel(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*DeliveryPreference)
	}{
		{"missing channel", func(p *DeliveryPreference) { p.Channel = "" }},
		{"missing address", func(p *DeliveryPreference) { p.Address = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPreference()
			tt.mutate(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrNoChannelConfigured), "got %v", err)
		})
	}
}

func TestDeliveryPreference_InvalidFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*DeliveryPreference)
	}{
		{"bad clock", func(p *DeliveryPreference) { p.DeliveryTime = "8am" }},
		{"bad timezone", func(p *DeliveryPreference) { p.Timezone = "Mars/Olympus" }},
		{"unknown channel", func(p *DeliveryPreference) { p.Channel = "pigeon" }},
		{"unknown style", func(p *DeliveryPreference) { p.Style = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPreference()
			tt.mutate(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.False(t, errors.Is(err, ErrNoChannelConfigured))
		})
	}
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("08:05")
	require.NoError(t, err)
	assert.Equal(t, 8, h)
	assert.Equal(t, 5, m)

	h, m, err = ParseClock("7:30")
	require.NoError(t, err)
	assert.Equal(t, 7, h)
	assert.Equal(t, 30, m)

	for _, bad := range []string{"", "24:00", "12:60", "1200", "12:5", "ab:cd"} {
		_, _, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestCalendarDay_UsesUserTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 02:00 UTC on the 16th is still the 15th in New York.
	ts := time.Date(2024, 1, 16, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-15", CalendarDay(ts, loc))
	assert.Equal(t, "2024-01-16", CalendarDay(ts, time.UTC))
}

func TestSnapshot_ActionableTasksOrdering(t *testing.T) {
	due := time.Date(2024, 1, 15, 17, 0, 0, 0, time.UTC)
	earlier := due.Add(-3 * time.Hour)
	snap := Snapshot{Tasks: []TaskItem{
		{ID: "low", Priority: PriorityLow, DueToday: true, Due: &earlier},
		{ID: "high-late", Priority: PriorityHigh, DueToday: true, Due: &due},
		{ID: "high-early", Priority: PriorityHigh, DueToday: true, Due: &earlier},
		{ID: "overdue", Priority: PriorityMedium, DaysOverdue: 2, Due: &earlier},
		{ID: "later", Priority: PriorityHigh},
	}}

	var ids []string
	for _, task := range snap.ActionableTasks() {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"high-early", "high-late", "overdue", "low"}, ids)
	assert.Len(t, snap.OverdueTasks(), 1)
	assert.Len(t, snap.DueTodayTasks(), 3)
}
