package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCanAdvanceTo(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusSubmitted, StatusUnderReview, true},
		{StatusSubmitted, StatusValidated, true},
		{StatusValidated, StatusInProgress, true},
		{StatusResolved, StatusClosed, true},
		{StatusValidated, StatusUnderReview, false},
		{StatusClosed, StatusSubmitted, false},
		{StatusInProgress, StatusInProgress, false},
		{StatusSubmitted, Status("archived"), false},
		{Status("bogus"), StatusClosed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanAdvanceTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestAdvance(t *testing.T) {
	r := &Report{Status: StatusSubmitted}
	require.NoError(t, r.Advance(StatusValidated))
	assert.Equal(t, StatusValidated, r.Status)
	assert.False(t, r.UpdatedAt.IsZero())

	assert.Error(t, r.Advance(StatusUnderReview))
	assert.Error(t, r.Advance(Status("nope")))
	assert.Equal(t, StatusValidated, r.Status)
}

func TestLockedAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(10 * time.Minute)

	r := &Report{}
	locked, _ := r.LockedAt(now)
	assert.False(t, locked)

	r.PINLockedUntil = &until
	locked, remaining := r.LockedAt(now)
	assert.True(t, locked)
	assert.Equal(t, 10*time.Minute, remaining)

	locked, _ = r.LockedAt(until)
	assert.False(t, locked)
}

func TestReportTypeValid(t *testing.T) {
	for _, rt := range []ReportType{"harassment", "discrimination", "safety", "ethics", "fraud", "other"} {
		assert.True(t, rt.Valid(), rt)
	}
	assert.False(t, ReportType("gossip").Valid())
}
