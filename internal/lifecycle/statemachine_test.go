package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/filanov/stateswitch"
	"github.com/providentiaww/taskflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_Transitions(t *testing.T) {
	m := NewMachine()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		transition stateswitch.TransitionType
		from       models.TaskStatus
		to         models.TaskStatus
	}{
		{TransitionTypeApprove, models.StatusPendingApproval, models.StatusApproved},
		{TransitionTypeRevoke, models.StatusApproved, models.StatusPendingApproval},
		{TransitionTypeStart, models.StatusPending, models.StatusInProgress},
		{TransitionTypeSubmit, models.StatusPending, models.StatusPendingApproval},
		{TransitionTypeSubmit, models.StatusInProgress, models.StatusPendingApproval},
		{TransitionTypeComplete, models.StatusInProgress, models.StatusCompleted},
	}
	for _, tt := range tests {
		t.Run(string(tt.transition)+" from "+string(tt.from), func(t *testing.T) {
			task := &models.Task{ID: 7, Status: tt.from}
			src, err := m.Run(tt.transition, task, now)
			require.NoError(t, err)
			assert.Equal(t, tt.from, src)
			assert.Equal(t, tt.to, task.Status)
			assert.Equal(t, now, task.UpdatedAt)
		})
	}
}

func TestMachine_RejectsDisallowedSource(t *testing.T) {
	m := NewMachine()
	disallowed := map[stateswitch.TransitionType][]models.TaskStatus{
		TransitionTypeApprove:  {models.StatusPending, models.StatusInProgress, models.StatusCompleted, models.StatusApproved},
		TransitionTypeRevoke:   {models.StatusPending, models.StatusInProgress, models.StatusCompleted, models.StatusPendingApproval},
		TransitionTypeStart:    {models.StatusInProgress, models.StatusCompleted, models.StatusApproved},
		TransitionTypeSubmit:   {models.StatusCompleted, models.StatusApproved, models.StatusPendingApproval},
		TransitionTypeComplete: {models.StatusPending, models.StatusPendingApproval, models.StatusCompleted},
	}
	for transition, statuses := range disallowed {
		for _, status := range statuses {
			task := &models.Task{ID: 1, Status: status}
			_, err := m.Run(transition, task, time.Now())
			require.Error(t, err)

			var te *TransitionError
			require.True(t, errors.As(err, &te), "%s from %s", transition, status)
			assert.Equal(t, transition, te.Transition)
			assert.Equal(t, status, te.From)
			assert.Equal(t, status, task.Status, "status must be untouched")
		}
	}
}

func TestMachine_CompleteApprovedNeedsCommit(t *testing.T) {
	m := NewMachine()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	waiting := &models.Task{ID: 4, Status: models.StatusApproved}
	_, err := m.Run(TransitionTypeComplete, waiting, now)
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, models.StatusApproved, te.From)
	assert.Equal(t, models.StatusApproved, waiting.Status)

	committedAt := now.Add(-time.Hour)
	committed := &models.Task{ID: 5, Status: models.StatusApproved, CommittedAt: &committedAt}
	src, err := m.Run(TransitionTypeComplete, committed, now)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, src)
	assert.Equal(t, models.StatusCompleted, committed.Status)
	assert.Equal(t, now, committed.UpdatedAt)
}

func TestMachine_RevokeClearsCommitMark(t *testing.T) {
	m := NewMachine()
	committed := time.Now().Add(-time.Minute)
	task := &models.Task{ID: 3, Status: models.StatusApproved, CommittedAt: &committed}

	_, err := m.Run(TransitionTypeRevoke, task, time.Now())
	require.NoError(t, err)
	assert.Nil(t, task.CommittedAt)
}

func TestParseTransition(t *testing.T) {
	tr, ok := ParseTransition("Start")
	assert.True(t, ok)
	assert.Equal(t, TransitionTypeStart, tr)

	_, ok = ParseTransition("approve")
	assert.False(t, ok)
	_, ok = ParseTransition("bogus")
	assert.False(t, ok)
}
