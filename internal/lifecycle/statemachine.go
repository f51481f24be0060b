package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/filanov/stateswitch"
	"github.com/providentiaww/taskflow/internal/models"
)

const (
	TransitionTypeApprove  stateswitch.TransitionType = "Approve"
	TransitionTypeRevoke   stateswitch.TransitionType = "Revoke"
	TransitionTypeStart    stateswitch.TransitionType = "Start"
	TransitionTypeSubmit   stateswitch.TransitionType = "Submit"
	TransitionTypeComplete stateswitch.TransitionType = "Complete"
)

// TransitionArgs is passed to every transition hook.
type TransitionArgs struct {
	Now time.Time
}

// TransitionError reports a transition attempted from a state that does not allow it.
type TransitionError struct {
	Transition stateswitch.TransitionType
	From       models.TaskStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a task in status %q", strings.ToLower(string(e.Transition)), e.From)
}

// Machine runs task status transitions.
type Machine struct {
	sm    stateswitch.StateMachine
	rules map[stateswitch.TransitionType]stateswitch.TransitionRules
}

// NewMachine builds the task lifecycle state machine.
func NewMachine() *Machine {
	m := &Machine{
		sm:    stateswitch.NewStateMachine(),
		rules: map[stateswitch.TransitionType]stateswitch.TransitionRules{},
	}

	m.add(stateswitch.TransitionRule{
		TransitionType: TransitionTypeApprove,
		SourceStates: []stateswitch.State{
			stateswitch.State(models.StatusPendingApproval),
		},
		DestinationState: stateswitch.State(models.StatusApproved),
		PostTransition:   touch,
	})

	// A revoked approval is no longer final, so any earlier commit mark goes away with it.
	m.add(stateswitch.TransitionRule{
		TransitionType: TransitionTypeRevoke,
		SourceStates: []stateswitch.State{
			stateswitch.State(models.StatusApproved),
		},
		DestinationState: stateswitch.State(models.StatusPendingApproval),
		Transition: func(sw stateswitch.StateSwitch, _ stateswitch.TransitionArgs) error {
			sw.(*stateTask).task.CommittedAt = nil
			return nil
		},
		PostTransition: touch,
	})

	m.add(stateswitch.TransitionRule{
		TransitionType: TransitionTypeStart,
		SourceStates: []stateswitch.State{
			stateswitch.State(models.StatusPending),
		},
		DestinationState: stateswitch.State(models.StatusInProgress),
		PostTransition:   touch,
	})

	m.add(stateswitch.TransitionRule{
		TransitionType: TransitionTypeSubmit,
		SourceStates: []stateswitch.State{
			stateswitch.State(models.StatusPending),
			stateswitch.State(models.StatusInProgress),
		},
		DestinationState: stateswitch.State(models.StatusPendingApproval),
		PostTransition:   touch,
	})

	m.add(stateswitch.TransitionRule{
		TransitionType: TransitionTypeComplete,
		SourceStates: []stateswitch.State{
			stateswitch.State(models.StatusInProgress),
		},
		DestinationState: stateswitch.State(models.StatusCompleted),
		PostTransition:   touch,
	})

	// An approved task completes only once its commit has landed.
	m.add(stateswitch.TransitionRule{
		TransitionType: TransitionTypeComplete,
		SourceStates: []stateswitch.State{
			stateswitch.State(models.StatusApproved),
		},
		DestinationState: stateswitch.State(models.StatusCompleted),
		Condition:        isCommitted,
		PostTransition:   touch,
	})

	return m
}

func (m *Machine) add(rule stateswitch.TransitionRule) {
	m.sm.AddTransition(rule)
	m.rules[rule.TransitionType] = append(m.rules[rule.TransitionType], rule)
}

// Allowed reports whether transition may run on task as it stands.
func (m *Machine) Allowed(transition stateswitch.TransitionType, task *models.Task) (bool, error) {
	st := newStateTask(task)
	for _, rule := range m.rules[transition] {
		ok, err := rule.IsAllowedToRun(st, nil)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// Run applies transition to task in memory and returns the status it moved from, which
// callers use as the expected value of a compare-and-swap write.
func (m *Machine) Run(transition stateswitch.TransitionType, task *models.Task, now time.Time) (models.TaskStatus, error) {
	st := newStateTask(task)
	ok, err := m.Allowed(transition, task)
	if err != nil {
		return st.srcState, err
	}
	if !ok {
		return st.srcState, &TransitionError{Transition: transition, From: st.srcState}
	}
	if err := m.sm.Run(transition, st, &TransitionArgs{Now: now}); err != nil {
		return st.srcState, fmt.Errorf("failed to run %s on task %d: %w", transition, task.ID, err)
	}
	return st.srcState, nil
}

func isCommitted(sw stateswitch.StateSwitch, _ stateswitch.TransitionArgs) (bool, error) {
	return sw.(*stateTask).task.CommittedAt != nil, nil
}

func touch(sw stateswitch.StateSwitch, args stateswitch.TransitionArgs) error {
	params, ok := args.(*TransitionArgs)
	if !ok {
		return fmt.Errorf("unexpected transition args %T", args)
	}
	sw.(*stateTask).task.UpdatedAt = params.Now
	return nil
}

// ParseTransition maps the user facing transition names accepted over HTTP.
// Approve and Revoke have dedicated endpoints and are not reachable here.
func ParseTransition(name string) (stateswitch.TransitionType, bool) {
	switch strings.ToLower(name) {
	case "start":
		return TransitionTypeStart, true
	case "submit":
		return TransitionTypeSubmit, true
	case "complete":
		return TransitionTypeComplete, true
	}
	return "", false
}
