package lifecycle

import (
	"github.com/filanov/stateswitch"
	"github.com/providentiaww/taskflow/internal/models"
)

type stateTask struct {
	srcState models.TaskStatus
	task     *models.Task
}

func newStateTask(t *models.Task) *stateTask {
	return &stateTask{
		srcState: t.Status,
		task:     t,
	}
}

func (st *stateTask) State() stateswitch.State {
	return stateswitch.State(st.task.Status)
}

func (st *stateTask) SetState(state stateswitch.State) error {
	st.task.Status = models.TaskStatus(state)
	return nil
}
