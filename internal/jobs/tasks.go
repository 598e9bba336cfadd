package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeHabitReminders = "habit:reminders"
)

const (
	QueueDefault = "default"
)

// HabitRemindersPayload names the zone whose calendar day the reminders are for.
type HabitRemindersPayload struct {
	Timezone string `json:"timezone"`
}

// NewHabitRemindersTask builds the daily reminder task. Dispatch is never retried, so neither is the task.
func NewHabitRemindersTask(timezone string) (*asynq.Task, error) {
	payload, err := json.Marshal(HabitRemindersPayload{Timezone: timezone})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypeHabitReminders, payload, asynq.Queue(QueueDefault), asynq.MaxRetry(0)), nil
}
