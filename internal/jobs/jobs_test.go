package jobs

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitflow/notifier/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewHabitRemindersTask(t *testing.T) {
	task, err := NewHabitRemindersTask("Europe/Berlin")
	require.NoError(t, err)

	assert.Equal(t, TaskTypeHabitReminders, task.Type())

	var payload HabitRemindersPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "Europe/Berlin", payload.Timezone)
}

func TestNewSchedulerRejectsUnknownTimezone(t *testing.T) {
	mr := miniredis.RunT(t)

	_, err := NewScheduler(asynq.RedisClientOpt{Addr: mr.Addr()}, config.RemindersConfig{Timezone: "Mars/Olympus"}, testLogger())
	assert.Error(t, err)
}

func TestRegisterTasksValidatesCron(t *testing.T) {
	mr := miniredis.RunT(t)
	opt := asynq.RedisClientOpt{Addr: mr.Addr()}

	bad, err := NewScheduler(opt, config.RemindersConfig{Cron: "every evening"}, testLogger())
	require.NoError(t, err)
	assert.Error(t, bad.RegisterTasks())

	good, err := NewScheduler(opt, config.RemindersConfig{}, testLogger())
	require.NoError(t, err)
	assert.NoError(t, good.RegisterTasks())
}
