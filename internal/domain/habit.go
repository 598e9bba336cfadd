package domain

import "time"

type HabitStatus string

const (
	HabitActive    HabitStatus = "ACTIVE"
	HabitPaused    HabitStatus = "PAUSED"
	HabitCompleted HabitStatus = "COMPLETED"
	HabitArchived  HabitStatus = "ARCHIVED"
)

// Habit is a tracked routine owned by a user.
type Habit struct {
	ID        int64
	UserID    int64
	Title     string
	Status    HabitStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (h *Habit) RecordID() int64 { return h.ID }
func (h *Habit) OwnerID() int64  { return h.UserID }
