package models

import (
	"fmt"
	"time"
)

type Tone string

const (
	ToneProfessional Tone = "professional"
	ToneCasual       Tone = "casual"
	ToneFriendly     Tone = "friendly"
)

type WorkingHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type PriorityWeights struct {
	Urgency    float64 `json:"urgency"`
	Importance float64 `json:"importance"`
	Deadline   float64 `json:"deadline"`
}

type Preferences struct {
	WorkingHours    WorkingHours    `json:"workingHours"`
	Timezone        string          `json:"timezone"`
	PriorityWeights PriorityWeights `json:"priorityWeights"`
	Tone            Tone            `json:"tone"`
}

// TimeBlock is a proposed slot of focused work on one task
type TimeBlock struct {
	TaskID string    `json:"taskId"`
	Title  string    `json:"title"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

type ScheduleSuggestion struct {
	Blocks    []TimeBlock `json:"blocks"`
	CreatedAt time.Time   `json:"createdAt"`
}

// UserProfile holds a user's preferences and the latest schedule proposal
type UserProfile struct {
	UserID         string              `json:"userId"`
	Preferences    Preferences         `json:"preferences"`
	LatestSchedule *ScheduleSuggestion `json:"latestSchedule,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

func DefaultPreferences() Preferences {
	return Preferences{
		WorkingHours:    WorkingHours{Start: "09:00", End: "17:00"},
		Timezone:        "UTC",
		PriorityWeights: PriorityWeights{Urgency: 0.4, Importance: 0.3, Deadline: 0.3},
		Tone:            ToneProfessional,
	}
}

func NewUserProfile(userID string, now time.Time) *UserProfile {
	return &UserProfile{
		UserID:      userID,
		Preferences: DefaultPreferences(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Location resolves the configured timezone, falling back to UTC.
func (p Preferences) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (p Preferences) Validate() error {
	for _, v := range []string{p.WorkingHours.Start, p.WorkingHours.End} {
		if _, err := time.Parse("15:04", v); err != nil {
			return fmt.Errorf("working hours must be HH:MM, got %q", v)
		}
	}
	if p.WorkingHours.Start >= p.WorkingHours.End {
		return fmt.Errorf("working hours start %s must be before end %s", p.WorkingHours.Start, p.WorkingHours.End)
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return fmt.Errorf("unknown timezone %q", p.Timezone)
	}
	switch p.Tone {
	case ToneProfessional, ToneCasual, ToneFriendly:
	default:
		return fmt.Errorf("unknown tone %q", p.Tone)
	}
	w := p.PriorityWeights
	if w.Urgency < 0 || w.Importance < 0 || w.Deadline < 0 {
		return fmt.Errorf("priority weights must not be negative")
	}
	return nil
}
