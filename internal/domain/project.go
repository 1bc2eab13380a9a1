package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectOpen   ProjectStatus = "open"
	ProjectClosed ProjectStatus = "closed"
)

// Project is a unit of work members can join to earn project contribution.
type Project struct {
	ID            uuid.UUID     `json:"id"`
	Name          string        `json:"name"`
	Status        ProjectStatus `json:"status"`
	PreferredRole Role          `json:"preferred_role"`
	TitleKeywords []string      `json:"title_keywords"`
	MinTier       Tier          `json:"min_tier"`
	CreatedAt     time.Time     `json:"created_at"`
}

// ParticipationStatus is the state of a member's work on a project.
type ParticipationStatus string

const (
	ParticipationInProgress ParticipationStatus = "in_progress"
	ParticipationCompleted  ParticipationStatus = "completed"
	ParticipationTimedOut   ParticipationStatus = "timed_out"
)

// Participation links a member to a project they joined.
type Participation struct {
	ID        uuid.UUID           `json:"id"`
	UserID    string              `json:"user_id"`
	ProjectID uuid.UUID           `json:"project_id"`
	Status    ParticipationStatus `json:"status"`
	StartedAt time.Time           `json:"started_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// ProjectProposal is a non-binding auto-assignment suggestion.
type ProjectProposal struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	ProjectID uuid.UUID `json:"project_id"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}
