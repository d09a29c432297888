package models

import "time"

// Post status values. Exactly one of ScheduledAt/PostedAt is meaningful
// depending on status; a post outside scheduled/posted has no calendar date.
const (
	PostStatusDraft     = "draft"
	PostStatusSuggested = "suggested"
	PostStatusScheduled = "scheduled"
	PostStatusPosted    = "posted"
	PostStatusFailed    = "failed"
)

// Platforms a post can target.
const (
	PlatformLinkedIn = "linkedin"
	PlatformSubstack = "substack"
)

type Post struct {
	ID               string     `json:"id"`
	UserID           string     `json:"userId"`
	Content          *string    `json:"content,omitempty"`
	Platform         string     `json:"platform"`
	Status           string     `json:"status"`
	Topics           []string   `json:"topics"`
	Media            []string   `json:"media"`
	ScheduledAt      *time.Time `json:"scheduledAt,omitempty"`
	PostedAt         *time.Time `json:"postedAt,omitempty"`
	ExternalID       *string    `json:"externalId,omitempty"`
	LastPublishError *string    `json:"lastPublishError,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// DailySuggestionSchedule is the per-user daily cadence for AI suggestion
// generation. CronExpression is always the 5-field "M H * * *" daily form.
// One row per user.
type DailySuggestionSchedule struct {
	UserID         string    `json:"userId"`
	CronExpression string    `json:"cronExpression"`
	Timezone       string    `json:"timezone"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type SocialConnection struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Provider    string    `json:"provider"`
	ProviderID  string    `json:"providerId"`
	Name        *string   `json:"name,omitempty"`
	AccessToken *string   `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}
