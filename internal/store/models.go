package store

import "time"

const (
	SwapPending   = "pending"
	SwapAccepted  = "accepted"
	SwapRejected  = "rejected"
	SwapCompleted = "completed"
	SwapCancelled = "cancelled"
)

const (
	SkillOffered = "offered"
	SkillWanted  = "wanted"
)

type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Location     string
	Availability string
	PhotoURL     string
	IsPublic     bool
	IsBanned     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Admin struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         string
	IsActive     bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
}

type Skill struct {
	ID          string
	Name        string
	Description string
	Category    string
	IsApproved  bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type UserSkill struct {
	ID          string
	UserID      string
	SkillID     string
	SkillName   string
	SkillType   string
	Description string
	Proficiency string
	CreatedAt   time.Time
}

type Swap struct {
	ID             string
	RequesterID    string
	ReceiverID     string
	RequesterSkill string
	ReceiverSkill  string
	Status         string
	Message        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
	// Joined for API responses
	RequesterName string
	ReceiverName  string
}

type Feedback struct {
	ID          string
	SwapID      string
	RaterID     string
	RatedUserID string
	Rating      int
	Comment     string
	CreatedAt   time.Time
	// Joined for API responses
	RaterName string
}

type ChatMessage struct {
	ID        string
	SwapID    string
	SenderID  *string
	Body      string
	Type      string
	CreatedAt time.Time
	// Joined for API responses; empty when the sender is the system.
	SenderName string
}

type RatingSummary struct {
	Average      float64
	Count        int
	Distribution map[int]int
}

type PasswordReset struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

type PlatformStats struct {
	TotalUsers     int
	BannedUsers    int
	NewUsersWeek   int
	TotalSwaps     int
	PendingSwaps   int
	AcceptedSwaps  int
	CompletedSwaps int
	NewSwapsWeek   int
	TotalSkills    int
	ApprovedSkills int
	PendingSkills  int
	TotalFeedback  int
	AverageRating  float64
}

// UserActivity aggregates a member's footprint for the activity report.
type UserActivity struct {
	UserID         string
	Name           string
	Email          string
	SkillsOffered  int
	SkillsWanted   int
	SwapsRequested int
	SwapsReceived  int
	SwapsCompleted int
	FeedbackGiven  int
	AverageRating  float64
	JoinedAt       time.Time
	IsBanned       bool
}
