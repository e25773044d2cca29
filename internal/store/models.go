package store

import (
	"fmt"
	"strings"
	"time"
)

type User struct {
	ID                string
	Email             string
	Name              string
	PasswordHash      string
	Avatar            *string
	CPFCNPJ           *string
	Active            bool
	ResetTokenHash    *string
	ResetTokenExpires *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ProfilePatch lists the user fields a profile update may write. Nil leaves a field unchanged.
type ProfilePatch struct {
	Name    *string
	Avatar  *string
	CPFCNPJ *string
}

type ConversationStatus string

const (
	StatusPending  ConversationStatus = "pending"
	StatusApproved ConversationStatus = "approved"
	StatusRejected ConversationStatus = "rejected"
)

func ParseConversationStatus(value string) (ConversationStatus, error) {
	switch status := ConversationStatus(strings.ToLower(strings.TrimSpace(value))); status {
	case StatusPending, StatusApproved, StatusRejected:
		return status, nil
	default:
		return "", fmt.Errorf("unknown conversation status %q", value)
	}
}

type Conversation struct {
	ID              string
	ClientName      string
	ClientPhone     string
	Status          ConversationStatus
	RejectionReason *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ConversationSummary is a conversation row joined with its latest message and unread tally.
type ConversationSummary struct {
	Conversation
	LastMessage *string
	UnreadCount int
}

// StatusChange describes a conversation status write. ClearReason nulls the stored reason
// when Reason is nil; otherwise a nil Reason leaves the stored value untouched.
type StatusChange struct {
	Status      ConversationStatus
	Reason      *string
	ClearReason bool
}

type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

func ParseReviewStatus(value string) (ReviewStatus, error) {
	switch status := ReviewStatus(strings.ToLower(strings.TrimSpace(value))); status {
	case ReviewPending, ReviewApproved, ReviewRejected:
		return status, nil
	default:
		return "", fmt.Errorf("unknown review status %q", value)
	}
}

type Message struct {
	ID             string
	ConversationID string
	Text           string
	IsAI           bool
	Timestamp      time.Time
	CreatedAt      time.Time
	ReviewStatus   ReviewStatus
	ReviewedAt     *time.Time
}

type Activity struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Status      *string   `json:"status,omitempty"`
	Avatar      *string   `json:"avatar,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type AttendanceStatus string

const (
	AttendancePending    AttendanceStatus = "pending"
	AttendanceApproved   AttendanceStatus = "approved"
	AttendanceNoResponse AttendanceStatus = "no_response"
	AttendanceRejected   AttendanceStatus = "rejected"
)

func ParseAttendanceStatus(value string) (AttendanceStatus, error) {
	switch status := AttendanceStatus(strings.ToLower(strings.TrimSpace(value))); status {
	case AttendancePending, AttendanceApproved, AttendanceNoResponse, AttendanceRejected:
		return status, nil
	default:
		return "", fmt.Errorf("unknown attendance status %q", value)
	}
}

type Attendance struct {
	ID              string
	Name            string
	Phone           string
	Date            time.Time
	Status          AttendanceStatus
	LastInteraction *time.Time
	MessageCount    int
	ConversationID  *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type AttendanceFilter struct {
	Query  string
	Status AttendanceStatus
	Date   *time.Time
}

type AttendancePatch struct {
	Status          *AttendanceStatus
	LastInteraction *time.Time
	MessageCount    *int
}

type Stats struct {
	Total       int `json:"total"`
	Pending     int `json:"pending"`
	Approved    int `json:"approved"`
	Rejected    int `json:"rejected"`
	Attendances int `json:"attendances"`
}
