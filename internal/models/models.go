package models

import (
	"strings"
	"time"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FullName     string    `json:"fullName"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Matches reports whether the provided login matches the user's username or
// email, ignoring case.
func (u User) Matches(login string) bool {
	normalized := strings.TrimSpace(strings.ToLower(login))
	return normalized != "" && (u.Username == normalized || u.Email == normalized)
}

type Video struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"ownerId"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	VideoURL        string    `json:"videoUrl"`
	VideoKey        string    `json:"videoKey,omitempty"`
	ThumbnailURL    string    `json:"thumbnailUrl"`
	ThumbnailKey    string    `json:"thumbnailKey,omitempty"`
	DurationSeconds float64   `json:"durationSeconds"`
	Views           int64     `json:"views"`
	Published       bool      `json:"published"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// VideoOwner is the owner projection joined onto catalog listings.
type VideoOwner struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FullName  string `json:"fullName"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type VideoWithOwner struct {
	Video
	Owner VideoOwner `json:"owner"`
}
