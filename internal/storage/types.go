package storage

import (
	"errors"
	"sync"

	"clipvault/internal/models"
)

const (
	passwordHashSaltLength = 16
	passwordHashKeyLength  = 32
	passwordHashIterations = 120000

	// MaxVideoTitleLength caps the number of characters accepted for a video
	// title.
	MaxVideoTitleLength = 200
	// MaxVideoDescriptionLength caps the number of characters accepted for a
	// video description.
	MaxVideoDescriptionLength = 5000

	// DefaultPageSize is applied when a listing request does not specify a
	// page size.
	DefaultPageSize = 10
	// MaxPageSize bounds the page size a listing request may ask for.
	MaxPageSize = 100

	SortByCreatedAt = "createdAt"
	SortByTitle     = "title"
	SortByDuration  = "duration"
	SortByViews     = "views"

	SortAscending  = "asc"
	SortDescending = "desc"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrVideoNotFound is returned by mutating video operations when the
	// target record does not exist.
	ErrVideoNotFound = errors.New("video not found")

	// ErrUserNotFound is returned when an operation references an unknown
	// user account.
	ErrUserNotFound = errors.New("user not found")
)

type dataset struct {
	Users  map[string]models.User  `json:"users"`
	Videos map[string]models.Video `json:"videos"`
}

type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

// CreateUserParams captures the attributes that can be set when creating a user.
type CreateUserParams struct {
	Username  string
	Email     string
	Password  string
	FullName  string
	AvatarURL string
}

// UserUpdate represents the fields that can be modified for an existing user.
type UserUpdate struct {
	FullName  *string
	AvatarURL *string
}

// CreateVideoParams captures the information required to persist a catalog
// record for an already-uploaded video.
type CreateVideoParams struct {
	OwnerID         string
	Title           string
	Description     string
	VideoURL        string
	VideoKey        string
	ThumbnailURL    string
	ThumbnailKey    string
	DurationSeconds float64
	Published       bool
}

// VideoUpdate describes the mutable fields of a video record. Nil pointers
// leave the corresponding field untouched.
type VideoUpdate struct {
	Title        *string
	Description  *string
	ThumbnailURL *string
	ThumbnailKey *string
}

// VideoListParams selects a page of the published catalog.
type VideoListParams struct {
	Page     int
	PageSize int
	// Query matches case-insensitively against title and description.
	Query   string
	OwnerID string
	SortBy  string
	SortDir string
}

// VideoPage is one page of catalog results together with pagination metadata.
type VideoPage struct {
	Items      []models.VideoWithOwner `json:"items"`
	Page       int                     `json:"page"`
	PageSize   int                     `json:"pageSize"`
	TotalItems int                     `json:"totalItems"`
	TotalPages int                     `json:"totalPages"`
	HasNext    bool                    `json:"hasNext"`
	HasPrev    bool                    `json:"hasPrev"`
}
