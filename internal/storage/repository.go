package storage

import (
	"context"

	"clipvault/internal/models"
)

// Repository exposes the datastore operations required by the API handlers.
// The JSON-file implementation backs development and tests; the Postgres
// implementation backs multi-replica deployments.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateUser(params CreateUserParams) (models.User, error)
	AuthenticateUser(login, password string) (models.User, error)
	GetUser(id string) (models.User, bool)
	FindUserByUsername(username string) (models.User, bool)
	UpdateUser(id string, update UserUpdate) (models.User, error)

	CreateVideo(params CreateVideoParams) (models.Video, error)
	GetVideo(id string) (models.Video, bool)
	GetVideoWithOwner(id string) (models.VideoWithOwner, bool)
	ListVideos(params VideoListParams) (VideoPage, error)
	UpdateVideo(id string, update VideoUpdate) (models.Video, error)
	DeleteVideo(id string) error
	ToggleVideoPublish(id string) (models.Video, error)
	IncrementVideoViews(id string) (models.Video, error)
}

var _ Repository = (*Storage)(nil)

var _ Repository = (*PostgresRepository)(nil)
