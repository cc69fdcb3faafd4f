package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"clipvault/internal/models"
)

// Snapshot is a point-in-time export of the catalog, used to move data
// between the JSON store and Postgres.
type Snapshot struct {
	Users  []models.User  `json:"users"`
	Videos []models.Video `json:"videos"`
}

// SnapshotCounts summarises a snapshot for logging and verification.
type SnapshotCounts struct {
	Users  int
	Videos int
}

func (s Snapshot) Counts() SnapshotCounts {
	return SnapshotCounts{Users: len(s.Users), Videos: len(s.Videos)}
}

// LoadSnapshotFromJSON reads a JSON datastore file and returns its contents
// as a deterministic, ID-sorted snapshot.
func LoadSnapshotFromJSON(path string) (Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	var data dataset
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		if errors.Is(err, io.EOF) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("decode store file: %w", err)
	}

	snapshot := Snapshot{
		Users:  make([]models.User, 0, len(data.Users)),
		Videos: make([]models.Video, 0, len(data.Videos)),
	}
	for _, user := range data.Users {
		snapshot.Users = append(snapshot.Users, user)
	}
	for _, video := range data.Videos {
		snapshot.Videos = append(snapshot.Videos, video)
	}
	sort.Slice(snapshot.Users, func(i, j int) bool { return snapshot.Users[i].ID < snapshot.Users[j].ID })
	sort.Slice(snapshot.Videos, func(i, j int) bool { return snapshot.Videos[i].ID < snapshot.Videos[j].ID })
	return snapshot, nil
}

// ImportSnapshotToPostgres copies the snapshot into the repository, keeping
// existing IDs and password hashes. Rows that already exist are skipped, so
// the import can be re-run after a partial failure.
func ImportSnapshotToPostgres(ctx context.Context, repo *PostgresRepository, snapshot Snapshot) error {
	for _, user := range snapshot.Users {
		if _, err := repo.pool.Exec(ctx, `
INSERT INTO users (id, username, email, full_name, avatar_url, password_hash, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`,
			user.ID, user.Username, user.Email, user.FullName, user.AvatarURL, user.PasswordHash, user.CreatedAt); err != nil {
			return fmt.Errorf("import user %s: %w", user.ID, err)
		}
	}
	for _, video := range snapshot.Videos {
		if _, err := repo.pool.Exec(ctx, `
INSERT INTO videos (id, owner_id, title, description, video_url, video_key, thumbnail_url, thumbnail_key, duration_seconds, views, published, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO NOTHING`,
			video.ID, video.OwnerID, video.Title, video.Description,
			video.VideoURL, video.VideoKey, video.ThumbnailURL, video.ThumbnailKey,
			video.DurationSeconds, video.Views, video.Published, video.CreatedAt, video.UpdatedAt); err != nil {
			return fmt.Errorf("import video %s: %w", video.ID, err)
		}
	}
	return nil
}
