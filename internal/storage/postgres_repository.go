package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"clipvault/internal/models"
)

const postgresQueryTimeout = 10 * time.Second

// PostgresRepository implements Repository on top of a pgx connection pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects to Postgres, applies migrations and verifies
// connectivity before returning.
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	repo := &PostgresRepository{pool: pool}
	if err := repo.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return repo, nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close drains the pool, bounded by the caller's context.
func (r *PostgresRepository) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *PostgresRepository) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), postgresQueryTimeout)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

const userColumns = `id, username, email, full_name, avatar_url, password_hash, created_at`

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.FullName, &user.AvatarURL, &user.PasswordHash, &user.CreatedAt)
	return user, err
}

func (r *PostgresRepository) CreateUser(params CreateUserParams) (models.User, error) {
	username := strings.TrimSpace(strings.ToLower(params.Username))
	if username == "" {
		return models.User{}, errors.New("username is required")
	}
	email := strings.TrimSpace(strings.ToLower(params.Email))
	if email == "" {
		return models.User{}, errors.New("email is required")
	}
	if params.Password == "" {
		return models.User{}, errors.New("password is required")
	}

	id, err := generateID()
	if err != nil {
		return models.User{}, err
	}
	hashed, err := hashPassword(params.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		ID:           id,
		Username:     username,
		Email:        email,
		FullName:     strings.TrimSpace(params.FullName),
		AvatarURL:    strings.TrimSpace(params.AvatarURL),
		PasswordHash: hashed,
		CreatedAt:    time.Now().UTC(),
	}

	ctx, cancel := r.opContext()
	defer cancel()
	_, err = r.pool.Exec(ctx, `
INSERT INTO users (id, username, email, full_name, avatar_url, password_hash, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.Username, user.Email, user.FullName, user.AvatarURL, user.PasswordHash, user.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "users_username_key") {
			return models.User{}, fmt.Errorf("username %s already in use", username)
		}
		if strings.Contains(err.Error(), "users_email_key") {
			return models.User{}, fmt.Errorf("email %s already in use", email)
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (r *PostgresRepository) GetUser(id string) (models.User, bool) {
	ctx, cancel := r.opContext()
	defer cancel()
	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *PostgresRepository) FindUserByUsername(username string) (models.User, bool) {
	normalized := strings.TrimSpace(strings.ToLower(username))
	ctx, cancel := r.opContext()
	defer cancel()
	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, normalized))
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *PostgresRepository) AuthenticateUser(login, password string) (models.User, error) {
	if password == "" {
		return models.User{}, errors.New("password is required")
	}
	normalized := strings.TrimSpace(strings.ToLower(login))

	ctx, cancel := r.opContext()
	defer cancel()
	user, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1 OR email = $1`, normalized))
	if err != nil {
		if isNoRows(err) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	if err := verifyPassword(user.PasswordHash, password); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (r *PostgresRepository) UpdateUser(id string, update UserUpdate) (models.User, error) {
	ctx, cancel := r.opContext()
	defer cancel()
	user, err := scanUser(r.pool.QueryRow(ctx, `
UPDATE users SET
    full_name  = COALESCE($2, full_name),
    avatar_url = COALESCE($3, avatar_url)
WHERE id = $1
RETURNING `+userColumns,
		id, trimmedOrNil(update.FullName), trimmedOrNil(update.AvatarURL)))
	if err != nil {
		if isNoRows(err) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

func trimmedOrNil(value *string) any {
	if value == nil {
		return nil
	}
	return strings.TrimSpace(*value)
}

const videoColumns = `id, owner_id, title, description, video_url, video_key, thumbnail_url, thumbnail_key, duration_seconds, views, published, created_at, updated_at`

func scanVideo(row pgx.Row) (models.Video, error) {
	var video models.Video
	err := row.Scan(
		&video.ID, &video.OwnerID, &video.Title, &video.Description,
		&video.VideoURL, &video.VideoKey, &video.ThumbnailURL, &video.ThumbnailKey,
		&video.DurationSeconds, &video.Views, &video.Published,
		&video.CreatedAt, &video.UpdatedAt)
	return video, err
}

func (r *PostgresRepository) CreateVideo(params CreateVideoParams) (models.Video, error) {
	if _, ok := r.GetUser(strings.TrimSpace(params.OwnerID)); !ok {
		return models.Video{}, ErrUserNotFound
	}

	title, description, err := validateVideoText(params.Title, params.Description)
	if err != nil {
		return models.Video{}, err
	}
	videoURL := strings.TrimSpace(params.VideoURL)
	if videoURL == "" {
		return models.Video{}, errVideoFieldRequired("videoUrl")
	}
	thumbnailURL := strings.TrimSpace(params.ThumbnailURL)
	if thumbnailURL == "" {
		return models.Video{}, errVideoFieldRequired("thumbnailUrl")
	}

	id, err := generateID()
	if err != nil {
		return models.Video{}, err
	}
	duration := params.DurationSeconds
	if duration < 0 {
		duration = 0
	}

	now := time.Now().UTC()
	video := models.Video{
		ID:              id,
		OwnerID:         strings.TrimSpace(params.OwnerID),
		Title:           title,
		Description:     description,
		VideoURL:        videoURL,
		VideoKey:        strings.TrimSpace(params.VideoKey),
		ThumbnailURL:    thumbnailURL,
		ThumbnailKey:    strings.TrimSpace(params.ThumbnailKey),
		DurationSeconds: duration,
		Published:       params.Published,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	ctx, cancel := r.opContext()
	defer cancel()
	_, err = r.pool.Exec(ctx, `
INSERT INTO videos (id, owner_id, title, description, video_url, video_key, thumbnail_url, thumbnail_key, duration_seconds, views, published, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		video.ID, video.OwnerID, video.Title, video.Description,
		video.VideoURL, video.VideoKey, video.ThumbnailURL, video.ThumbnailKey,
		video.DurationSeconds, video.Views, video.Published, video.CreatedAt, video.UpdatedAt)
	if err != nil {
		return models.Video{}, fmt.Errorf("insert video: %w", err)
	}
	return video, nil
}

func (r *PostgresRepository) GetVideo(id string) (models.Video, bool) {
	ctx, cancel := r.opContext()
	defer cancel()
	video, err := scanVideo(r.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id))
	if err != nil {
		return models.Video{}, false
	}
	return video, true
}

func (r *PostgresRepository) GetVideoWithOwner(id string) (models.VideoWithOwner, bool) {
	ctx, cancel := r.opContext()
	defer cancel()
	var item models.VideoWithOwner
	err := r.pool.QueryRow(ctx, `
SELECT v.id, v.owner_id, v.title, v.description, v.video_url, v.video_key,
       v.thumbnail_url, v.thumbnail_key, v.duration_seconds, v.views, v.published,
       v.created_at, v.updated_at,
       u.id, u.username, u.full_name, u.avatar_url
FROM videos v
JOIN users u ON u.id = v.owner_id
WHERE v.id = $1`, id).Scan(
		&item.ID, &item.OwnerID, &item.Title, &item.Description,
		&item.VideoURL, &item.VideoKey, &item.ThumbnailURL, &item.ThumbnailKey,
		&item.DurationSeconds, &item.Views, &item.Published,
		&item.CreatedAt, &item.UpdatedAt,
		&item.Owner.ID, &item.Owner.Username, &item.Owner.FullName, &item.Owner.AvatarURL)
	if err != nil {
		return models.VideoWithOwner{}, false
	}
	return item, true
}

// listOrderClause maps normalized sort parameters to a fixed ORDER BY clause.
// Only whitelisted columns ever reach the SQL text.
func listOrderClause(sortBy, sortDir string) string {
	column := "v.created_at"
	switch sortBy {
	case SortByTitle:
		column = "v.title"
	case SortByDuration:
		column = "v.duration_seconds"
	case SortByViews:
		column = "v.views"
	}
	direction := "ASC"
	if sortDir == SortDescending {
		direction = "DESC"
	}
	return fmt.Sprintf("ORDER BY %s %s, v.id ASC", column, direction)
}

func (r *PostgresRepository) ListVideos(params VideoListParams) (VideoPage, error) {
	params = normalizeListParams(params)

	conditions := []string{"v.published"}
	args := []any{}
	if params.OwnerID != "" {
		args = append(args, params.OwnerID)
		conditions = append(conditions, fmt.Sprintf("v.owner_id = $%d", len(args)))
	}
	if params.Query != "" {
		args = append(args, "%"+escapeLikePattern(params.Query)+"%")
		conditions = append(conditions, fmt.Sprintf("(v.title ILIKE $%d OR v.description ILIKE $%d)", len(args), len(args)))
	}

	offset := (params.Page - 1) * params.PageSize
	args = append(args, params.PageSize, offset)

	query := fmt.Sprintf(`
SELECT v.id, v.owner_id, v.title, v.description, v.video_url, v.video_key,
       v.thumbnail_url, v.thumbnail_key, v.duration_seconds, v.views, v.published,
       v.created_at, v.updated_at,
       u.id, u.username, u.full_name, u.avatar_url,
       COUNT(*) OVER () AS total
FROM videos v
JOIN users u ON u.id = v.owner_id
WHERE %s
%s
LIMIT $%d OFFSET $%d`,
		strings.Join(conditions, " AND "),
		listOrderClause(params.SortBy, params.SortDir),
		len(args)-1, len(args))

	ctx, cancel := r.opContext()
	defer cancel()
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return VideoPage{}, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	items := make([]models.VideoWithOwner, 0, params.PageSize)
	total := 0
	for rows.Next() {
		var item models.VideoWithOwner
		if err := rows.Scan(
			&item.ID, &item.OwnerID, &item.Title, &item.Description,
			&item.VideoURL, &item.VideoKey, &item.ThumbnailURL, &item.ThumbnailKey,
			&item.DurationSeconds, &item.Views, &item.Published,
			&item.CreatedAt, &item.UpdatedAt,
			&item.Owner.ID, &item.Owner.Username, &item.Owner.FullName, &item.Owner.AvatarURL,
			&total); err != nil {
			return VideoPage{}, fmt.Errorf("scan video row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return VideoPage{}, fmt.Errorf("list videos: %w", err)
	}

	// A page past the end returns no rows, so the window total is lost.
	// Fall back to a count query to keep pagination metadata accurate.
	if total == 0 && len(items) == 0 && params.Page > 1 {
		countQuery := fmt.Sprintf(`
SELECT COUNT(*)
FROM videos v
JOIN users u ON u.id = v.owner_id
WHERE %s`, strings.Join(conditions, " AND "))
		if err := r.pool.QueryRow(ctx, countQuery, args[:len(args)-2]...).Scan(&total); err != nil {
			return VideoPage{}, fmt.Errorf("count videos: %w", err)
		}
	}

	totalPages := 0
	if total > 0 {
		totalPages = (total + params.PageSize - 1) / params.PageSize
	}
	return VideoPage{
		Items:      items,
		Page:       params.Page,
		PageSize:   params.PageSize,
		TotalItems: total,
		TotalPages: totalPages,
		HasNext:    params.Page < totalPages,
		HasPrev:    params.Page > 1 && total > 0,
	}, nil
}

func escapeLikePattern(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func (r *PostgresRepository) UpdateVideo(id string, update VideoUpdate) (models.Video, error) {
	current, ok := r.GetVideo(id)
	if !ok {
		return models.Video{}, ErrVideoNotFound
	}

	title := current.Title
	if update.Title != nil {
		validated, _, err := validateVideoText(*update.Title, current.Description)
		if err != nil {
			return models.Video{}, err
		}
		title = validated
	}
	description := current.Description
	if update.Description != nil {
		_, validated, err := validateVideoText(current.Title, *update.Description)
		if err != nil {
			return models.Video{}, err
		}
		description = validated
	}
	thumbnailURL := current.ThumbnailURL
	if update.ThumbnailURL != nil {
		trimmed := strings.TrimSpace(*update.ThumbnailURL)
		if trimmed == "" {
			return models.Video{}, errVideoFieldRequired("thumbnailUrl")
		}
		thumbnailURL = trimmed
	}
	thumbnailKey := current.ThumbnailKey
	if update.ThumbnailKey != nil {
		thumbnailKey = strings.TrimSpace(*update.ThumbnailKey)
	}

	ctx, cancel := r.opContext()
	defer cancel()
	video, err := scanVideo(r.pool.QueryRow(ctx, `
UPDATE videos SET
    title         = $2,
    description   = $3,
    thumbnail_url = $4,
    thumbnail_key = $5,
    updated_at    = now()
WHERE id = $1
RETURNING `+videoColumns,
		id, title, description, thumbnailURL, thumbnailKey))
	if err != nil {
		if isNoRows(err) {
			return models.Video{}, ErrVideoNotFound
		}
		return models.Video{}, fmt.Errorf("update video: %w", err)
	}
	return video, nil
}

func (r *PostgresRepository) DeleteVideo(id string) error {
	ctx, cancel := r.opContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete video: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVideoNotFound
	}
	return nil
}

// ToggleVideoPublish flips the flag in a single statement so concurrent
// toggles cannot interleave.
func (r *PostgresRepository) ToggleVideoPublish(id string) (models.Video, error) {
	ctx, cancel := r.opContext()
	defer cancel()
	video, err := scanVideo(r.pool.QueryRow(ctx, `
UPDATE videos SET published = NOT published, updated_at = now()
WHERE id = $1
RETURNING `+videoColumns, id))
	if err != nil {
		if isNoRows(err) {
			return models.Video{}, ErrVideoNotFound
		}
		return models.Video{}, fmt.Errorf("toggle video publish: %w", err)
	}
	return video, nil
}

func (r *PostgresRepository) IncrementVideoViews(id string) (models.Video, error) {
	ctx, cancel := r.opContext()
	defer cancel()
	video, err := scanVideo(r.pool.QueryRow(ctx, `
UPDATE videos SET views = views + 1
WHERE id = $1
RETURNING `+videoColumns, id))
	if err != nil {
		if isNoRows(err) {
			return models.Video{}, ErrVideoNotFound
		}
		return models.Video{}, fmt.Errorf("increment video views: %w", err)
	}
	return video, nil
}
