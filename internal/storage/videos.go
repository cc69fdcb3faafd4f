package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"clipvault/internal/models"
	"golang.org/x/text/language"
	"golang.org/x/text/search"
)

// Video operations

func (s *Storage) CreateVideo(params CreateVideoParams) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureDatasetInitializedLocked()

	ownerID := strings.TrimSpace(params.OwnerID)
	if _, ok := s.data.Users[ownerID]; !ok {
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
		OwnerID:         ownerID,
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

	s.data.Videos[id] = video
	if err := s.persist(); err != nil {
		delete(s.data.Videos, id)
		return models.Video{}, err
	}

	return video, nil
}

func (s *Storage) GetVideo(id string) (models.Video, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	video, ok := s.data.Videos[id]
	return video, ok
}

func (s *Storage) GetVideoWithOwner(id string) (models.VideoWithOwner, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	video, ok := s.data.Videos[id]
	if !ok {
		return models.VideoWithOwner{}, false
	}
	owner, ok := s.data.Users[video.OwnerID]
	if !ok {
		return models.VideoWithOwner{}, false
	}
	return joinOwner(video, owner), true
}

// ListVideos returns one page of the published catalog. Pages outside the
// result range yield an empty page, not an error.
func (s *Storage) ListVideos(params VideoListParams) (VideoPage, error) {
	params = normalizeListParams(params)

	s.mu.RLock()
	matched := make([]models.VideoWithOwner, 0)
	var matcher *queryMatcher
	if params.Query != "" {
		matcher = newQueryMatcher(params.Query)
	}
	for _, video := range s.data.Videos {
		if !video.Published {
			continue
		}
		if params.OwnerID != "" && video.OwnerID != params.OwnerID {
			continue
		}
		if matcher != nil && !matcher.MatchesVideo(video) {
			continue
		}
		owner, ok := s.data.Users[video.OwnerID]
		if !ok {
			continue
		}
		matched = append(matched, joinOwner(video, owner))
	}
	s.mu.RUnlock()

	sortVideos(matched, params.SortBy, params.SortDir)

	return paginate(matched, params.Page, params.PageSize), nil
}

func (s *Storage) UpdateVideo(id string, update VideoUpdate) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	video, ok := updatedData.Videos[id]
	if !ok {
		return models.Video{}, ErrVideoNotFound
	}

	if update.Title != nil {
		title, _, err := validateVideoText(*update.Title, video.Description)
		if err != nil {
			return models.Video{}, err
		}
		video.Title = title
	}
	if update.Description != nil {
		_, description, err := validateVideoText(video.Title, *update.Description)
		if err != nil {
			return models.Video{}, err
		}
		video.Description = description
	}
	if update.ThumbnailURL != nil {
		trimmed := strings.TrimSpace(*update.ThumbnailURL)
		if trimmed == "" {
			return models.Video{}, errVideoFieldRequired("thumbnailUrl")
		}
		video.ThumbnailURL = trimmed
	}
	if update.ThumbnailKey != nil {
		video.ThumbnailKey = strings.TrimSpace(*update.ThumbnailKey)
	}

	video.UpdatedAt = time.Now().UTC()
	updatedData.Videos[id] = video
	if err := s.persistDataset(updatedData); err != nil {
		return models.Video{}, err
	}

	s.data = updatedData

	return video, nil
}

func (s *Storage) DeleteVideo(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	video, ok := s.data.Videos[id]
	if !ok {
		return ErrVideoNotFound
	}

	delete(s.data.Videos, id)
	if err := s.persist(); err != nil {
		s.data.Videos[id] = video
		return err
	}
	return nil
}

// ToggleVideoPublish flips the published flag under the write lock so the
// read-modify-write cannot interleave with another toggle.
func (s *Storage) ToggleVideoPublish(id string) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, ErrVideoNotFound
	}

	original := video
	video.Published = !video.Published
	video.UpdatedAt = time.Now().UTC()

	s.data.Videos[id] = video
	if err := s.persist(); err != nil {
		s.data.Videos[id] = original
		return models.Video{}, err
	}
	return video, nil
}

func (s *Storage) IncrementVideoViews(id string) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, ErrVideoNotFound
	}

	original := video
	video.Views++

	s.data.Videos[id] = video
	if err := s.persist(); err != nil {
		s.data.Videos[id] = original
		return models.Video{}, err
	}
	return video, nil
}

func joinOwner(video models.Video, owner models.User) models.VideoWithOwner {
	return models.VideoWithOwner{
		Video: video,
		Owner: models.VideoOwner{
			ID:        owner.ID,
			Username:  owner.Username,
			FullName:  owner.FullName,
			AvatarURL: owner.AvatarURL,
		},
	}
}

func errVideoFieldRequired(field string) error {
	return fmt.Errorf("%s is required", field)
}

func errVideoFieldTooLong(field string, max int) error {
	return fmt.Errorf("%s exceeds %d characters", field, max)
}

func validateVideoText(title, description string) (string, string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", "", errVideoFieldRequired("title")
	}
	if len([]rune(title)) > MaxVideoTitleLength {
		return "", "", errVideoFieldTooLong("title", MaxVideoTitleLength)
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return "", "", errVideoFieldRequired("description")
	}
	if len([]rune(description)) > MaxVideoDescriptionLength {
		return "", "", errVideoFieldTooLong("description", MaxVideoDescriptionLength)
	}
	return title, description, nil
}

func normalizeListParams(params VideoListParams) VideoListParams {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize <= 0 {
		params.PageSize = DefaultPageSize
	}
	if params.PageSize > MaxPageSize {
		params.PageSize = MaxPageSize
	}
	params.Query = strings.TrimSpace(params.Query)
	switch params.SortBy {
	case SortByTitle, SortByDuration, SortByViews, SortByCreatedAt:
	default:
		params.SortBy = SortByCreatedAt
	}
	// The catalog reads oldest-first unless a direction is requested.
	switch strings.ToLower(strings.TrimSpace(params.SortDir)) {
	case SortDescending:
		params.SortDir = SortDescending
	default:
		params.SortDir = SortAscending
	}
	return params
}

// queryMatcher performs collation-aware case-insensitive substring matching.
type queryMatcher struct {
	pattern *search.Pattern
}

func newQueryMatcher(query string) *queryMatcher {
	matcher := search.New(language.Und, search.IgnoreCase)
	return &queryMatcher{pattern: matcher.CompileString(query)}
}

func (m *queryMatcher) MatchesVideo(video models.Video) bool {
	return m.matches(video.Title) || m.matches(video.Description)
}

func (m *queryMatcher) matches(text string) bool {
	start, _ := m.pattern.IndexString(text)
	return start >= 0
}

func sortVideos(videos []models.VideoWithOwner, sortBy, sortDir string) {
	ascending := sortDir == SortAscending
	sort.Slice(videos, func(i, j int) bool {
		a, b := videos[i], videos[j]
		var less bool
		switch sortBy {
		case SortByTitle:
			if a.Title == b.Title {
				return a.ID < b.ID
			}
			less = a.Title < b.Title
		case SortByDuration:
			if a.DurationSeconds == b.DurationSeconds {
				return a.ID < b.ID
			}
			less = a.DurationSeconds < b.DurationSeconds
		case SortByViews:
			if a.Views == b.Views {
				return a.ID < b.ID
			}
			less = a.Views < b.Views
		default:
			if a.CreatedAt.Equal(b.CreatedAt) {
				return a.ID < b.ID
			}
			less = a.CreatedAt.Before(b.CreatedAt)
		}
		if ascending {
			return less
		}
		return !less
	})
}

func paginate(items []models.VideoWithOwner, page, pageSize int) VideoPage {
	total := len(items)
	totalPages := 0
	if total > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	pageItems := make([]models.VideoWithOwner, end-start)
	copy(pageItems, items[start:end])
	return VideoPage{
		Items:      pageItems,
		Page:       page,
		PageSize:   pageSize,
		TotalItems: total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1 && total > 0,
	}
}
