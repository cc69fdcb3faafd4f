package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"clipvault/internal/media"
	"clipvault/internal/models"
	"clipvault/internal/storage"
)

const defaultMaxUploadBytes = 2 << 30

// probeDuration is swapped out by tests.
var probeDuration = media.ProbeDuration

type ownerResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FullName  string `json:"fullName"`
	AvatarURL string `json:"avatarUrl"`
}

type videoResponse struct {
	ID              string         `json:"id"`
	OwnerID         string         `json:"ownerId"`
	Owner           *ownerResponse `json:"owner,omitempty"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	VideoURL        string         `json:"videoUrl"`
	ThumbnailURL    string         `json:"thumbnailUrl"`
	DurationSeconds float64        `json:"durationSeconds"`
	Views           int64          `json:"views"`
	Published       bool           `json:"published"`
	CreatedAt       string         `json:"createdAt"`
	UpdatedAt       string         `json:"updatedAt"`
}

type videoPageResponse struct {
	Items      []videoResponse `json:"items"`
	Page       int             `json:"page"`
	PageSize   int             `json:"pageSize"`
	TotalItems int             `json:"totalItems"`
	TotalPages int             `json:"totalPages"`
	HasNext    bool            `json:"hasNext"`
	HasPrev    bool            `json:"hasPrev"`
}

func newVideoResponse(video models.Video) videoResponse {
	return videoResponse{
		ID:              video.ID,
		OwnerID:         video.OwnerID,
		Title:           video.Title,
		Description:     video.Description,
		VideoURL:        video.VideoURL,
		ThumbnailURL:    video.ThumbnailURL,
		DurationSeconds: video.DurationSeconds,
		Views:           video.Views,
		Published:       video.Published,
		CreatedAt:       video.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:       video.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func newVideoWithOwnerResponse(item models.VideoWithOwner) videoResponse {
	resp := newVideoResponse(item.Video)
	resp.Owner = &ownerResponse{
		ID:        item.Owner.ID,
		Username:  item.Owner.Username,
		FullName:  item.Owner.FullName,
		AvatarURL: item.Owner.AvatarURL,
	}
	return resp
}

// Videos lists the published catalog.
func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireAuthenticatedUser(w, r); !ok {
		return
	}

	params, err := parseListParams(r)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	page, err := h.Store.ListVideos(params)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	items := make([]videoResponse, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, newVideoWithOwnerResponse(item))
	}
	writeJSON(w, http.StatusOK, videoPageResponse{
		Items:      items,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalItems: page.TotalItems,
		TotalPages: page.TotalPages,
		HasNext:    page.HasNext,
		HasPrev:    page.HasPrev,
	}, "videos fetched")
}

func parseListParams(r *http.Request) (storage.VideoListParams, error) {
	query := r.URL.Query()
	params := storage.VideoListParams{
		Query:   strings.TrimSpace(query.Get("query")),
		SortBy:  strings.TrimSpace(query.Get("sortBy")),
		SortDir: strings.TrimSpace(query.Get("sortType")),
	}
	if raw := strings.TrimSpace(query.Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return storage.VideoListParams{}, errValidation("page must be an integer")
		}
		params.Page = page
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return storage.VideoListParams{}, errValidation("limit must be an integer")
		}
		params.PageSize = limit
	}
	// A malformed owner filter is dropped rather than rejected, so typo'd
	// links still return the unfiltered catalog.
	if ownerID := strings.TrimSpace(query.Get("userId")); storage.IsWellFormedID(ownerID) {
		params.OwnerID = ownerID
	}
	return params, nil
}

type publishForm struct {
	title       string
	description string
	video       *stagedFile
	thumbnail   *stagedFile
}

type stagedFile struct {
	tempPath     string
	size         int64
	originalName string
	contentType  string
}

func (f *stagedFile) cleanup() {
	if f != nil && f.tempPath != "" {
		_ = os.Remove(f.tempPath)
		f.tempPath = ""
	}
}

// PublishVideo accepts a multipart upload, stores both assets remotely and
// creates the catalog record already published.
func (h *Handler) PublishVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	actor, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}

	form, err := h.readPublishForm(r)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	defer form.video.cleanup()
	defer form.thumbnail.cleanup()

	if form.title == "" {
		writeRequestError(w, errValidation("title is required"))
		return
	}
	if form.description == "" {
		writeRequestError(w, errValidation("description is required"))
		return
	}
	if form.video == nil {
		writeRequestError(w, errValidation("videoFile is required"))
		return
	}
	if form.thumbnail == nil {
		writeRequestError(w, errValidation("thumbnail is required"))
		return
	}

	// A failed probe leaves the duration at zero; it never blocks publishing.
	duration, probeErr := probeDuration(r.Context(), form.video.tempPath)
	if probeErr != nil {
		h.logger().Warn("video duration probe failed", "error", probeErr)
		duration = 0
	}

	assetID, err := media.NewAssetID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.metrics().UploadStarted()
	videoObj, thumbObj, err := h.uploadPublishAssets(r.Context(), assetID, form)
	h.metrics().UploadFinished()
	if err != nil {
		writeRequestError(w, errUpload("store media: %v", err))
		return
	}
	if videoObj.URL == "" || thumbObj.URL == "" {
		writeRequestError(w, errUpload("media storage is not configured"))
		return
	}

	video, err := h.Store.CreateVideo(storage.CreateVideoParams{
		OwnerID:         actor.ID,
		Title:           form.title,
		Description:     form.description,
		VideoURL:        videoObj.URL,
		VideoKey:        videoObj.Key,
		ThumbnailURL:    thumbObj.URL,
		ThumbnailKey:    thumbObj.Key,
		DurationSeconds: duration,
		Published:       true,
	})
	if err != nil {
		writeRequestError(w, err)
		return
	}
	h.metrics().ObserveVideoEvent("published")
	writeJSON(w, http.StatusCreated, newVideoResponse(video), "video published")
}

func (h *Handler) readPublishForm(r *http.Request) (*publishForm, error) {
	reader, err := h.multipartReader(r)
	if err != nil {
		return nil, err
	}
	form := &publishForm{}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			form.video.cleanup()
			form.thumbnail.cleanup()
			return nil, errValidation("read multipart data: %v", err)
		}
		name := part.FormName()
		switch name {
		case "videoFile":
			if form.video != nil {
				_ = part.Close()
				continue
			}
			saved, saveErr := h.saveMultipartFile(part)
			if saveErr != nil {
				form.thumbnail.cleanup()
				return nil, saveErr
			}
			form.video = saved
		case "thumbnail":
			if form.thumbnail != nil {
				_ = part.Close()
				continue
			}
			saved, saveErr := h.saveMultipartFile(part)
			if saveErr != nil {
				form.video.cleanup()
				return nil, saveErr
			}
			form.thumbnail = saved
		case "title", "description":
			payload, readErr := io.ReadAll(part)
			_ = part.Close()
			if readErr != nil {
				form.video.cleanup()
				form.thumbnail.cleanup()
				return nil, errValidation("read form field: %v", readErr)
			}
			value := strings.TrimSpace(string(payload))
			if name == "title" {
				form.title = value
			} else {
				form.description = value
			}
		default:
			_ = part.Close()
		}
	}
	return form, nil
}

// uploadPublishAssets pushes the source file and thumbnail concurrently.
func (h *Handler) uploadPublishAssets(ctx context.Context, assetID string, form *publishForm) (media.Object, media.Object, error) {
	store := h.mediaStore()
	var videoObj, thumbObj media.Object
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		obj, err := h.uploadStagedFile(groupCtx, store, media.VideoKey(assetID, form.video.originalName), form.video)
		if err != nil {
			return fmt.Errorf("video: %w", err)
		}
		videoObj = obj
		return nil
	})
	group.Go(func() error {
		obj, err := h.uploadStagedFile(groupCtx, store, media.ThumbnailKey(assetID, form.thumbnail.originalName), form.thumbnail)
		if err != nil {
			return fmt.Errorf("thumbnail: %w", err)
		}
		thumbObj = obj
		return nil
	})
	if err := group.Wait(); err != nil {
		return media.Object{}, media.Object{}, err
	}
	return videoObj, thumbObj, nil
}

func (h *Handler) uploadStagedFile(ctx context.Context, store media.Store, key string, staged *stagedFile) (media.Object, error) {
	file, err := os.Open(staged.tempPath)
	if err != nil {
		return media.Object{}, fmt.Errorf("open staged file: %w", err)
	}
	defer file.Close()
	h.metrics().ObserveMediaOperation("upload")
	obj, err := store.Upload(ctx, key, staged.contentType, file, staged.size)
	if err != nil {
		h.metrics().ObserveMediaFailure("upload")
		return media.Object{}, err
	}
	return obj, nil
}

func (h *Handler) deleteRemoteObject(ctx context.Context, key string) error {
	h.metrics().ObserveMediaOperation("delete")
	if err := h.mediaStore().Delete(ctx, key); err != nil {
		h.metrics().ObserveMediaFailure("delete")
		return err
	}
	return nil
}

// VideoByID routes requests for a single catalog record, including the
// toggle-publish action.
func (h *Handler) VideoByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/videos/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	videoID := strings.TrimSpace(parts[0])
	if videoID == "" {
		writeRequestError(w, errValidation("video id is required"))
		return
	}
	if len(parts) > 1 {
		if len(parts) == 2 && parts[1] == "toggle-publish" {
			h.toggleVideoPublish(w, r, videoID)
			return
		}
		writeRequestError(w, errNotFound("unknown video action"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getVideo(w, r, videoID)
	case http.MethodPatch:
		h.updateVideo(w, r, videoID)
	case http.MethodDelete:
		h.deleteVideo(w, r, videoID)
	default:
		w.Header().Set("Allow", "GET, PATCH, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) getVideo(w http.ResponseWriter, r *http.Request, videoID string) {
	if _, ok := h.requireAuthenticatedUser(w, r); !ok {
		return
	}
	item, ok := h.Store.GetVideoWithOwner(videoID)
	if !ok {
		writeRequestError(w, errNotFound("video %s not found", videoID))
		return
	}
	if h.CountViews {
		if counted, err := h.Store.IncrementVideoViews(videoID); err == nil {
			item.Views = counted.Views
			h.metrics().ObserveVideoView()
		} else {
			h.logger().Warn("increment video views failed", "video_id", videoID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, newVideoWithOwnerResponse(item), "video fetched")
}

type updateVideoRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

func (h *Handler) updateVideo(w http.ResponseWriter, r *http.Request, videoID string) {
	actor, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	video, exists := h.Store.GetVideo(videoID)
	if !exists {
		writeRequestError(w, errNotFound("video %s not found", videoID))
		return
	}
	if video.OwnerID != actor.ID {
		writeRequestError(w, errAuthorization("forbidden"))
		return
	}

	contentType := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Type")))
	if strings.HasPrefix(contentType, "multipart/form-data") {
		h.updateVideoFromMultipart(w, r, video)
		return
	}

	var req updateVideoRequest
	if err := decodeJSON(r, &req); err != nil {
		writeRequestError(w, errValidation("invalid request body: %v", err))
		return
	}
	if req.Title == nil && req.Description == nil {
		writeRequestError(w, errValidation("no fields to update"))
		return
	}
	updated, err := h.Store.UpdateVideo(videoID, storage.VideoUpdate{
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		writeRequestError(w, err)
		return
	}
	h.metrics().ObserveVideoEvent("updated")
	writeJSON(w, http.StatusOK, newVideoResponse(updated), "video updated")
}

// updateVideoFromMultipart applies field updates plus an optional replacement
// thumbnail. The new thumbnail is stored before the record is updated; the old
// object is removed afterwards.
func (h *Handler) updateVideoFromMultipart(w http.ResponseWriter, r *http.Request, video models.Video) {
	reader, err := h.multipartReader(r)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	update := storage.VideoUpdate{}
	var thumbnail *stagedFile
	defer func() { thumbnail.cleanup() }()
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeRequestError(w, errValidation("read multipart data: %v", err))
			return
		}
		switch part.FormName() {
		case "thumbnail":
			if thumbnail != nil {
				_ = part.Close()
				continue
			}
			saved, saveErr := h.saveMultipartFile(part)
			if saveErr != nil {
				writeRequestError(w, saveErr)
				return
			}
			thumbnail = saved
		case "title", "description":
			name := part.FormName()
			payload, readErr := io.ReadAll(part)
			_ = part.Close()
			if readErr != nil {
				writeRequestError(w, errValidation("read form field: %v", readErr))
				return
			}
			value := strings.TrimSpace(string(payload))
			if name == "title" {
				update.Title = &value
			} else {
				update.Description = &value
			}
		default:
			_ = part.Close()
		}
	}
	if update.Title == nil && update.Description == nil && thumbnail == nil {
		writeRequestError(w, errValidation("no fields to update"))
		return
	}

	oldThumbnailKey := video.ThumbnailKey
	if thumbnail != nil {
		assetID, err := media.NewAssetID()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		obj, err := h.uploadStagedFile(r.Context(), h.mediaStore(), media.ThumbnailKey(assetID, thumbnail.originalName), thumbnail)
		if err != nil {
			writeRequestError(w, errUpload("store thumbnail: %v", err))
			return
		}
		if obj.URL == "" {
			writeRequestError(w, errUpload("media storage is not configured"))
			return
		}
		update.ThumbnailURL = &obj.URL
		update.ThumbnailKey = &obj.Key
	}

	updated, err := h.Store.UpdateVideo(video.ID, update)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	if thumbnail != nil && oldThumbnailKey != "" {
		if err := h.deleteRemoteObject(r.Context(), oldThumbnailKey); err != nil {
			if !h.LenientThumbnailCleanup {
				writeRequestError(w, errUpload("remove replaced thumbnail: %v", err))
				return
			}
			h.logger().Warn("replaced thumbnail cleanup failed", "video_id", video.ID, "key", oldThumbnailKey, "error", err)
		}
	}
	h.metrics().ObserveVideoEvent("updated")
	writeJSON(w, http.StatusOK, newVideoResponse(updated), "video updated")
}

// deleteVideo removes the remote assets first; the catalog record survives if
// any removal fails.
func (h *Handler) deleteVideo(w http.ResponseWriter, r *http.Request, videoID string) {
	actor, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	video, exists := h.Store.GetVideo(videoID)
	if !exists {
		writeRequestError(w, errNotFound("video %s not found", videoID))
		return
	}
	if video.OwnerID != actor.ID {
		writeRequestError(w, errAuthorization("forbidden"))
		return
	}

	if err := h.deleteRemoteAssets(r.Context(), video); err != nil {
		writeRequestError(w, errUpload("remove media: %v", err))
		return
	}
	if err := h.Store.DeleteVideo(videoID); err != nil {
		writeRequestError(w, err)
		return
	}
	h.metrics().ObserveVideoEvent("deleted")
	writeJSON(w, http.StatusOK, nil, "video deleted")
}

func (h *Handler) deleteRemoteAssets(ctx context.Context, video models.Video) error {
	group, groupCtx := errgroup.WithContext(ctx)
	if key := video.VideoKey; key != "" {
		group.Go(func() error {
			if err := h.deleteRemoteObject(groupCtx, key); err != nil {
				return fmt.Errorf("video: %w", err)
			}
			return nil
		})
	}
	if key := video.ThumbnailKey; key != "" {
		group.Go(func() error {
			if err := h.deleteRemoteObject(groupCtx, key); err != nil {
				return fmt.Errorf("thumbnail: %w", err)
			}
			return nil
		})
	}
	return group.Wait()
}

func (h *Handler) toggleVideoPublish(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodPatch {
		w.Header().Set("Allow", "PATCH")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	actor, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	video, exists := h.Store.GetVideo(videoID)
	if !exists {
		writeRequestError(w, errNotFound("video %s not found", videoID))
		return
	}
	if video.OwnerID != actor.ID {
		writeRequestError(w, errAuthorization("forbidden"))
		return
	}
	toggled, err := h.Store.ToggleVideoPublish(videoID)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	h.metrics().ObserveVideoEvent("publish_toggled")
	writeJSON(w, http.StatusOK, newVideoResponse(toggled), "publish state toggled")
}

func (h *Handler) multipartReader(r *http.Request) (*multipart.Reader, error) {
	maxBytes := h.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, errValidation("invalid multipart payload")
	}
	return reader, nil
}

func (h *Handler) saveMultipartFile(part *multipart.Part) (*stagedFile, error) {
	defer part.Close()
	dir := h.stagingDirectory()
	tmp, err := os.CreateTemp(dir, "staged-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer tmp.Close()
	written, err := io.Copy(tmp, part)
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, errValidation("save upload: %v", err)
	}
	return &stagedFile{
		tempPath:     tmp.Name(),
		size:         written,
		originalName: part.FileName(),
		contentType:  part.Header.Get("Content-Type"),
	}, nil
}

func (h *Handler) stagingDirectory() string {
	h.stagingDirOnce.Do(func() {
		dir := strings.TrimSpace(h.UploadStagingDir)
		if dir == "" {
			dir = filepath.Join(os.TempDir(), "clipvault-uploads")
		}
		dir = filepath.Clean(dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			dir = filepath.Join(os.TempDir(), "clipvault-uploads")
			_ = os.MkdirAll(dir, 0o755)
		}
		h.stagingDir = dir
	})
	if h.stagingDir == "" {
		return filepath.Join(os.TempDir(), "clipvault-uploads")
	}
	return h.stagingDir
}
