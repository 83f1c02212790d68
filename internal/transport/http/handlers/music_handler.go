package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	authsvc "github.com/momentic/lifeline-backend/internal/services/auth"
	musicsvc "github.com/momentic/lifeline-backend/internal/services/music"
	"github.com/momentic/lifeline-backend/internal/transport/http/dto"
	httperrors "github.com/momentic/lifeline-backend/internal/transport/http/errors"
)

type MusicHandler struct {
	music *musicsvc.Service
}

func NewMusicHandler(music *musicsvc.Service) *MusicHandler {
	return &MusicHandler{music: music}
}

func (h *MusicHandler) Search(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.music == nil {
		writeInternal(w, "MUSIC_SERVICE_UNAVAILABLE", "music service is unavailable")
		return
	}

	tracks, err := h.music.Search(r.Context(), identity.UserID, r.URL.Query().Get("q"))
	if err != nil {
		h.writeMusicError(w, err, "failed to search tracks")
		return
	}

	resp := dto.MusicSearchResponse{Tracks: make([]dto.Track, 0, len(tracks))}
	for _, track := range tracks {
		resp.Tracks = append(resp.Tracks, mapTrack(track))
	}

	httperrors.Write(w, http.StatusOK, resp)
}

func (h *MusicHandler) TrackDetails(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.music == nil {
		writeInternal(w, "MUSIC_SERVICE_UNAVAILABLE", "music service is unavailable")
		return
	}

	track, err := h.music.TrackDetails(r.Context(), identity.UserID, chi.URLParam(r, "trackID"))
	if err != nil {
		h.writeMusicError(w, err, "failed to load track details")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.MusicTrackResponse{Track: mapTrack(track)})
}

func (h *MusicHandler) writeMusicError(w http.ResponseWriter, err error, fallback string) {
	var limited *musicsvc.RateLimitedError
	switch {
	case errors.Is(err, musicsvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "invalid music request")
	case errors.As(err, &limited):
		writeRateLimited(w, limited.RetryAfterSec)
	case errors.Is(err, musicsvc.ErrUpstream):
		httperrors.Write(w, http.StatusBadGateway, httperrors.APIError{
			Code:    "UPSTREAM_UNAVAILABLE",
			Message: "music catalog is temporarily unavailable",
		})
	default:
		writeInternal(w, "INTERNAL_ERROR", fallback)
	}
}

func mapTrack(track musicsvc.Track) dto.Track {
	return dto.Track{
		ID:          track.ID,
		Name:        track.Name,
		Artist:      track.Artist,
		AlbumArtURL: track.AlbumArtURL,
		TrackURL:    track.TrackURL,
	}
}
