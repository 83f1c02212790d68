package dto

import "time"

type PurchaseVerifyRequest struct {
	Platform  string `json:"platform"`
	Receipt   string `json:"receipt"`
	ProductID string `json:"product_id"`
}

type PurchaseVerifyResponse struct {
	IsPremium     bool      `json:"is_premium"`
	PremiumUntil  time.Time `json:"premium_until"`
	TransactionID string    `json:"transaction_id,omitempty"`
}

type EntitlementsResponse struct {
	IsPremium        bool       `json:"is_premium"`
	PremiumExpiresAt *time.Time `json:"premium_expires_at,omitempty"`
}

type Track struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Artist      string `json:"artist"`
	AlbumArtURL string `json:"album_art_url,omitempty"`
	TrackURL    string `json:"track_url"`
}

type MusicSearchResponse struct {
	Tracks []Track `json:"tracks"`
}

type MusicTrackResponse struct {
	Track Track `json:"track"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
