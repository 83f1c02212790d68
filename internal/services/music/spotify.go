package music

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/momentic/lifeline-backend/internal/pkg/tokencache"
)

const searchPageSize = 20

// Track is the track shape exposed to clients. AlbumArtURL is empty when the
// album carries no images.
type Track struct {
	ID          string
	Name        string
	Artist      string
	AlbumArtURL string
	TrackURL    string
}

// SpotifyClient resolves searches and track lookups against the Spotify Web
// API with an app-level client-credentials token. The token is cached and
// refreshed transparently.
type SpotifyClient struct {
	httpClient *http.Client
	tokens     tokencache.Source
	apiBase    string
}

type SpotifyConfig struct {
	AccountsURL  string
	APIBase      string
	ClientID     string
	ClientSecret string
}

func NewSpotifyClient(httpClient *http.Client, cfg SpotifyConfig) *SpotifyClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &SpotifyClient{
		httpClient: httpClient,
		apiBase:    strings.TrimRight(cfg.APIBase, "/"),
	}
	c.tokens = tokencache.NewCached(func(ctx context.Context) (string, time.Time, error) {
		return fetchClientCredentialsToken(ctx, httpClient, cfg)
	})

	return c
}

type spotifyTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func fetchClientCredentialsToken(ctx context.Context, httpClient *http.Client, cfg SpotifyConfig) (string, time.Time, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return "", time.Time{}, fmt.Errorf("spotify credentials are not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.AccountsURL,
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	basic := base64.StdEncoding.EncodeToString([]byte(cfg.ClientID + ":" + cfg.ClientSecret))
	req.Header.Set("Authorization", "Basic "+basic)

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("call spotify token endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("spotify token endpoint status %d", resp.StatusCode)
	}

	var payload spotifyTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("spotify token response without access token")
	}

	return payload.AccessToken, time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second), nil
}

type spotifyTrack struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
	} `json:"album"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
}

type spotifySearchResponse struct {
	Tracks struct {
		Items []spotifyTrack `json:"items"`
	} `json:"tracks"`
}

func (c *SpotifyClient) SearchTracks(ctx context.Context, query string) ([]Track, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("type", "track")
	params.Set("limit", fmt.Sprintf("%d", searchPageSize))

	var payload spotifySearchResponse
	if err := c.get(ctx, c.apiBase+"/search?"+params.Encode(), &payload); err != nil {
		return nil, err
	}

	tracks := make([]Track, 0, len(payload.Tracks.Items))
	for _, item := range payload.Tracks.Items {
		tracks = append(tracks, mapTrack(item))
	}

	return tracks, nil
}

func (c *SpotifyClient) TrackDetails(ctx context.Context, trackID string) (Track, error) {
	var payload spotifyTrack
	if err := c.get(ctx, c.apiBase+"/tracks/"+url.PathEscape(trackID), &payload); err != nil {
		return Track{}, err
	}

	return mapTrack(payload), nil
}

func (c *SpotifyClient) get(ctx context.Context, endpoint string, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("resolve spotify token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build spotify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call spotify api: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("spotify api status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode spotify response: %w", err)
	}

	return nil
}

func mapTrack(item spotifyTrack) Track {
	artists := make([]string, 0, len(item.Artists))
	for _, a := range item.Artists {
		artists = append(artists, a.Name)
	}

	track := Track{
		ID:       item.ID,
		Name:     item.Name,
		Artist:   strings.Join(artists, ", "),
		TrackURL: item.ExternalURLs.Spotify,
	}
	if len(item.Album.Images) > 0 {
		track.AlbumArtURL = item.Album.Images[0].URL
	}

	return track
}
