package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultNominatimURL = "https://nominatim.openstreetmap.org"
	defaultTimeout      = 10 * time.Second
	maxResponseBytes    = 1 << 20
)

// Nominatim queries an OpenStreetMap Nominatim search endpoint.
type Nominatim struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

type nominatimPlace struct {
	Lat        string  `json:"lat"`
	Lon        string  `json:"lon"`
	Importance float64 `json:"importance"`
}

// NewNominatim builds a client. Nominatim's usage policy requires an
// identifying user agent.
func NewNominatim(baseURL, userAgent string, client *http.Client) *Nominatim {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Nominatim{
		baseURL:   baseURL,
		userAgent: strings.TrimSpace(userAgent),
		client:    client,
	}
}

func (n *Nominatim) Geocode(ctx context.Context, q Query) (Result, error) {
	text := q.Text()
	if text == "" {
		return Result{}, ErrNoMatch
	}

	params := url.Values{}
	params.Set("q", text)
	params.Set("format", "jsonv2")
	params.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("build geocode request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if n.userAgent != "" {
		req.Header.Set("User-Agent", n.userAgent)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("read geocode response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("geocode service status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return Result{}, fmt.Errorf("decode geocode response: %w", err)
	}
	if len(places) == 0 {
		return Result{}, ErrNoMatch
	}

	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return Result{}, fmt.Errorf("parse latitude %q: %w", places[0].Lat, err)
	}
	lng, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return Result{}, fmt.Errorf("parse longitude %q: %w", places[0].Lon, err)
	}

	return Result{Lat: lat, Lng: lng, Confidence: clamp01(places[0].Importance)}, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
