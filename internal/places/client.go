package places

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

	"golang.org/x/text/unicode/norm"

	"github.com/ca-srg/placesweep/internal/types"
)

const (
	// DefaultBaseURL is the public Google Maps Platform host.
	DefaultBaseURL = "https://maps.googleapis.com"

	nearbySearchPath = "/maps/api/place/nearbysearch/json"

	// MapsPlaceURLPrefix is joined with a place ID to build its canonical map link.
	MapsPlaceURLPrefix = "https://www.google.com/maps/place/?q=place_id:"

	// MissingRatingSentinel is the rating reported for places the API returned without one.
	// It sits at the top of the 1-5 scale so an unrated place is never treated as low-rated.
	MissingRatingSentinel = 5.0

	unknownName    = "Unknown"
	unknownAddress = "N/A"
)

// API status values returned in the "status" field of a nearby search response.
const (
	StatusOK             = "OK"
	StatusZeroResults    = "ZERO_RESULTS"
	StatusOverQueryLimit = "OVER_QUERY_LIMIT"
	StatusRequestDenied  = "REQUEST_DENIED"
	StatusInvalidRequest = "INVALID_REQUEST"
	StatusUnknownError   = "UNKNOWN_ERROR"
)

// NearbyRequest describes one nearby search page request.
type NearbyRequest struct {
	Location  types.Coordinate
	Radius    float64
	Category  string
	PageToken string
}

// NearbyAPI is the subset of the Places API used by the Searcher.
type NearbyAPI interface {
	NearbySearch(ctx context.Context, req NearbyRequest) (*types.SearchPage, error)
}

// Client calls the Places Nearby Search web service.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type nearbyResponse struct {
	Status        string      `json:"status"`
	ErrorMessage  string      `json:"error_message"`
	Results       []rawRecord `json:"results"`
	NextPageToken string      `json:"next_page_token"`
}

type rawRecord struct {
	PlaceID          string   `json:"place_id"`
	Name             *string  `json:"name"`
	Rating           *float64 `json:"rating"`
	UserRatingsTotal int      `json:"user_ratings_total"`
	Vicinity         *string  `json:"vicinity"`
	Geometry         struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
}

// NewClient creates a new Places API client
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// NearbySearch requests a single page of results.
func (c *Client) NearbySearch(ctx context.Context, req NearbyRequest) (*types.SearchPage, error) {
	params := url.Values{}
	params.Set("key", c.apiKey)
	if req.PageToken != "" {
		params.Set("pagetoken", req.PageToken)
	} else {
		params.Set("location", req.Location.String())
		params.Set("radius", strconv.FormatFloat(req.Radius, 'f', -1, 64))
		if req.Category != "" {
			params.Set("type", req.Category)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+nearbySearchPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newHTTPError(resp.StatusCode, string(body))
	}

	var parsed nearbyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to parse response: %v", err),
			retryable:  true,
		}
	}

	switch parsed.Status {
	case StatusOK, StatusZeroResults:
	default:
		return nil, newStatusError(parsed.Status, parsed.ErrorMessage, req.PageToken != "")
	}

	page := &types.SearchPage{
		Results:       make([]types.Place, 0, len(parsed.Results)),
		NextPageToken: parsed.NextPageToken,
	}
	for _, raw := range parsed.Results {
		place, ok := toPlace(raw)
		if !ok {
			continue
		}
		page.Results = append(page.Results, place)
	}
	return page, nil
}

// MapURL derives the canonical map link of a place.
func MapURL(placeID string) string {
	return MapsPlaceURLPrefix + placeID
}

// EffectiveRating returns the place rating, or MissingRatingSentinel when the API supplied none.
func EffectiveRating(p types.Place) float64 {
	if p.Rating == nil {
		return MissingRatingSentinel
	}
	return *p.Rating
}

// toPlace translates a raw record. Records without an identifier cannot be deduplicated and are dropped.
func toPlace(raw rawRecord) (types.Place, bool) {
	id := strings.TrimSpace(raw.PlaceID)
	if id == "" {
		return types.Place{}, false
	}

	name := unknownName
	if raw.Name != nil {
		if n := norm.NFC.String(strings.TrimSpace(*raw.Name)); n != "" {
			name = n
		}
	}

	address := unknownAddress
	if raw.Vicinity != nil {
		if v := norm.NFC.String(strings.TrimSpace(*raw.Vicinity)); v != "" {
			address = v
		}
	}

	var rating *float64
	if raw.Rating != nil {
		r := *raw.Rating
		rating = &r
	}

	return types.Place{
		ID:               id,
		Name:             name,
		Rating:           rating,
		UserRatingsTotal: raw.UserRatingsTotal,
		Address:          address,
		MapURL:           MapURL(id),
		Location: types.Coordinate{
			Latitude:  raw.Geometry.Location.Lat,
			Longitude: raw.Geometry.Location.Lng,
		},
	}, true
}
