package export

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	opensearch "github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"
	requestsigner "github.com/opensearch-project/opensearch-go/v4/signer/awsv2"

	"github.com/ca-srg/placesweep/internal/places"
)

const opensearchBatchSize = 500

// OpenSearchConfig configures OpenSearchSink.
type OpenSearchConfig struct {
	Endpoint        string
	Index           string
	Region          string
	SigV4           bool
	InsecureSkipTLS bool
	RequestTimeout  time.Duration
}

// OpenSearchSink indexes every place as a document keyed by place ID, so repeated
// runs update documents in place.
type OpenSearchSink struct {
	client *opensearchapi.Client
	index  string
	logger *log.Logger
}

// NewOpenSearchSink creates an OpenSearchSink. With SigV4 set, requests are signed
// for Amazon OpenSearch Service using the default AWS credential chain.
func NewOpenSearchSink(ctx context.Context, cfg OpenSearchConfig, logger *log.Logger) (*OpenSearchSink, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("index is required")
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = log.New(os.Stdout, "export ", log.LstdFlags)
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipTLS,
		},
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
	}

	clientCfg := opensearch.Config{
		Addresses: []string{cfg.Endpoint},
		Transport: transport,
	}
	if cfg.SigV4 {
		awsConfig, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		signer, err := requestsigner.NewSignerWithService(awsConfig, "es")
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS signer: %w", err)
		}
		clientCfg.Signer = signer
	}

	client, err := opensearchapi.NewClient(opensearchapi.Config{Client: clientCfg})
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenSearch client: %w", err)
	}

	return &OpenSearchSink{client: client, index: cfg.Index, logger: logger}, nil
}

func (s *OpenSearchSink) Name() string { return "opensearch" }

func (s *OpenSearchSink) Export(ctx context.Context, ds Dataset) error {
	if err := s.ensureIndex(ctx); err != nil {
		return err
	}

	lowRated := make(map[string]bool, len(ds.LowRated))
	for _, p := range ds.LowRated {
		lowRated[p.ID] = true
	}

	indexedAt := time.Now().UTC().Format(time.RFC3339)
	docs := make([]placeDocument, 0, len(ds.All))
	for _, p := range ds.All {
		doc := placeDocument{
			PlaceID:          p.ID,
			Name:             p.Name,
			Rating:           p.Rating,
			EffectiveRating:  places.EffectiveRating(p),
			UserRatingsTotal: p.UserRatingsTotal,
			Address:          p.Address,
			URL:              p.MapURL,
			Location:         geoPoint{Lat: p.Location.Latitude, Lon: p.Location.Longitude},
			LowRated:         lowRated[p.ID],
			Area:             ds.Area,
			RunID:            ds.RunID,
			IndexedAt:        indexedAt,
		}
		docs = append(docs, doc)
	}

	for start := 0; start < len(docs); start += opensearchBatchSize {
		end := start + opensearchBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		if err := s.bulkIndex(ctx, docs[start:end]); err != nil {
			return fmt.Errorf("failed to index batch %d-%d: %w", start, end-1, err)
		}
	}

	s.logger.Printf("Indexed %d places into OpenSearch index %s", len(docs), s.index)
	return nil
}

type geoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type placeDocument struct {
	PlaceID          string   `json:"place_id"`
	Name             string   `json:"name"`
	Rating           *float64 `json:"rating,omitempty"`
	EffectiveRating  float64  `json:"effective_rating"`
	UserRatingsTotal int      `json:"user_ratings_total"`
	Address          string   `json:"address"`
	URL              string   `json:"url"`
	Location         geoPoint `json:"location"`
	LowRated         bool     `json:"low_rated"`
	Area             string   `json:"area,omitempty"`
	RunID            string   `json:"run_id,omitempty"`
	IndexedAt        string   `json:"indexed_at"`
}

func indexMapping() map[string]interface{} {
	return map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"place_id":           map[string]interface{}{"type": "keyword"},
				"name":               map[string]interface{}{"type": "text", "fields": map[string]interface{}{"keyword": map[string]interface{}{"type": "keyword", "ignore_above": 256}}},
				"rating":             map[string]interface{}{"type": "float"},
				"effective_rating":   map[string]interface{}{"type": "float"},
				"user_ratings_total": map[string]interface{}{"type": "integer"},
				"address":            map[string]interface{}{"type": "text"},
				"url":                map[string]interface{}{"type": "keyword", "index": false},
				"location":           map[string]interface{}{"type": "geo_point"},
				"low_rated":          map[string]interface{}{"type": "boolean"},
				"area":               map[string]interface{}{"type": "keyword"},
				"run_id":             map[string]interface{}{"type": "keyword"},
				"indexed_at":         map[string]interface{}{"type": "date"},
			},
		},
	}
}

func (s *OpenSearchSink) ensureIndex(ctx context.Context) error {
	resp, err := s.client.Indices.Exists(ctx, opensearchapi.IndicesExistsReq{Indices: []string{s.index}})
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusOK:
			return nil
		case http.StatusNotFound:
			err = nil
		}
	}
	if err != nil {
		return fmt.Errorf("failed to check index %s: %w", s.index, err)
	}

	bodyJSON, err := json.Marshal(indexMapping())
	if err != nil {
		return fmt.Errorf("failed to marshal index settings: %w", err)
	}

	_, err = s.client.Indices.Create(ctx, opensearchapi.IndicesCreateReq{
		Index: s.index,
		Body:  strings.NewReader(string(bodyJSON)),
	})
	if err != nil && !strings.Contains(err.Error(), "resource_already_exists_exception") {
		return fmt.Errorf("failed to create index %s: %w", s.index, err)
	}

	s.logger.Printf("Created OpenSearch index %s", s.index)
	return nil
}

func (s *OpenSearchSink) bulkIndex(ctx context.Context, docs []placeDocument) error {
	var body strings.Builder
	for _, doc := range docs {
		action := map[string]interface{}{
			"index": map[string]interface{}{
				"_index": s.index,
				"_id":    doc.PlaceID,
			},
		}
		actionJSON, err := json.Marshal(action)
		if err != nil {
			return fmt.Errorf("failed to marshal bulk action: %w", err)
		}
		docJSON, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal document %s: %w", doc.PlaceID, err)
		}
		body.Write(actionJSON)
		body.WriteByte('\n')
		body.Write(docJSON)
		body.WriteByte('\n')
	}

	resp, err := s.client.Bulk(ctx, opensearchapi.BulkReq{Body: strings.NewReader(body.String())})
	if err != nil {
		return fmt.Errorf("bulk request failed: %w", err)
	}
	if resp == nil || !resp.Errors {
		return nil
	}

	var failed []string
	for _, item := range resp.Items {
		for _, result := range item {
			if result.Status >= 300 {
				failed = append(failed, fmt.Sprintf("%s (status %d)", result.ID, result.Status))
			}
		}
	}
	return fmt.Errorf("bulk request had %d failed documents: %s", len(failed), strings.Join(failed, ", "))
}
