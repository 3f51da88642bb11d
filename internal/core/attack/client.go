package attack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/riskledger/riskledger/internal/core"
	"github.com/riskledger/riskledger/internal/core/fetch"
	"github.com/riskledger/riskledger/internal/metrics"
	"github.com/riskledger/riskledger/internal/observability"
)

const (
	// DefaultBaseURL is the public MITRE ATT&CK TAXII 2.1 server.
	DefaultBaseURL = "https://attack-taxii.mitre.org"
	// DefaultCollection is the Enterprise ATT&CK collection.
	DefaultCollection = "x-mitre-collection--1f5f1533-f617-4ca8-9ab4-6a02367fa019"

	taxiiMediaType = "application/taxii+json;version=2.1"
)

// ContentTypes is the response allow-list for TAXII object requests.
var ContentTypes = []string{
	taxiiMediaType,
	"application/stix+json;version=2.1",
	"application/json",
}

var (
	// ErrInvalidID is returned for identifiers that are not T#### or T####.###.
	ErrInvalidID = errors.New("invalid ATT&CK technique id")
	// ErrNotFound is returned when the collection has no matching technique.
	ErrNotFound = errors.New("ATT&CK technique not found")

	techniqueIDPattern = regexp.MustCompile(`^T\d{4}(\.\d{3})?$`)
)

// Fetcher issues validated outbound requests. *fetch.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts fetch.Options) (*http.Response, error)
}

// Cache stores looked-up techniques. *store.Store implements it.
type Cache interface {
	GetCachedTechnique(ctx context.Context, id string) (*core.Technique, error)
	SetCachedTechnique(ctx context.Context, technique *core.Technique, ttl time.Duration) error
}

// Client looks up techniques on a TAXII 2.1 server.
type Client struct {
	Fetcher    Fetcher
	Cache      Cache
	CacheTTL   time.Duration
	BaseURL    string
	Collection string
	UserAgent  string
	Logger     observability.Logger
}

// NormalizeID uppercases and validates a technique id.
func NormalizeID(id string) (string, error) {
	value := strings.ToUpper(strings.TrimSpace(id))
	if !techniqueIDPattern.MatchString(value) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return value, nil
}

// Technique returns the technique with the given external id, from cache when
// possible. Fetch failures are returned unchanged so callers can use
// fetch.Kind and fetch.Retryable on them.
func (c *Client) Technique(ctx context.Context, id string) (*core.Technique, error) {
	if c == nil || c.Fetcher == nil {
		return nil, errors.New("attack client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	techniqueID, err := NormalizeID(id)
	if err != nil {
		return nil, err
	}

	if c.Cache != nil {
		cached, err := c.Cache.GetCachedTechnique(ctx, techniqueID)
		if err != nil {
			c.logger().Warn("Failed to read technique cache", zap.String("technique", techniqueID), zap.Error(err))
		}
		metrics.RecordAttackCacheLookup(cached != nil)
		if cached != nil {
			return cached, nil
		}
	}

	headers := http.Header{}
	headers.Set("Accept", taxiiMediaType)
	if c.UserAgent != "" {
		headers.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.Fetcher.Fetch(ctx, c.objectsURL(techniqueID), fetch.Options{
		Headers:              headers,
		AcceptedContentTypes: ContentTypes,
	})
	if err != nil {
		var httpErr *fetch.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", techniqueID, ErrNotFound)
		}
		return nil, err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if fetch.Kind(err) != fetch.KindNone {
			return nil, err
		}
		return nil, fmt.Errorf("decode TAXII envelope: %w", err)
	}

	technique := env.technique(techniqueID)
	if technique == nil {
		return nil, fmt.Errorf("%s: %w", techniqueID, ErrNotFound)
	}

	if c.Cache != nil {
		if err := c.Cache.SetCachedTechnique(ctx, technique, c.CacheTTL); err != nil {
			c.logger().Warn("Failed to cache technique", zap.String("technique", techniqueID), zap.Error(err))
		}
	}
	return technique, nil
}

func (c *Client) objectsURL(techniqueID string) string {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	collection := strings.TrimSpace(c.Collection)
	if collection == "" {
		collection = DefaultCollection
	}

	query := url.Values{}
	query.Set("match[external_id]", techniqueID)
	query.Set("match[type]", "attack-pattern")

	return fmt.Sprintf("%s/api/v21/collections/%s/objects/?%s", base, url.PathEscape(collection), query.Encode())
}

func (c *Client) logger() observability.Logger {
	return observability.LoggerOr(c.Logger)
}
