package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/siherrmann/resolver/core/retry"
	"github.com/siherrmann/resolver/model"
)

const DefaultWikidataEndpoint = "https://www.wikidata.org/w/api.php"

// WikidataClient searches Wikidata items with the wbsearchentities action.
type WikidataClient struct {
	Endpoint   string
	Language   string
	Limit      int
	UserAgent  string
	HTTPClient *http.Client
}

var _ Client = (*WikidataClient)(nil)

// NewWikidataClient creates a client for the public Wikidata API.
func NewWikidataClient() *WikidataClient {
	return &WikidataClient{
		Endpoint:   DefaultWikidataEndpoint,
		Language:   "en",
		Limit:      5,
		UserAgent:  "resolver/1.0 (https://github.com/siherrmann/resolver)",
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
	}
}

type wikidataSearchResponse struct {
	Search []struct {
		ID          string   `json:"id"`
		Label       string   `json:"label"`
		Description string   `json:"description"`
		Aliases     []string `json:"aliases"`
		ConceptURI  string   `json:"concepturi"`
		Match       struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"match"`
	} `json:"search"`
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

// Search returns the Wikidata items matching name. Wikidata ranks by label match,
// the context text and entity type are not sent.
func (c *WikidataClient) Search(ctx context.Context, name string, contextText string, entityType model.EntityType) ([]model.Candidate, error) {
	params := url.Values{}
	params.Set("action", "wbsearchentities")
	params.Set("search", name)
	params.Set("language", c.Language)
	params.Set("uselang", c.Language)
	params.Set("type", "item")
	params.Set("format", "json")
	params.Set("limit", strconv.Itoa(c.Limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wikidata request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read wikidata response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("wikidata returned status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	var parsed wikidataSearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to parse wikidata response: %w", err))
	}
	if parsed.Error != nil {
		return nil, retry.Permanent(fmt.Errorf("wikidata error %s: %s", parsed.Error.Code, parsed.Error.Info))
	}

	candidates := make([]model.Candidate, 0, len(parsed.Search))
	for _, hit := range parsed.Search {
		candidate := model.Candidate{
			CanonicalID: hit.ID,
			Label:       hit.Label,
			Description: hit.Description,
			Aliases:     hit.Aliases,
			Attributes:  model.Metadata{},
		}
		if hit.ConceptURI != "" {
			candidate.Attributes["concept_uri"] = hit.ConceptURI
		}
		if hit.Match.Type == "alias" && hit.Match.Text != "" && !contains(candidate.Aliases, hit.Match.Text) {
			candidate.Aliases = append(candidate.Aliases, hit.Match.Text)
		}
		if candidate.Label == "" {
			candidate.Label = hit.Match.Text
		}
		candidates = append(candidates, candidate)
	}

	return candidates, nil
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
