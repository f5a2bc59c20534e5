package salesforce

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/jrsteele09/go-salesforce-proxy/internal/errors"
	"github.com/jrsteele09/go-salesforce-proxy/salesforce/soql"
	"github.com/rs/zerolog/log"
)

// maxQueryPages bounds how many nextRecordsUrl hops a single query follows.
const maxQueryPages = 10

type queryResponse struct {
	TotalSize      int               `json:"totalSize"`
	Done           bool              `json:"done"`
	NextRecordsURL string            `json:"nextRecordsUrl"`
	Records        []json.RawMessage `json:"records"`
}

// Query runs a read-only SOQL statement using only the bundle's access token
// and instance URL, following result pages until the provider reports done.
func (c *Connector) Query(ctx context.Context, bundle TokenBundle, statement string) ([]json.RawMessage, error) {
	if !bundle.Complete() {
		return nil, apperrors.ErrNotAuthenticated
	}
	if err := c.CheckInstanceURL(bundle.InstanceURL); err != nil {
		return nil, err
	}

	rc := c.restClient(bundle.InstanceURL)
	path := fmt.Sprintf("/services/data/%s/query", c.apiVersion)
	params := map[string]string{"q": statement}

	var records []json.RawMessage
	done, total := false, 0
	for page := 0; page < maxQueryPages && !done; page++ {
		var result queryResponse
		var apiErrs []apiError
		req := rc.R().
			SetContext(ctx).
			SetAuthToken(bundle.AccessToken).
			SetResult(&result).
			SetError(&apiErrs)
		if params != nil {
			req.SetQueryParams(params)
		}
		resp, err := req.Get(path)
		if err := checkResponse("query", resp, err, apperrors.ErrQuery); err != nil {
			return nil, err
		}

		records = append(records, result.Records...)
		done, total = result.Done || result.NextRecordsURL == "", result.TotalSize
		path, params = result.NextRecordsURL, nil
	}
	if !done {
		log.Warn().
			Int("returned", len(records)).
			Int("total_size", total).
			Int("dropped", total-len(records)).
			Msg("Query result truncated after the page limit")
	}
	return records, nil
}

// QueryOpportunities lists opportunities matching filter.
func (c *Connector) QueryOpportunities(ctx context.Context, bundle TokenBundle, filter soql.OpportunityFilter) ([]Opportunity, error) {
	statement, err := filter.Build()
	if err != nil {
		return nil, err
	}
	records, err := c.Query(ctx, bundle, statement)
	if err != nil {
		return nil, err
	}
	return decodeOpportunities(records)
}

// GetOpportunity loads a single opportunity, returning ErrNotFound when the
// query matches nothing.
func (c *Connector) GetOpportunity(ctx context.Context, bundle TokenBundle, id string) (Opportunity, error) {
	statement, err := soql.OpportunityByID(id)
	if err != nil {
		return Opportunity{}, err
	}
	records, err := c.Query(ctx, bundle, statement)
	if err != nil {
		return Opportunity{}, err
	}
	if len(records) == 0 {
		return Opportunity{}, fmt.Errorf("opportunity %s: %w", id, apperrors.ErrNotFound)
	}
	return decodeOpportunity(records[0])
}
