package salesforce

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/jrsteele09/go-salesforce-proxy/internal/errors"
)

// Opportunity is the flattened read model returned to the dashboard. Field
// names follow the Salesforce API names.
type Opportunity struct {
	ID               string   `json:"Id"`
	Name             string   `json:"Name"`
	AccountID        string   `json:"AccountId"`
	AccountName      string   `json:"AccountName"`
	Amount           *float64 `json:"Amount"`
	StageName        string   `json:"StageName"`
	CloseDate        string   `json:"CloseDate"`
	Probability      *float64 `json:"Probability"`
	Type             string   `json:"Type"`
	LeadSource       string   `json:"LeadSource"`
	CreatedDate      string   `json:"CreatedDate"`
	LastModifiedDate string   `json:"LastModifiedDate"`
	OwnerID          string   `json:"OwnerId"`
	OwnerName        string   `json:"OwnerName"`
	Description      string   `json:"Description"`
	IsClosed         bool     `json:"IsClosed"`
	IsWon            bool     `json:"IsWon"`
}

type namedRelation struct {
	Name string `json:"Name"`
}

// opportunityRecord is the wire shape of a query row, with the Account and
// Owner relationships nested.
type opportunityRecord struct {
	Opportunity
	Account *namedRelation `json:"Account"`
	Owner   *namedRelation `json:"Owner"`
}

func decodeOpportunity(raw json.RawMessage) (Opportunity, error) {
	var rec opportunityRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Opportunity{}, fmt.Errorf("%w: decode opportunity: %v", apperrors.ErrUpstream, err)
	}
	opp := rec.Opportunity
	if rec.Account != nil {
		opp.AccountName = rec.Account.Name
	}
	if rec.Owner != nil {
		opp.OwnerName = rec.Owner.Name
	}
	return opp, nil
}

func decodeOpportunities(records []json.RawMessage) ([]Opportunity, error) {
	opps := make([]Opportunity, 0, len(records))
	for _, raw := range records {
		opp, err := decodeOpportunity(raw)
		if err != nil {
			return nil, err
		}
		opps = append(opps, opp)
	}
	return opps, nil
}
