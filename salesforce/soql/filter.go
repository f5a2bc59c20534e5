package soql

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/go-salesforce-proxy/internal/errors"
	"github.com/jrsteele09/go-salesforce-proxy/internal/utils"
)

// Field is a column the opportunity list may be ordered by.
type Field string

const (
	FieldCreatedDate      Field = "CreatedDate"
	FieldCloseDate        Field = "CloseDate"
	FieldAmount           Field = "Amount"
	FieldName             Field = "Name"
	FieldLastModifiedDate Field = "LastModifiedDate"
)

var orderableFields = []Field{FieldCreatedDate, FieldCloseDate, FieldAmount, FieldName, FieldLastModifiedDate}

type Direction string

const (
	Ascending  Direction = "ASC"
	Descending Direction = "DESC"
)

const (
	DefaultLimit = 1000
	MaxLimit     = 1000
)

// Query string keys understood by the parser.
const (
	ParamStageNames      = "stageNames"
	ParamStageNamesArray = "stageNames[]"
	ParamMinAmount       = "minAmount"
	ParamFromDate        = "fromDate"
	ParamOrderBy         = "orderBy"
	ParamOrder           = "order"
	ParamLimit           = "limit"
)

// OpportunityFields is the projection used for every opportunity query.
var OpportunityFields = []string{
	"Id", "Name", "AccountId", "Account.Name", "Amount", "StageName", "CloseDate",
	"Probability", "Type", "LeadSource", "CreatedDate", "LastModifiedDate",
	"OwnerId", "Owner.Name", "Description", "IsClosed", "IsWon",
}

// OpportunityFilter is the typed form of the dashboard's filter options.
type OpportunityFilter struct {
	StageNames []string
	MinAmount  *float64
	FromDate   *time.Time
	OrderBy    Field
	Direction  Direction
	Limit      int
}

// Parser turns request query values into an OpportunityFilter. An empty stage
// allow-list accepts any stage name, which is then escaped.
type Parser struct {
	stages map[string]struct{}
}

func NewParser(stageAllowlist []string) *Parser {
	p := &Parser{}
	if len(stageAllowlist) > 0 {
		p.stages = make(map[string]struct{}, len(stageAllowlist))
		for _, s := range stageAllowlist {
			if s = strings.TrimSpace(s); s != "" {
				p.stages[s] = struct{}{}
			}
		}
	}
	return p
}

// Parse validates every option. Errors wrap ErrQuery.
func (p *Parser) Parse(values url.Values) (OpportunityFilter, error) {
	var f OpportunityFilter

	stages, err := p.parseStages(values)
	if err != nil {
		return f, err
	}
	f.StageNames = stages

	if raw := strings.TrimSpace(values.Get(ParamMinAmount)); raw != "" {
		amount, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) {
			return f, fmt.Errorf("%w: minAmount must be a number", apperrors.ErrQuery)
		}
		f.MinAmount = utils.Ptr(amount)
	}

	if raw := strings.TrimSpace(values.Get(ParamFromDate)); raw != "" {
		from, err := parseDate(raw)
		if err != nil {
			return f, err
		}
		f.FromDate = utils.Ptr(from)
	}

	if raw := strings.TrimSpace(values.Get(ParamOrderBy)); raw != "" {
		field, ok := lookupField(raw)
		if !ok {
			return f, fmt.Errorf("%w: cannot order by %q", apperrors.ErrQuery, raw)
		}
		f.OrderBy = field
	}

	switch strings.ToLower(strings.TrimSpace(values.Get(ParamOrder))) {
	case "":
	case "asc":
		f.Direction = Ascending
	case "desc":
		f.Direction = Descending
	default:
		return f, fmt.Errorf("%w: order must be asc or desc", apperrors.ErrQuery)
	}

	if raw := strings.TrimSpace(values.Get(ParamLimit)); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > MaxLimit {
			return f, fmt.Errorf("%w: limit must be between 1 and %d", apperrors.ErrQuery, MaxLimit)
		}
		f.Limit = limit
	}

	return f, nil
}

func (p *Parser) parseStages(values url.Values) ([]string, error) {
	var raw []string
	raw = append(raw, values[ParamStageNamesArray]...)
	for _, v := range values[ParamStageNames] {
		raw = append(raw, strings.Split(v, ",")...)
	}

	seen := make(map[string]struct{}, len(raw))
	var stages []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		if p.stages != nil {
			if _, ok := p.stages[s]; !ok {
				return nil, fmt.Errorf("%w: unknown stage %q", apperrors.ErrQuery, s)
			}
		}
		seen[s] = struct{}{}
		stages = append(stages, s)
	}
	return stages, nil
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: fromDate must be an ISO 8601 date", apperrors.ErrQuery)
}

func lookupField(name string) (Field, bool) {
	for _, f := range orderableFields {
		if strings.EqualFold(string(f), name) {
			return f, true
		}
	}
	return "", false
}

// Build renders the SOQL statement for f.
func (f OpportunityFilter) Build() (string, error) {
	var where []string

	if len(f.StageNames) > 0 {
		quoted := make([]string, 0, len(f.StageNames))
		for _, s := range f.StageNames {
			q, err := Quote(s)
			if err != nil {
				return "", err
			}
			quoted = append(quoted, q)
		}
		where = append(where, "StageName IN ("+strings.Join(quoted, ", ")+")")
	}
	if f.MinAmount != nil {
		amount := utils.Value(f.MinAmount)
		if math.IsNaN(amount) || math.IsInf(amount, 0) {
			return "", fmt.Errorf("%w: minAmount must be a number", apperrors.ErrQuery)
		}
		where = append(where, "Amount >= "+strconv.FormatFloat(amount, 'f', -1, 64))
	}
	if f.FromDate != nil {
		where = append(where, "CreatedDate >= "+utils.Value(f.FromDate).UTC().Format("2006-01-02T15:04:05Z"))
	}

	orderBy := f.OrderBy
	if orderBy == "" {
		orderBy = FieldCreatedDate
	}
	if _, ok := lookupField(string(orderBy)); !ok {
		return "", fmt.Errorf("%w: cannot order by %q", apperrors.ErrQuery, orderBy)
	}
	direction := f.Direction
	switch direction {
	case "":
		direction = Descending
	case Ascending, Descending:
	default:
		return "", fmt.Errorf("%w: bad direction %q", apperrors.ErrQuery, direction)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(OpportunityFields, ", "))
	b.WriteString(" FROM Opportunity")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY %s %s LIMIT %d", orderBy, direction, limit)
	return b.String(), nil
}

// OpportunityByID renders the single-record lookup.
func OpportunityByID(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT %s FROM Opportunity WHERE Id = '%s' LIMIT 1", strings.Join(OpportunityFields, ", "), id), nil
}
