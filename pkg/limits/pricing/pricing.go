package pricing

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
)

// DefaultOperation is the price applied to operations with no entry, when
// configured.
const DefaultOperation = "default"

// ErrUnknownOperation is returned for operations with no price and no
// default entry.
var ErrUnknownOperation = errors.New("unknown operation")

// ErrCostOverflow is returned when the requested result count prices above
// the largest representable credit amount.
var ErrCostOverflow = errors.New("cost exceeds the maximum credit amount")

// Price is the cost model for one operation.
type Price struct {
	// Base is charged for every call.
	Base int64 `yaml:"base"`

	// PerResults is the size of one result block. Zero disables the
	// per-results component.
	PerResults int64 `yaml:"per_results"`

	// Unit is the cost of one result block.
	Unit int64 `yaml:"unit"`

	// ResultsParam names the parameter holding the requested result count.
	// Default: "maxResults"
	ResultsParam string `yaml:"results_param"`

	// DefaultResults applies when the parameter is absent.
	DefaultResults int64 `yaml:"default_results"`

	// MaxResults caps the requested count. Zero means no cap.
	MaxResults int64 `yaml:"max_results"`
}

// Validate checks the price values.
func (p Price) Validate() error {
	if p.Base < 0 || p.Unit < 0 || p.PerResults < 0 || p.DefaultResults < 0 || p.MaxResults < 0 {
		return errors.New("price values cannot be negative")
	}
	if p.PerResults > 0 && p.Unit == 0 {
		return errors.New("unit must be positive when per_results is set")
	}
	if p.Base == 0 && p.PerResults == 0 {
		return errors.New("price must have a base or a per_results component")
	}
	return nil
}

// Quote is the computed cost of one call.
type Quote struct {
	Operation string `json:"operation"`
	Results   int64  `json:"results,omitempty"`
	Credits   int64  `json:"credits"`
}

// DefaultPrices returns the built-in price list.
func DefaultPrices() map[string]Price {
	return map[string]Price{
		"leadlove_maps":      {Base: 1, PerResults: 10, Unit: 1, ResultsParam: "maxResults", DefaultResults: 10, MaxResults: 500},
		"company_enrichment": {Base: 2},
		"contact_enrichment": {Base: 1},
		"contacts_export":    {Base: 1, PerResults: 100, Unit: 1, ResultsParam: "rows", DefaultResults: 100, MaxResults: 10000},
	}
}

// Table holds the price list. It is safe for concurrent use and supports
// replacing the prices on config reload.
type Table struct {
	mu     sync.RWMutex
	prices map[string]Price
}

// NewTable creates a table. Nil prices default to DefaultPrices.
func NewTable(prices map[string]Price) (*Table, error) {
	if prices == nil {
		prices = DefaultPrices()
	}
	t := &Table{}
	if err := t.SetPrices(prices); err != nil {
		return nil, err
	}
	return t, nil
}

// SetPrices validates and replaces the price list.
func (t *Table) SetPrices(prices map[string]Price) error {
	copied := make(map[string]Price, len(prices))
	for name, p := range prices {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("price %q: %w", name, err)
		}
		if p.ResultsParam == "" {
			p.ResultsParam = "maxResults"
		}
		copied[name] = p
	}

	t.mu.Lock()
	t.prices = copied
	t.mu.Unlock()
	return nil
}

// Operations returns the number of priced operations.
func (t *Table) Operations() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.prices)
}

// Quote computes the credit cost of operation with the given parameters.
func (t *Table) Quote(operation string, params map[string]string) (*Quote, error) {
	t.mu.RLock()
	price, ok := t.prices[operation]
	if !ok {
		price, ok = t.prices[DefaultOperation]
	}
	t.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, operation)
	}

	q := &Quote{Operation: operation, Credits: price.Base}
	if price.PerResults == 0 {
		return q, nil
	}

	results := price.DefaultResults
	if raw, ok := params[price.ResultsParam]; ok && raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid %s %q: must be a non-negative integer", price.ResultsParam, raw)
		}
		results = n
	}
	if price.MaxResults > 0 && results > price.MaxResults {
		results = price.MaxResults
	}

	blocks := results / price.PerResults
	if results%price.PerResults != 0 {
		blocks++
	}
	if blocks > (math.MaxInt64-price.Base)/price.Unit {
		return nil, fmt.Errorf("%w: %d %s for %q", ErrCostOverflow, results, price.ResultsParam, operation)
	}
	q.Results = results
	q.Credits += blocks * price.Unit
	return q, nil
}
