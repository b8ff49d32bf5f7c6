// Package universe manages the instrument universe: the internal records
// that resolution runs resolve into broker contracts.
package universe

import (
	"strings"
	"time"

	"github.com/aristath/scout/internal/domain"
)

// Instrument is one row of the instrument universe.
type Instrument struct {
	ISIN      string    `json:"isin,omitempty"`
	Ticker    string    `json:"ticker"`
	Name      string    `json:"name"`
	Currency  string    `json:"currency"`
	Sector    *string   `json:"sector,omitempty"`
	Country   *string   `json:"country,omitempty"`
	Priority  float64   `json:"priority"`
	Quantity  *float64  `json:"quantity,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Query converts the instrument into the immutable query the resolution
// pipeline consumes.
func (i *Instrument) Query() domain.InstrumentQuery {
	query := domain.InstrumentQuery{
		Ticker:            strings.TrimSpace(i.Ticker),
		Name:              strings.TrimSpace(i.Name),
		Currency:          strings.ToUpper(strings.TrimSpace(i.Currency)),
		Sector:            i.Sector,
		Country:           i.Country,
		RequestedQuantity: i.Quantity,
	}
	if isin := strings.ToUpper(strings.TrimSpace(i.ISIN)); isin != "" {
		query.ISIN = &isin
	}
	return query
}
