// Package holdings loads fund holdings datasets and filters them by date.
//
// A Dataset is loaded fresh for every request and owned by that request; the
// package keeps no shared state.
package holdings

import "github.com/sawpanic/arkholdings/internal/ticker"

// Column names, in projection order.
const (
	ColDate        = "date"
	ColTicker      = "ticker"
	ColCusip       = "cusip"
	ColCompany     = "company"
	ColMarketValue = "market_value"
	ColShares      = "shares"
	ColSharePrice  = "share_price"
	ColWeight      = "weight"
)

// Columns lists the schema in projection order.
var Columns = []string{
	ColDate, ColTicker, ColCusip, ColCompany,
	ColMarketValue, ColShares, ColSharePrice, ColWeight,
}

// Row is one (date, holding) observation. Nil fields are null cells.
type Row struct {
	Date        *Date
	Ticker      *string
	Cusip       *string
	Company     *string
	MarketValue *int64
	Shares      *int64
	SharePrice  *float64
	Weight      *float64
}

// Dataset is the full set of holdings rows for one fund. Rows keep the order
// they had on disk.
type Dataset struct {
	Ticker ticker.Ticker
	Rows   []Row
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}
