// Package projection renders holdings datasets as JSON row objects.
package projection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/sawpanic/arkholdings/internal/holdings"
)

// Record is the wire form of one row. Field order matches holdings.Columns.
type Record struct {
	Date        *holdings.Date `json:"date"`
	Ticker      *string        `json:"ticker"`
	Cusip       *string        `json:"cusip"`
	Company     *string        `json:"company"`
	MarketValue *int64         `json:"market_value"`
	Shares      *int64         `json:"shares"`
	SharePrice  *float64       `json:"share_price"`
	Weight      *float64       `json:"weight"`
}

// SerializationError reports a cell that cannot be represented faithfully.
type SerializationError struct {
	Row    int
	Column string
	Reason string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize row %d column %s: %s", e.Row, e.Column, e.Reason)
}

// JSON renders ds as a JSON array. A nil or empty dataset renders as [].
// Output is deterministic for a given dataset.
func JSON(ds *holdings.Dataset) ([]byte, error) {
	records, err := Records(ds)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Records converts ds to wire records, validating every cell.
func Records(ds *holdings.Dataset) ([]Record, error) {
	records := make([]Record, 0, ds.Len())
	if ds == nil {
		return records, nil
	}
	for i, row := range ds.Rows {
		if err := validate(i, row); err != nil {
			return nil, err
		}
		records = append(records, Record{
			Date:        row.Date,
			Ticker:      row.Ticker,
			Cusip:       row.Cusip,
			Company:     row.Company,
			MarketValue: row.MarketValue,
			Shares:      row.Shares,
			SharePrice:  row.SharePrice,
			Weight:      row.Weight,
		})
	}
	return records, nil
}

func validate(i int, row holdings.Row) error {
	for _, c := range []struct {
		name string
		v    *string
	}{
		{holdings.ColTicker, row.Ticker},
		{holdings.ColCusip, row.Cusip},
		{holdings.ColCompany, row.Company},
	} {
		if c.v != nil && !utf8.ValidString(*c.v) {
			return &SerializationError{Row: i, Column: c.name, Reason: "invalid UTF-8"}
		}
	}
	for _, c := range []struct {
		name string
		v    *float64
	}{
		{holdings.ColSharePrice, row.SharePrice},
		{holdings.ColWeight, row.Weight},
	} {
		if c.v != nil && (math.IsNaN(*c.v) || math.IsInf(*c.v, 0)) {
			return &SerializationError{Row: i, Column: c.name, Reason: "non-finite number"}
		}
	}
	return nil
}

// Decode parses output of JSON back into records.
func Decode(b []byte) ([]Record, error) {
	var records []Record
	if err := json.Unmarshal(b, &records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return records, nil
}

// Dataset rebuilds a dataset from records.
func Dataset(records []Record) *holdings.Dataset {
	ds := &holdings.Dataset{Rows: make([]holdings.Row, len(records))}
	for i, r := range records {
		ds.Rows[i] = holdings.Row{
			Date:        r.Date,
			Ticker:      r.Ticker,
			Cusip:       r.Cusip,
			Company:     r.Company,
			MarketValue: r.MarketValue,
			Shares:      r.Shares,
			SharePrice:  r.SharePrice,
			Weight:      r.Weight,
		}
	}
	return ds
}
