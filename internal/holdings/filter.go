package holdings

import "fmt"

// DateRange is an inclusive date interval. Either bound may be nil, which
// leaves that side open.
type DateRange struct {
	Start *Date
	End   *Date
}

// IsZero reports whether the range has no bounds at all.
func (r DateRange) IsZero() bool {
	return r.Start == nil && r.End == nil
}

// Contains reports whether d satisfies every bound that is set.
func (r DateRange) Contains(d Date) bool {
	if r.Start != nil && d.Before(*r.Start) {
		return false
	}
	if r.End != nil && d.After(*r.End) {
		return false
	}
	return true
}

func (r DateRange) String() string {
	bound := func(d *Date) string {
		if d == nil {
			return "*"
		}
		return d.String()
	}
	return fmt.Sprintf("[%s, %s]", bound(r.Start), bound(r.End))
}

// Filter returns the rows of ds whose date lies in r. A zero range returns ds
// itself. Rows with a null date never match. The input is not modified and the
// output keeps input order.
func Filter(ds *Dataset, r DateRange) *Dataset {
	if ds == nil || r.IsZero() {
		return ds
	}

	out := &Dataset{Ticker: ds.Ticker, Rows: make([]Row, 0, len(ds.Rows))}
	for _, row := range ds.Rows {
		if row.Date == nil {
			continue
		}
		if r.Contains(*row.Date) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}
