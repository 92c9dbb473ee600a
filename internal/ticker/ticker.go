// Package ticker holds the closed enumeration of fund identifiers the service
// can serve. Adding a fund means adding a constant here and listing it in the
// set of the endpoint that serves it; nothing else in the tree names tickers.
package ticker

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Version is bumped whenever the enumeration changes.
const Version = 3

// Ticker is the canonical symbolic name of a fund. The canonical string is also
// the file stem of the fund's dataset.
type Ticker string

// ETF tickers.
const (
	ARKB Ticker = "ARKB"
	ARKC Ticker = "ARKC"
	ARKD Ticker = "ARKD"
	ARKF Ticker = "ARKF"
	ARKG Ticker = "ARKG"
	ARKK Ticker = "ARKK"
	ARKQ Ticker = "ARKQ"
	ARKW Ticker = "ARKW"
	ARKX Ticker = "ARKX"
	ARKY Ticker = "ARKY"
	ARKZ Ticker = "ARKZ"
	IZRL Ticker = "IZRL"
	PRNT Ticker = "PRNT"
)

// Venture fund tickers.
const (
	ARKVX Ticker = "ARKVX"
)

// ErrUnknownTicker is returned when a value is not part of the enumeration or
// of the set it was parsed against.
var ErrUnknownTicker = errors.New("unknown ticker")

var known = map[Ticker]struct{}{
	ARKB: {}, ARKC: {}, ARKD: {}, ARKF: {}, ARKG: {}, ARKK: {}, ARKQ: {},
	ARKW: {}, ARKX: {}, ARKY: {}, ARKZ: {}, IZRL: {}, PRNT: {},
	ARKVX: {},
}

// String returns the canonical name.
func (t Ticker) String() string { return string(t) }

// Valid reports whether t is a member of the enumeration.
func (t Ticker) Valid() bool {
	_, ok := known[t]
	return ok
}

// Parse matches s exactly (case-sensitive) against the full enumeration.
func Parse(s string) (Ticker, error) {
	t := Ticker(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTicker, s)
	}
	return t, nil
}

// All returns every known ticker in lexical order.
func All() []Ticker {
	out := make([]Ticker, 0, len(known))
	for t := range known {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Set is an ordered subset of the enumeration served by one endpoint.
type Set struct {
	name    string
	members []Ticker
	index   map[Ticker]struct{}
}

// NewSet builds a set. It returns an error if a member is outside the
// enumeration or listed twice.
func NewSet(name string, members ...Ticker) (Set, error) {
	s := Set{name: name, index: make(map[Ticker]struct{}, len(members))}
	for _, t := range members {
		if !t.Valid() {
			return Set{}, fmt.Errorf("set %s: %w: %q", name, ErrUnknownTicker, string(t))
		}
		if _, dup := s.index[t]; dup {
			return Set{}, fmt.Errorf("set %s: duplicate ticker %s", name, t)
		}
		s.index[t] = struct{}{}
		s.members = append(s.members, t)
	}
	sort.Slice(s.members, func(i, j int) bool { return s.members[i] < s.members[j] })
	return s, nil
}

// Name returns the set name used in configuration.
func (s Set) Name() string { return s.name }

// Members returns a copy of the set's tickers in lexical order.
func (s Set) Members() []Ticker {
	return append([]Ticker(nil), s.members...)
}

// Contains reports whether t belongs to the set.
func (s Set) Contains(t Ticker) bool {
	_, ok := s.index[t]
	return ok
}

// Parse matches raw exactly against the set members.
func (s Set) Parse(raw string) (Ticker, error) {
	t := Ticker(raw)
	if !s.Contains(t) {
		return "", fmt.Errorf("%w: %q is not one of %s", ErrUnknownTicker, raw, s.String())
	}
	return t, nil
}

// String lists the members, comma separated.
func (s Set) String() string {
	names := make([]string, len(s.members))
	for i, t := range s.members {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// Sets known by name, referenced from endpoint configuration.
const (
	SetETF     = "etf"
	SetVenture = "venture"
)

var builtin = map[string][]Ticker{
	SetETF:     {ARKB, ARKC, ARKD, ARKF, ARKG, ARKK, ARKQ, ARKW, ARKX, ARKY, ARKZ, IZRL, PRNT},
	SetVenture: {ARKVX},
}

// Lookup returns a built-in set by name.
func Lookup(name string) (Set, error) {
	members, ok := builtin[name]
	if !ok {
		return Set{}, fmt.Errorf("unknown ticker set %q", name)
	}
	return NewSet(name, members...)
}
