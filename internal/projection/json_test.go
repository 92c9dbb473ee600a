package projection

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/arkholdings/internal/holdings"
)

func ptr[T any](v T) *T { return &v }

func sampleDataset() *holdings.Dataset {
	d1 := holdings.NewDate(2023, time.October, 15)
	d2 := holdings.NewDate(2023, time.September, 1)
	return &holdings.Dataset{Ticker: "ARKK", Rows: []holdings.Row{
		{
			Date: &d1, Ticker: ptr("ROKU"), Cusip: ptr("77543R102"), Company: ptr("ROKU INC"),
			MarketValue: ptr(int64(512_345_678)), Shares: ptr(int64(7_654_321)),
			SharePrice: ptr(66.94), Weight: ptr(7.25),
		},
		{
			Date: &d2, Ticker: ptr("COIN"), Company: ptr("COINBASE GLOBAL INC <A> & CO"),
			Shares: ptr(int64(1)), Weight: ptr(0.0),
		},
	}}
}

func TestJSON_Shape(t *testing.T) {
	out, err := JSON(sampleDataset())
	require.NoError(t, err)

	want := `[` +
		`{"date":"2023-10-15","ticker":"ROKU","cusip":"77543R102","company":"ROKU INC","market_value":512345678,"shares":7654321,"share_price":66.94,"weight":7.25},` +
		`{"date":"2023-09-01","ticker":"COIN","cusip":null,"company":"COINBASE GLOBAL INC <A> & CO","market_value":null,"shares":1,"share_price":null,"weight":0}` +
		`]`
	assert.Equal(t, want, string(out))
}

func TestJSON_Empty(t *testing.T) {
	out, err := JSON(&holdings.Dataset{Ticker: "ARKX"})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(out))

	out, err = JSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(out))
}

func TestJSON_IdempotentAndRoundTrip(t *testing.T) {
	ds := sampleDataset()

	first, err := JSON(ds)
	require.NoError(t, err)
	second, err := JSON(ds)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	records, err := Decode(first)
	require.NoError(t, err)
	again, err := JSON(Dataset(records))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(again))

	want, err := Records(ds)
	require.NoError(t, err)
	assert.Equal(t, want, records)
}

func TestJSON_SerializationErrors(t *testing.T) {
	bad := sampleDataset()
	bad.Rows[1].Company = ptr("bad \xff byte")

	_, err := JSON(bad)
	var se *SerializationError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 1, se.Row)
	assert.Equal(t, holdings.ColCompany, se.Column)

	nan := sampleDataset()
	nan.Rows[0].Weight = ptr(math.NaN())
	_, err = JSON(nan)
	require.True(t, errors.As(err, &se))
	assert.Equal(t, holdings.ColWeight, se.Column)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte(`{"date":"2023-01-01"}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`[{"date":"01/01/2023"}]`))
	assert.Error(t, err)
}
