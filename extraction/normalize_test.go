package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{float64(1250.5), 1250.5},
		{"₱6,500.00", float64(6500)},
		{"$12,000", float64(12000)},
		{"Rs. 5,000", float64(5000)},
		{"7500 PESOS", float64(7500)},
		{"N/A", nil},
		{"1.2.3", nil},
		{"", nil},
		{nil, nil},
		{true, nil},
	}
	for _, tt := range tests {
		got := normalizeValue(tt.in)
		if tt.want == nil {
			assert.Nil(t, got, "input %v", tt.in)
			continue
		}
		if assert.NotNil(t, got, "input %v", tt.in) {
			assert.Equal(t, tt.want, *got, "input %v", tt.in)
		}
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2020-03-04", "2020-03-04"},
		{"2020-3-4", "2020-03-04"},
		{"05.03.2020", "2020-03-05"},
		{"03/04/2020", "2020-03-04"},
		{"25/12/2020", "2020-12-25"},
		{"2021/07/01", "2021-07-01"},
		{"2021.07.01", "2021-07-01"},
		{"25-12-2020", "2020-12-25"},
		{"Jan 5, 2021", "2021-01-05"},
		{"5 Jan 2021", "2021-01-05"},
		{"January 5, 2021", "2021-01-05"},
		{"5 January 2021", "2021-01-05"},
		{"May 2007", "2007-05-01"},
		{"15.06.21", "2021-06-15"},
		{"06/15/21", "2021-06-15"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDate(tt.in)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := ParseDate("the first of May")
	assert.False(t, ok)
}

func TestNormalizeDate(t *testing.T) {
	assert.Nil(t, normalizeDate(nil))
	assert.Nil(t, normalizeDate(""))
	assert.Nil(t, normalizeDate("null"))
	assert.Nil(t, normalizeDate(float64(2020)))
	assert.Equal(t, "2020-12-25", *normalizeDate(" 25/12/2020 "))
	assert.Equal(t, "the first of May", *normalizeDate("the first of May"))
}

func TestNormalizeDays(t *testing.T) {
	tests := []struct {
		in   any
		want *int
	}{
		{float64(30), intPtr(30)},
		{float64(90.0), intPtr(90)},
		{"15", intPtr(15)},
		{" 60 ", intPtr(60)},
		{"90 days", intPtr(90)},
		{"within 30 or 45 days", intPtr(30)},
		{"two months", nil},
		{nil, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeDays(tt.in), "input %v", tt.in)
	}
}

func TestNormalizeParty(t *testing.T) {
	assert.Equal(t, "Acme Inc.", *normalizeParty("  Acme Inc. "))
	assert.Nil(t, normalizeParty(""))
	assert.Nil(t, normalizeParty("NULL"))
	assert.Nil(t, normalizeParty(float64(3)))
}

func TestNormalizeDetails(t *testing.T) {
	d := normalizeDetails(map[string]any{
		"agreement_value":      "$1,000",
		"agreement_start_date": "May 2007",
		"agreement_end_date":   nil,
		"renewal_notice_days":  "30 days",
		"party_one":            "Maria Santos",
		"party_two":            "Juan Cruz",
	})
	assert.Equal(t, 1000.0, *d.AgreementValue)
	assert.Equal(t, "2007-05-01", *d.AgreementStartDate)
	assert.Nil(t, d.AgreementEndDate)
	assert.Equal(t, 30, *d.RenewalNoticeDays)
	assert.Equal(t, "Maria Santos", *d.PartyOne)
	assert.Equal(t, "Juan Cruz", *d.PartyTwo)
}

func intPtr(n int) *int { return &n }
