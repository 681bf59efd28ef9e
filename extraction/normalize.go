package extraction

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Details are the fields extracted from one contract. Nil means the field
// was absent or could not be interpreted.
type Details struct {
	AgreementValue     *float64 `json:"agreement_value"`
	AgreementStartDate *string  `json:"agreement_start_date"`
	AgreementEndDate   *string  `json:"agreement_end_date"`
	RenewalNoticeDays  *int     `json:"renewal_notice_days"`
	PartyOne           *string  `json:"party_one"`
	PartyTwo           *string  `json:"party_two"`
}

// DateLayout is the output format for dates.
const DateLayout = "2006-01-02"

// dateLayouts are tried in order; month-first wins for ambiguous slashes.
var dateLayouts = []string{
	"2.1.2006",
	"2006-1-2",
	"1/2/2006",
	"2/1/2006",
	"2006/1/2",
	"2006.1.2",
	"2-1-2006",
	"1-2-2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"2 January 2006",
	"January 2006",
	"Jan 2006",
	"2.1.06",
	"1/2/06",
}

var (
	nonNumeric = regexp.MustCompile(`[^\d.]`)
	digitRun   = regexp.MustCompile(`\d+`)
)

// normalizeDetails narrows a schema-valid reply object into Details.
func normalizeDetails(obj map[string]any) *Details {
	return &Details{
		AgreementValue:     normalizeValue(obj["agreement_value"]),
		AgreementStartDate: normalizeDate(obj["agreement_start_date"]),
		AgreementEndDate:   normalizeDate(obj["agreement_end_date"]),
		RenewalNoticeDays:  normalizeDays(obj["renewal_notice_days"]),
		PartyOne:           normalizeParty(obj["party_one"]),
		PartyTwo:           normalizeParty(obj["party_two"]),
	}
}

// normalizeValue keeps numbers and strips everything but digits and the
// decimal point from strings. "Rs. 6,500.00" is 6500.
func normalizeValue(v any) *float64 {
	switch x := v.(type) {
	case float64:
		return &x
	case string:
		cleaned := strings.Trim(nonNumeric.ReplaceAllString(x, ""), ".")
		if cleaned == "" {
			return nil
		}
		if strings.Contains(cleaned, ".") {
			f, err := strconv.ParseFloat(cleaned, 64)
			if err != nil {
				return nil
			}
			return &f
		}
		n, err := strconv.ParseInt(cleaned, 10, 64)
		if err != nil {
			return nil
		}
		f := float64(n)
		return &f
	}
	return nil
}

// normalizeDate reformats recognised dates as YYYY-MM-DD and returns
// anything else unchanged.
func normalizeDate(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	if d, ok := ParseDate(s); ok {
		return &d
	}
	return &s
}

// ParseDate tries each known layout and returns the date as YYYY-MM-DD.
func ParseDate(s string) (string, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DateLayout), true
		}
	}
	return "", false
}

func normalizeDays(v any) *int {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		n := int(x)
		return &n
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.Atoi(s); err == nil {
			return &n
		}
		if m := digitRun.FindString(s); m != "" {
			if n, err := strconv.Atoi(m); err == nil {
				return &n
			}
		}
	}
	return nil
}

func normalizeParty(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	return &s
}
