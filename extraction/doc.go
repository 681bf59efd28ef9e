// Package extraction pulls structured fields out of contract text with a
// generative model.
//
// An Extractor optionally retrieves similar clauses from the index and
// includes them in the prompt as examples of phrasing. The model reply is
// parsed leniently: markdown fences are stripped, the outermost object is
// sliced out, and trailing commas and unquoted keys are repaired before
// decoding. The object is checked against a JSON schema and each field is
// normalised:
//
//	agreement_value        number, currency and separators removed
//	agreement_start_date   YYYY-MM-DD when the layout is recognised
//	agreement_end_date     YYYY-MM-DD when the layout is recognised
//	renewal_notice_days    integer, or the first digit run of a string
//	party_one, party_two   trimmed names
//
// A reply that cannot be parsed after three attempts is reported in
// Result.Error rather than as a call error. Generator failures are returned.
package extraction
