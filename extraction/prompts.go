package extraction

import (
	"fmt"
	"strings"

	"github.com/poiesic/contractor/core"
)

const exampleSnippetLength = 800

const systemPrompt = `You analyse legal contract texts and extract specific fields into JSON.

Rules:
1. Take values only from the "Primary Contract Text". "Similar Contract Examples" show typical phrasing and formats; never copy values from them.
2. Reply with one JSON object containing every key listed below.
3. When a field cannot be found or extracted with confidence, use null. Do not guess.

Fields:
- agreement_value: the main monetary value of the agreement (monthly rent, total contract sum). A number without currency symbols or thousands separators. "₱6,500.00" becomes 6500.0, "Ten Thousand Dollars" becomes 10000.
- agreement_start_date: the commencement date as "YYYY-MM-DD". When only month and year are clear ("May 2007") use the first of the month ("2007-05-01"). Convert dates written in words.
- agreement_end_date: the termination date as "YYYY-MM-DD", parsed like the start date. null for open-ended agreements.
- renewal_notice_days: days of advance notice required for renewal or termination, as an integer. "15 days notice" is 15, "two months notice" is 60, "one month" is 30.
- party_one: the first party, usually the Lessor, Owner, Landlord or Service Provider ("between [Party One] and [Party Two]", "[Party One] hereinafter called the LESSOR"). Full personal or company name including titles that are part of it.
- party_two: the second party, usually the Lessee, Tenant, Resident or Client. Extracted like party_one.

Output structure:
{
  "agreement_value": <number or null>,
  "agreement_start_date": "YYYY-MM-DD or null",
  "agreement_end_date": "YYYY-MM-DD or null",
  "renewal_notice_days": <integer or null>,
  "party_one": "name or null",
  "party_two": "name or null"
}`

// buildPrompt renders the contract text and any retrieved examples.
func buildPrompt(text string, examples []core.ScoredChunk) string {
	var b strings.Builder
	b.WriteString("Primary Contract Text:\n---\n")
	b.WriteString(text)
	b.WriteString("\n---\n")

	if len(examples) > 0 {
		b.WriteString("\nSimilar Contract Examples (context only, extract values only from the Primary Contract Text above):\n")
		for i, ex := range examples {
			source := ex.Source
			if source == "" {
				source = string(ex.Chunk.DocumentID)
			}
			fmt.Fprintf(&b, "\n--- Example %d (Source: %s, Distance: %.4f) ---\n", i+1, source, ex.Distance)
			b.WriteString(truncate(ex.Chunk.Text, exampleSnippetLength))
			b.WriteString("\n")
		}
	}

	b.WriteString("\nExtract the fields from the Primary Contract Text and reply with the JSON object only.")
	return b.String()
}

// truncate cuts s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
