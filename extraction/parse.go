package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseReply decodes the JSON object embedded in a model reply.
func parseReply(reply string) (map[string]any, error) {
	text := stripFences(reply)
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrUnparseableReply)
	}
	text = repairJSON(text[start : end+1])

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseableReply, err)
	}
	return obj, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// repairJSON fixes the mistakes models commonly make in otherwise valid
// JSON: bare or half-quoted object keys (`{name: 1}`, `{name": 1}`) and
// commas before a closing brace or bracket. String contents are left alone.
func repairJSON(s string) string {
	in := []rune(s)
	out := make([]rune, 0, len(in)+16)
	inString := false

	for i := 0; i < len(in); i++ {
		ch := in[i]
		if inString {
			out = append(out, ch)
			switch ch {
			case '\\':
				if i+1 < len(in) {
					i++
					out = append(out, in[i])
				}
			case '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
			out = append(out, ch)
			continue
		case ',':
			if next := skipSpace(in, i+1); next < len(in) && (in[next] == '}' || in[next] == ']') {
				continue
			}
		}
		out = append(out, ch)
		if ch != '{' && ch != ',' {
			continue
		}

		j := skipSpace(in, i+1)
		out = append(out, in[i+1:j]...)
		i = j - 1
		if j >= len(in) || !isIdentStart(in[j]) {
			continue
		}
		k := j
		for k < len(in) && isIdentPart(in[k]) {
			k++
		}
		ident := in[j:k]
		switch {
		case runeAt(in, k) == '"' && runeAt(in, skipSpace(in, k+1)) == ':':
			out = append(out, '"')
			out = append(out, ident...)
			out = append(out, '"')
			i = k
		case runeAt(in, skipSpace(in, k)) == ':':
			out = append(out, '"')
			out = append(out, ident...)
			out = append(out, '"')
			i = k - 1
		default:
			out = append(out, ident...)
			i = k - 1
		}
	}
	return string(out)
}

func skipSpace(r []rune, i int) int {
	for i < len(r) && (r[i] == ' ' || r[i] == '\n' || r[i] == '\t' || r[i] == '\r') {
		i++
	}
	return i
}

func runeAt(r []rune, i int) rune {
	if i < len(r) {
		return r[i]
	}
	return 0
}

func isIdentStart(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9')
}
