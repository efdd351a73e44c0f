// File: internal/llm/json_extract.go
package llm

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

// fencePattern matches a markdown code fence with an optional language tag.
// Group 1 is the tag, group 2 the fenced body.
var fencePattern = regexp.MustCompile("(?s)```(\\w*)\\s*\\n(.+?)\\n```")

// ExtractJSON pulls the first JSON document out of a model response.
// Fenced ```json blocks win over raw text; raw extraction matches brackets
// with string and escape awareness, so braces inside JSON strings do not
// truncate the document.
func ExtractJSON(response string) (string, error) {
	if doc, ok := extractFromFence(response); ok {
		return doc, nil
	}
	if doc, ok := extractRawJSON(response); ok {
		return doc, nil
	}
	return "", fmt.Errorf("no valid JSON document in response")
}

// ExtractJSONAs decodes the first JSON document in the response into T.
func ExtractJSONAs[T any](response string) (T, error) {
	var out T
	doc, err := ExtractJSON(response)
	if err != nil {
		return out, err
	}
	if err := json.UnmarshalFromString(doc, &out); err != nil {
		return out, fmt.Errorf("decoding extracted JSON: %w", err)
	}
	return out, nil
}

func extractFromFence(response string) (string, bool) {
	for _, match := range fencePattern.FindAllStringSubmatch(response, -1) {
		if len(match) < 3 {
			continue
		}
		tag := strings.ToLower(match[1])
		if tag != "" && tag != "json" {
			continue
		}
		body := strings.TrimSpace(match[2])
		if !strings.HasPrefix(body, "{") && !strings.HasPrefix(body, "[") {
			continue
		}
		if isValidJSON(body) {
			return body, true
		}
	}
	return "", false
}

func extractRawJSON(response string) (string, bool) {
	objAt := strings.IndexByte(response, '{')
	arrAt := strings.IndexByte(response, '[')

	start := -1
	var closer byte
	switch {
	case objAt >= 0 && (arrAt < 0 || objAt < arrAt):
		start, closer = objAt, '}'
	case arrAt >= 0:
		start, closer = arrAt, ']'
	default:
		return "", false
	}

	doc := matchBracket(response[start:], closer)
	if doc != "" && isValidJSON(doc) {
		return doc, true
	}
	return "", false
}

// matchBracket returns the prefix of s up to the bracket closing s[0],
// ignoring brackets inside JSON strings. Empty when unbalanced.
func matchBracket(s string, closer byte) string {
	if s == "" {
		return ""
	}
	opener := s[0]
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == opener:
			depth++
		case c == closer:
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}

func isValidJSON(s string) bool {
	var raw json.RawMessage
	return json.UnmarshalFromString(s, &raw) == nil
}
