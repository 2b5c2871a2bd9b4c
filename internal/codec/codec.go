// Package codec parses and serializes the hybrid document format: a
// delimited frontmatter block carrying structured metadata, followed by a
// free-form body. Parsing never fails; malformed frontmatter degrades to
// empty metadata with the whole input as body.
package codec

import (
	"fmt"
	"strings"
)

const marker = "---"

// Document is the result of parsing a raw document.
type Document struct {
	Meta *Metadata
	Body string
	// HadFrontmatter reports whether a frontmatter block was present and
	// parsed. Fallback reports that a block was opened but malformed, so
	// the caller can distinguish "no metadata" from "unparsable metadata".
	HadFrontmatter bool
	Fallback       bool
}

// Parse splits raw into metadata and body.
//
// The metadata block is an opening marker line, one "key: value" line per
// entry, and a closing marker line. A line whose key is exactly "task"
// introduces the nested task object; subsequent lines indented by at least
// two spaces belong to it. A scalar value of the literal string "null"
// deserializes to absent. Values lose one layer of matching surrounding
// quotes; interior characters are never unescaped.
func Parse(raw string) Document {
	if !strings.HasPrefix(raw, marker+"\n") {
		return Document{Meta: NewMetadata(), Body: raw}
	}

	lines := strings.Split(raw, "\n")
	closing := -1
	for i := 1; i < len(lines); i++ {
		if lines[i] == marker {
			closing = i
			break
		}
	}
	if closing < 0 {
		// Block opens but never closes.
		return Document{Meta: NewMetadata(), Body: raw, Fallback: true}
	}

	meta := NewMetadata()
	var task *Task
	for _, line := range lines[1:closing] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indented := strings.HasPrefix(line, "  ")
		if task != nil && indented {
			key, val, ok := splitKeyValue(line)
			if !ok {
				return Document{Meta: NewMetadata(), Body: raw, Fallback: true}
			}
			setTaskField(task, key, val)
			continue
		}
		task = nil

		key, val, ok := splitKeyValue(line)
		if !ok {
			return Document{Meta: NewMetadata(), Body: raw, Fallback: true}
		}
		if key == KeyTask {
			task = NewTask()
			meta.Set(KeyTask, task)
			continue
		}
		if v, present := parseValue(val); present {
			meta.Set(key, v)
		}
	}

	body := strings.Join(lines[closing+1:], "\n")
	return Document{Meta: meta, Body: body, HadFrontmatter: true}
}

// Serialize renders metadata and body back into the document format. The
// metadata block is emitted only when metadata is non-empty. The output is
// not byte-identical to the parsed input, but parses back to equal
// metadata and body.
func Serialize(meta *Metadata, body string) string {
	if meta.Len() == 0 {
		return body
	}

	var sb strings.Builder
	sb.WriteString(marker + "\n")
	for _, key := range meta.Keys() {
		v, _ := meta.Get(key)
		switch val := v.(type) {
		case *Task:
			writeTask(&sb, val)
		case []string:
			items := make([]string, len(val))
			for i, item := range val {
				items[i] = quoteScalar(item, true)
			}
			fmt.Fprintf(&sb, "%s: [%s]\n", key, strings.Join(items, ", "))
		case string:
			fmt.Fprintf(&sb, "%s: %s\n", key, quoteScalar(val, false))
		default:
			fmt.Fprintf(&sb, "%s: %s\n", key, quoteScalar(fmt.Sprint(val), false))
		}
	}
	sb.WriteString(marker + "\n")
	sb.WriteString(body)
	return sb.String()
}

// splitKeyValue splits a metadata line on the first colon, trimming both
// sides. ok is false when the line has no colon.
func splitKeyValue(line string) (key, val string, ok bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

// parseValue interprets a raw scalar or flow-sequence value. present is
// false for the literal "null", which means the key is absent.
func parseValue(raw string) (v any, present bool) {
	if raw == "null" {
		return nil, false
	}
	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		inner := strings.TrimSpace(raw[1 : len(raw)-1])
		if inner == "" {
			return []string{}, true
		}
		parts := strings.Split(inner, ",")
		items := make([]string, 0, len(parts))
		for _, p := range parts {
			items = append(items, unquote(strings.TrimSpace(p)))
		}
		return items, true
	}
	return unquote(raw), true
}

func setTaskField(t *Task, key, val string) {
	if val == "null" {
		val = ""
	} else {
		val = unquote(val)
	}
	switch key {
	case "status":
		t.Status = val
	case "priority":
		t.Priority = val
	case "assignee":
		t.Assignee = val
	case "dueDate":
		t.DueDate = val
	case "completedDate":
		t.CompletedDate = val
	case "description":
		t.Description = val
	}
}

func writeTask(sb *strings.Builder, t *Task) {
	sb.WriteString(KeyTask + ":\n")
	write := func(key, val string) {
		if val != "" {
			fmt.Fprintf(sb, "  %s: %s\n", key, quoteScalar(val, false))
		}
	}
	write("status", t.Status)
	write("priority", t.Priority)
	write("assignee", t.Assignee)
	write("dueDate", t.DueDate)
	write("completedDate", t.CompletedDate)
	write("description", t.Description)
}

// ValidKey reports whether s can serve as a metadata key: non-empty, no
// colon, and no control characters. A key failing this check cannot be
// written without changing the line structure of the block.
func ValidKey(s string) bool {
	if s == "" || strings.ContainsRune(s, ':') {
		return false
	}
	return ValidScalar(s)
}

// ValidScalar reports whether s survives a serialize/parse round trip as
// a scalar. Quoting cannot represent control characters; a newline in a
// value would terminate its line and re-parse as something else.
func ValidScalar(s string) bool {
	return !strings.ContainsFunc(s, func(r rune) bool {
		return r < 0x20 || r == 0x7f
	})
}

// unquote strips one layer of matching leading/trailing quote characters.
func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// quoteScalar wraps a value in double quotes whenever emitting it bare
// would change its meaning on re-parse.
func quoteScalar(s string, inList bool) string {
	needsQuote := s == "" ||
		s == "null" ||
		strings.TrimSpace(s) != s ||
		(strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"))
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		// A bare emit would lose one quote layer on re-parse.
		needsQuote = true
	}
	if inList && strings.Contains(s, ",") {
		needsQuote = true
	}
	if !needsQuote {
		return s
	}
	return `"` + s + `"`
}
