package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"benchtrack/internal/benchmark"
)

// DataJSPrefix is the assignment that precedes the JSON object in data.js files.
const DataJSPrefix = "window.BENCHMARK_DATA = "

const (
	keyLastUpdate = "lastUpdate"
	keyRepoURL    = "repoUrl"
	keyEntries    = "entries"
)

type field struct {
	key   string
	value json.RawMessage
}

// Document is the persisted history file: a mapping tool -> ordered runs,
// wrapped as "entries". Key order of the object and of entries is kept as
// read, and every stored run keeps its original bytes.
type Document struct {
	prefix string
	fields []field
	tools  []string
	series map[string]Series
}

// NewDocument returns an empty document. When js is set the document is
// written with the data.js assignment prefix.
func NewDocument(js bool) *Document {
	d := &Document{series: make(map[string]Series)}
	d.fields = []field{
		{key: keyLastUpdate, value: json.RawMessage("0")},
		{key: keyEntries},
	}
	if js {
		d.prefix = DataJSPrefix
	}
	return d
}

// Decode parses a history file, with or without the data.js prefix.
func Decode(data []byte) (*Document, error) {
	d := &Document{series: make(map[string]Series)}

	body := bytes.TrimSpace(data)
	if rest, ok := bytes.CutPrefix(body, []byte("window.BENCHMARK_DATA")); ok {
		rest = bytes.TrimSpace(rest)
		rest, ok = bytes.CutPrefix(rest, []byte("="))
		if !ok {
			return nil, errors.New("malformed data.js: missing assignment")
		}
		d.prefix = DataJSPrefix
		body = bytes.TrimSuffix(bytes.TrimSpace(rest), []byte(";"))
	}

	fields, err := decodeObject(body)
	if err != nil {
		return nil, fmt.Errorf("malformed history document: %w", err)
	}

	for _, f := range fields {
		if f.key != keyEntries {
			d.fields = append(d.fields, f)
			continue
		}
		d.fields = append(d.fields, field{key: keyEntries})

		tools, err := decodeObject(f.value)
		if err != nil {
			return nil, fmt.Errorf("malformed entries: %w", err)
		}
		for _, t := range tools {
			var raws []json.RawMessage
			if err := json.Unmarshal(t.value, &raws); err != nil {
				return nil, fmt.Errorf("malformed entries for %q: %w", t.key, err)
			}
			entries := make([]Entry, 0, len(raws))
			for i, raw := range raws {
				var run benchmark.Run
				if err := json.Unmarshal(raw, &run); err != nil {
					return nil, fmt.Errorf("malformed run #%d for %q: %w", i, t.key, err)
				}
				entries = append(entries, Entry{Run: run, Raw: raw})
			}
			if _, dup := d.series[t.key]; !dup {
				d.tools = append(d.tools, t.key)
			}
			d.series[t.key] = Series{tool: t.key, entries: entries}
		}
	}

	return d, nil
}

// Tools returns the series keys in document order.
func (d *Document) Tools() []string {
	return append([]string(nil), d.tools...)
}

// Series returns the series stored under tool.
func (d *Document) Series(tool string) (Series, bool) {
	s, ok := d.series[tool]
	if !ok {
		return Series{tool: tool}, false
	}
	return s, true
}

// RepoURL returns the repoUrl field, if any.
func (d *Document) RepoURL() string {
	for _, f := range d.fields {
		if f.key == keyRepoURL {
			var s string
			if json.Unmarshal(f.value, &s) == nil {
				return s
			}
		}
	}
	return ""
}

// SetRepoURL sets repoUrl when the document has none.
func (d *Document) SetRepoURL(url string) error {
	if url == "" || d.RepoURL() != "" {
		return nil
	}
	raw, err := marshalNoEscape(url)
	if err != nil {
		return err
	}
	d.setField(keyRepoURL, raw)
	return nil
}

// Append validates run against the tool's series and appends it. Prior runs
// are left untouched.
func (d *Document) Append(tool string, run benchmark.Run) error {
	s, _ := d.Series(tool)
	if err := s.checkAppend(run); err != nil {
		return err
	}

	raw, err := marshalNoEscape(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	if _, ok := d.series[tool]; !ok {
		d.tools = append(d.tools, tool)
	}
	d.series[tool] = s.append(Entry{Run: run, Raw: raw})
	d.setField(keyLastUpdate, json.RawMessage(strconv.FormatInt(run.Date, 10)))
	if !d.hasField(keyEntries) {
		d.fields = append(d.fields, field{key: keyEntries})
	}
	return nil
}

func (d *Document) setField(key string, value json.RawMessage) {
	for i := range d.fields {
		if d.fields[i].key == key {
			d.fields[i].value = value
			return
		}
	}
	// new keys go before entries so the runs stay last in the file
	for i := range d.fields {
		if d.fields[i].key == keyEntries {
			d.fields = append(d.fields[:i], append([]field{{key: key, value: value}}, d.fields[i:]...)...)
			return
		}
	}
	d.fields = append(d.fields, field{key: key, value: value})
}

// Encode writes the document with two-space indentation. Number literals and
// string contents of stored runs are copied, never re-formatted.
func (d *Document) Encode() ([]byte, error) {
	var compact bytes.Buffer
	compact.WriteByte('{')
	fields := d.fields
	if !d.hasField(keyEntries) {
		fields = append(append([]field(nil), fields...), field{key: keyEntries})
	}
	for i, f := range fields {
		if i > 0 {
			compact.WriteByte(',')
		}
		if err := writeKey(&compact, f.key); err != nil {
			return nil, err
		}
		if f.key == keyEntries {
			if err := d.writeEntries(&compact); err != nil {
				return nil, err
			}
			continue
		}
		if err := json.Compact(&compact, f.value); err != nil {
			return nil, fmt.Errorf("invalid value for %q: %w", f.key, err)
		}
	}
	compact.WriteByte('}')

	var out bytes.Buffer
	out.WriteString(d.prefix)
	if err := json.Indent(&out, compact.Bytes(), "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func (d *Document) hasField(key string) bool {
	for _, f := range d.fields {
		if f.key == key {
			return true
		}
	}
	return false
}

func (d *Document) writeEntries(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	for i, tool := range d.tools {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(buf, tool); err != nil {
			return err
		}
		buf.WriteByte('[')
		for j, e := range d.series[tool].entries {
			if j > 0 {
				buf.WriteByte(',')
			}
			if err := json.Compact(buf, e.Raw); err != nil {
				return fmt.Errorf("invalid stored run #%d for %q: %w", j, tool, err)
			}
		}
		buf.WriteByte(']')
	}
	buf.WriteByte('}')
	return nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	raw, err := marshalNoEscape(key)
	if err != nil {
		return err
	}
	buf.Write(raw)
	buf.WriteByte(':')
	return nil
}

// marshalNoEscape marshals v the way JSON.stringify does: no HTML escaping
// and raw U+2028 and U+2029.
func marshalNoEscape(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return unescapeLineSeparators(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// unescapeLineSeparators turns the \u2028 and \u2029 escapes written by
// encoding/json back into the characters. An escaped backslash followed by
// "u2028" is text and stays as it is.
func unescapeLineSeparators(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			out = append(out, b[i])
			continue
		}
		if b[i+1] == 'u' && i+6 <= len(b) {
			switch string(b[i+2 : i+6]) {
			case "2028":
				out = append(out, "\u2028"...)
				i += 5
				continue
			case "2029":
				out = append(out, "\u2029"...)
				i += 5
				continue
			}
		}
		// keep the escape pair together
		out = append(out, b[i], b[i+1])
		i++
	}
	return out
}

// decodeObject splits a JSON object into its members, in order.
func decodeObject(data []byte) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var fields []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected key, got %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("value for %q: %w", key, err)
		}
		fields = append(fields, field{key: key, value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after object")
	}
	return fields, nil
}

// isDataJS reports whether a file name should carry the data.js prefix.
func isDataJS(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".js")
}
