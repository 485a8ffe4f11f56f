package history

import (
	"strings"
	"testing"

	"benchtrack/internal/benchmark"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDataJS = `window.BENCHMARK_DATA = {
  "lastUpdate": 1700000360000,
  "repoUrl": "https://github.com/acme/svc",
  "entries": {
    "googlecpp": [
      {
        "commit": {
          "author": {
            "email": "jane@example.com",
            "name": "Jane Doe",
            "username": "jdoe"
          },
          "committer": {
            "email": "noreply@github.com",
            "name": "GitHub",
            "username": "web-flow"
          },
          "distinct": true,
          "id": "aaa111",
          "message": "Speed up <lookup> & friends",
          "timestamp": "2023-11-14T22:13:20Z",
          "tree_id": "t1",
          "url": "https://github.com/acme/svc/commit/aaa111"
        },
        "date": 1700000000000,
        "tool": "googlecpp",
        "benches": [
          {
            "name": "FindServices/1/1",
            "value": 1676.3,
            "unit": "ns/iter",
            "extra": "iterations: 417391\ncpu: 1676.2 ns\nthreads: 1"
          },
          {
            "name": "Resolve/8",
            "value": 1e-7,
            "range": "± 3%",
            "unit": "s/iter"
          }
        ]
      },
      {
        "commit": {
          "author": {
            "email": "jane@example.com",
            "name": "Jane Doe"
          },
          "committer": {
            "email": "jane@example.com",
            "name": "Jane Doe"
          },
          "distinct": false,
          "id": "bbb222",
          "message": "Unicode ✓",
          "url": "https://github.com/acme/svc/commit/bbb222",
          "custom": [
            1,
            2.50
          ]
        },
        "date": 1700000360000,
        "tool": "googlecpp",
        "benches": []
      }
    ],
    "go": []
  }
}
`

func TestDecode_RoundTripIsByteIdentical(t *testing.T) {
	doc, err := Decode([]byte(sampleDataJS))
	require.NoError(t, err)

	out, err := doc.Encode()
	require.NoError(t, err)
	assert.Equal(t, sampleDataJS, string(out))
}

func TestDecode_Contents(t *testing.T) {
	doc, err := Decode([]byte(sampleDataJS))
	require.NoError(t, err)

	assert.Equal(t, []string{"googlecpp", "go"}, doc.Tools())
	assert.Equal(t, "https://github.com/acme/svc", doc.RepoURL())

	s, ok := doc.Series("googlecpp")
	require.True(t, ok)
	require.Equal(t, 2, s.Len())
	assert.Equal(t, "aaa111", s.Run(0).Commit.ID)
	assert.Equal(t, 1676.3, s.Run(0).Benches[0].Value)
	assert.Equal(t, "bbb222", s.Run(1).Commit.ID)
	assert.Empty(t, s.Run(1).Benches)

	empty, ok := doc.Series("go")
	assert.True(t, ok)
	assert.Equal(t, 0, empty.Len())

	_, ok = doc.Series("missing")
	assert.False(t, ok)
}

func TestDecode_PlainJSON(t *testing.T) {
	body := strings.TrimPrefix(sampleDataJS, DataJSPrefix)
	doc, err := Decode([]byte(body))
	require.NoError(t, err)

	out, err := doc.Encode()
	require.NoError(t, err)
	assert.Equal(t, body, string(out))
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not an object", `[1,2]`},
		{"truncated", `{"entries": {`},
		{"missing assignment", `window.BENCHMARK_DATA {"entries":{}}`},
		{"entries not object", `{"entries": []}`},
		{"series not array", `{"entries": {"go": {}}}`},
		{"bad run", `{"entries": {"go": [{"date": "yesterday"}]}}`},
		{"trailing data", `{"entries": {}} {}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestDocument_AppendKeepsPriorBytes(t *testing.T) {
	doc, err := Decode([]byte(sampleDataJS))
	require.NoError(t, err)
	before, _ := doc.Series("googlecpp")

	run := testRun("ccc333", 1700000720000)
	require.NoError(t, doc.Append("googlecpp", run))

	after, _ := doc.Series("googlecpp")
	require.Equal(t, 3, after.Len())
	assert.Equal(t, 2, before.Len(), "earlier series values are not modified")
	for i := 0; i < before.Len(); i++ {
		assert.Equal(t, string(before.Raw(i)), string(after.Raw(i)))
	}

	out, err := doc.Encode()
	require.NoError(t, err)
	text := string(out)
	assert.True(t, strings.HasPrefix(text, DataJSPrefix+"{\n  \"lastUpdate\": 1700000720000,\n"))
	// the first two runs are rendered exactly as before
	prefixEnd := strings.Index(sampleDataJS, "\n      }\n    ],\n    \"go\"")
	require.Positive(t, prefixEnd)
	firstRuns := sampleDataJS[strings.Index(sampleDataJS, "    \"googlecpp\": ["):prefixEnd]
	assert.Contains(t, text, firstRuns)
	assert.Contains(t, text, `"message": "commit ccc333 <tag> & more"`)

	reparsed, err := Decode(out)
	require.NoError(t, err)
	s, _ := reparsed.Series("googlecpp")
	assert.Equal(t, run, s.Run(2))
}

func TestDocument_AppendValidation(t *testing.T) {
	doc, err := Decode([]byte(sampleDataJS))
	require.NoError(t, err)

	err = doc.Append("googlecpp", testRun("aaa111", 1700000900000))
	assert.ErrorIs(t, err, ErrDuplicateCommit)

	err = doc.Append("googlecpp", testRun("ddd444", 1600000000000))
	assert.ErrorIs(t, err, ErrNonMonotonicDate)

	err = doc.Append("googlecpp", testRun("", 1700000900000))
	assert.Error(t, err)

	// same commit under a different tool is fine
	require.NoError(t, doc.Append("go", testRun("aaa111", 1700000900000)))

	s, _ := doc.Series("googlecpp")
	assert.Equal(t, 2, s.Len())
}

func TestNewDocument_Layout(t *testing.T) {
	doc := NewDocument(false)
	require.NoError(t, doc.SetRepoURL("https://github.com/acme/svc"))
	require.NoError(t, doc.Append("go", testRun("abc", 42, benchmark.Result{Name: "BenchmarkX", Value: 3, Unit: "ns/op"})))

	out, err := doc.Encode()
	require.NoError(t, err)

	text := string(out)
	assert.True(t, strings.HasPrefix(text, "{\n  \"lastUpdate\": 42,\n  \"repoUrl\": \"https://github.com/acme/svc\",\n  \"entries\": {\n    \"go\": [\n"))
	assert.True(t, strings.HasSuffix(text, "\n}\n"))

	js := NewDocument(true)
	out, err = js.Encode()
	require.NoError(t, err)
	assert.Equal(t, DataJSPrefix+"{\n  \"lastUpdate\": 0,\n  \"entries\": {}\n}\n", string(out))
}

func TestSetRepoURL_KeepsExisting(t *testing.T) {
	doc, err := Decode([]byte(sampleDataJS))
	require.NoError(t, err)
	require.NoError(t, doc.SetRepoURL("https://example.com/other"))
	assert.Equal(t, "https://github.com/acme/svc", doc.RepoURL())
}

func TestDocument_LineSeparatorsWrittenRaw(t *testing.T) {
	doc, err := Decode([]byte(sampleDataJS))
	require.NoError(t, err)

	run := testRun("ddd444", 1700000720000)
	run.Commit.Message = "msg\u2028 <x>\u2029 path C:\\u2028dir"
	require.NoError(t, doc.Append("googlecpp", run))

	out, err := doc.Encode()
	require.NoError(t, err)
	text := string(out)
	assert.Contains(t, text, "\"message\": \"msg\u2028 <x>\u2029 path C:\\\\u2028dir\"")
	assert.NotContains(t, text, `msg\u2028`)

	reparsed, err := Decode(out)
	require.NoError(t, err)
	s, _ := reparsed.Series("googlecpp")
	assert.Equal(t, run.Commit.Message, s.Run(s.Len()-1).Commit.Message)
}

func TestUnescapeLineSeparators(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`"plain"`, `"plain"`},
		{`"a\u2028b"`, "\"a\u2028b\""},
		{`"a\u2029"`, "\"a\u2029\""},
		{`"a\\u2028b"`, `"a\\u2028b"`},
		{`"a\\\u2028b"`, "\"a\\\\\u2028b\""},
		{`"\u00e9\u202"`, `"\u00e9\u202"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, string(unescapeLineSeparators([]byte(tt.in))), tt.in)
	}
}
