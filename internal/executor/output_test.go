package executor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

// TestLocateArray verifies the first array of objects wins and noise brackets are skipped.
func TestLocateArray(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "bare", input: `[{"a":1}]`, want: `[{"a":1}]`},
		{name: "leading log prefix", input: "[INFO] scraping\n[{\"a\":1}]\nbye", want: `[{"a":1}]`},
		{name: "pretty printed", input: "fetched 1\n[\n  {\n    \"a\": 1\n  }\n]\n", want: `[{"a":1}]`},
		{name: "first of two", input: `[{"a":1}] [{"b":2}]`, want: `[{"a":1}]`},
		{name: "skips scalar arrays", input: "retries [5] ok\n[{\"a\":1}]", want: `[{"a":1}]`},
		{name: "skips inline empty array", input: "warmup pages: []\n[\n {\"a\":1}\n]", want: `[{"a":1}]`},
		{name: "skips string array with brackets", input: `tags ["[{", "x"] then [{"a":1}]`, want: `[{"a":1}]`},
		{name: "standalone empty array", input: "nothing new\n[]\n", want: `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := LocateArray([]byte(tt.input))
			require.NoError(t, err)
			require.JSONEq(t, tt.want, string(got))
		})
	}
}

// TestLocateArrayMalformed verifies output without a decodable array of objects is rejected.
func TestLocateArrayMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ``},
		{name: "object only", input: `{"a":[1]`},
		{name: "truncated", input: `[{"a":1}`},
		{name: "inline empty array only", input: `noise []`},
		{name: "scalar array only", input: `[1,2]`},
		{
			name:  "truncated with brackets inside strings",
			input: "[\n {\"title\":\"A\",\"url\":\"https://example.com/a\",\"content\":\"rates rose [1] sharply\"},\n {\"title\":\"B\",\"url\":",
		},
		{
			name:  "truncated with nested object array in string",
			input: `[{"title":"A","content":"see [{\"x\":1}] here"},{"title":`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LocateArray([]byte(tt.input))
			var malformed *crawler.MalformedOutputError
			require.ErrorAs(t, err, &malformed)
		})
	}
}

// TestParseCandidatesAfterNoise verifies a bracketed log line cannot hide the real articles.
func TestParseCandidatesAfterNoise(t *testing.T) {
	t.Parallel()

	out := "warmup pages: []\n[\n {\"title\":\"A\",\"url\":\"https://example.com/a\",\"content\":\"rates rose [1] sharply\"}\n]\n"
	got, invalid, err := ParseCandidates([]byte(out))
	require.NoError(t, err)
	require.Zero(t, invalid)
	require.Len(t, got, 1)
	require.Equal(t, "https://example.com/a", got[0].URL)
	require.Equal(t, "rates rose [1] sharply", got[0].Content)
}

// TestParseCandidatesKeepsNonObjectsAsZero verifies stray elements after the first object do not abort parsing.
func TestParseCandidatesKeepsNonObjectsAsZero(t *testing.T) {
	t.Parallel()

	got, invalid, err := ParseCandidates([]byte(`[{"title":"T","url":"U","guid":"g"}, 1, "x"]`))
	require.NoError(t, err)
	require.Equal(t, 2, invalid)
	require.Len(t, got, 3)
	require.Equal(t, "g", got[0].GUID)
	require.Equal(t, crawler.Candidate{}, got[1])
	require.Equal(t, crawler.Candidate{}, got[2])
}

// TestParseCandidatesNoArray verifies the malformed output error.
func TestParseCandidatesNoArray(t *testing.T) {
	t.Parallel()

	_, _, err := ParseCandidates([]byte("scraper crashed"))
	var malformed *crawler.MalformedOutputError
	require.ErrorAs(t, err, &malformed)
}

// TestBoundedBufferOverflow verifies the limit trips once and sticks.
func TestBoundedBufferOverflow(t *testing.T) {
	t.Parallel()

	tripped := 0
	buf := newBoundedBuffer(4, func() { tripped++ })
	n, err := buf.Write([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, 3, n)

	_, err = buf.Write([]byte("de"))
	require.ErrorIs(t, err, errOutputLimit)
	_, err = buf.Write([]byte("f"))
	require.ErrorIs(t, err, errOutputLimit)

	require.True(t, buf.Overflowed())
	require.Equal(t, 1, tripped)
	require.Equal(t, "abc", string(buf.Bytes()))
}

// TestTailBufferKeepsSuffix verifies only the most recent bytes are retained.
func TestTailBufferKeepsSuffix(t *testing.T) {
	t.Parallel()

	buf := &tailBuffer{limit: 5}
	_, _ = buf.Write([]byte("hello "))
	_, _ = buf.Write([]byte("world"))
	require.Equal(t, "world", buf.String())
}
