package jsonx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		answer   string
		expected string
	}{
		{
			name:     "bare object",
			answer:   `{"a": 1}`,
			expected: `{"a": 1}`,
		},
		{
			name:     "bare array",
			answer:   `[{"a": 1}, {"a": 2}]`,
			expected: `[{"a": 1}, {"a": 2}]`,
		},
		{
			name:     "object inside prose",
			answer:   `Here is the result you asked for: {"a": 1} hope it helps!`,
			expected: `{"a": 1}`,
		},
		{
			name:     "json fenced block",
			answer:   "Sure thing.\n```json\n{\"a\": 1}\n```\nLet me know.",
			expected: `{"a": 1}`,
		},
		{
			name:     "untagged fenced block",
			answer:   "```\n[1, 2, 3]\n```",
			expected: `[1, 2, 3]`,
		},
		{
			name:     "fenced block wins over earlier raw bracket",
			answer:   "The {braces} here are prose.\n```json\n{\"a\": 1}\n```",
			expected: `{"a": 1}`,
		},
		{
			name:     "nested object",
			answer:   `prefix {"a": {"b": [1, 2]}} suffix`,
			expected: `{"a": {"b": [1, 2]}}`,
		},
		{
			name:     "braces inside strings do not close the document",
			answer:   `{"text": "a } inside", "more": "b { inside"}`,
			expected: `{"text": "a } inside", "more": "b { inside"}`,
		},
		{
			name:     "escaped quote inside string",
			answer:   `{"text": "he said \"}\" loudly"}`,
			expected: `{"text": "he said \"}\" loudly"}`,
		},
		{
			name:     "array before object picks the array",
			answer:   `[1, 2] and later {"a": 1}`,
			expected: `[1, 2]`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Extract(tc.answer)
			require.NoError(t, err)
			require.Equal(t, tc.expected, got)
		})
	}
}

func TestExtract_NoJSON(t *testing.T) {
	t.Parallel()

	for _, answer := range []string{
		"",
		"no json here at all",
		"an { unclosed brace",
		"```python\nprint('hi')\n```",
	} {
		_, err := Extract(answer)
		require.Error(t, err, "answer %q", answer)
	}
}

func TestAs(t *testing.T) {
	t.Parallel()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	got, err := As[payload]("Result:\n```json\n{\"name\": \"x\", \"count\": 3}\n```")
	require.NoError(t, err)
	require.Equal(t, payload{Name: "x", Count: 3}, got)

	items, err := As[[]payload](`[{"name": "a"}, {"name": "b"}]`)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "b", items[1].Name)

	_, err = As[payload](`["not", "an", "object"]`)
	require.ErrorContains(t, err, "unmarshal extracted JSON")

	_, err = As[payload]("nothing structured")
	require.Error(t, err)
}
