package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHasherHash verifies known digests and that equal input yields equal keys.
func TestHasherHash(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{name: "text", in: "hello world", want: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"},
	}
	h := New()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := h.Hash([]byte(tc.in))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

// TestHasherDistinguishesOutputs verifies different scraper output gets different keys.
func TestHasherDistinguishesOutputs(t *testing.T) {
	t.Parallel()

	h := New()
	a, err := h.Hash([]byte(`[{"url":"https://example.com/a"}]`))
	require.NoError(t, err)
	b, err := h.Hash([]byte(`[{"url":"https://example.com/b"}]`))
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.Len(t, a, 64)
}
