package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL_PassesThroughHTTP(t *testing.T) {
	for _, input := range []string{
		"https://example.com",
		"http://example.com/path?q=1",
		"HTTPS://Example.com",
	} {
		got, err := NormalizeURL(input)
		require.NoError(t, err, input)
		assert.Equal(t, input, got)
	}
}

func TestNormalizeURL_BlockedSchemes(t *testing.T) {
	tests := []struct {
		input  string
		scheme string
	}{
		{"file:///etc/passwd", "file"},
		{"javascript:alert(1)", "javascript"},
		{"data:text/html,<script>", "data"},
		{"chrome://settings", "chrome"},
		{"about:config", "about"},
		{"FILE:///etc/passwd", "file"},
		{"  JavaScript:void(0)", "javascript"},
	}
	for _, tt := range tests {
		_, err := NormalizeURL(tt.input)
		require.ErrorIs(t, err, ErrBlockedScheme, tt.input)
		assert.Contains(t, err.Error(), tt.scheme+":")
	}
}

func TestNormalizeURL_BareDomain(t *testing.T) {
	got, err := NormalizeURL("example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", got)

	got, err = NormalizeURL("news.ycombinator.com/item?id=1")
	require.NoError(t, err)
	assert.Equal(t, "https://news.ycombinator.com/item?id=1", got)
}

func TestNormalizeURL_SearchQuery(t *testing.T) {
	got, err := NormalizeURL("cute cat pictures")
	require.NoError(t, err)
	assert.Equal(t, "https://duckduckgo.com/?q=cute+cat+pictures", got)

	// dot but whitespace: still a search
	got, err = NormalizeURL("what is example.com about")
	require.NoError(t, err)
	assert.Contains(t, got, "duckduckgo.com/?q=")
}

func TestNormalizeURL_Empty(t *testing.T) {
	_, err := NormalizeURL("")
	assert.ErrorIs(t, err, ErrEmptyURL)

	_, err = NormalizeURL("   ")
	assert.ErrorIs(t, err, ErrEmptyURL)
}

func TestNormalizeURL_Idempotent(t *testing.T) {
	first, err := NormalizeURL("example.com")
	require.NoError(t, err)
	second, err := NormalizeURL(first)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAnonymizeIP(t *testing.T) {
	assert.Equal(t, "10.0.0.*", AnonymizeIP("10.0.0.5"))
	assert.Equal(t, "192.168.1.*", AnonymizeIP("192.168.1.254"))
	assert.Equal(t, "2001:db8:85a3::8a2e:370:*", AnonymizeIP("2001:db8:85a3::8a2e:370:7334"))
	assert.Equal(t, "::*", AnonymizeIP("::1"))
	assert.Equal(t, "invalid", AnonymizeIP("not-an-ip"))
}
