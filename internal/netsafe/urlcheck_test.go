package netsafe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		ok   bool
	}{
		{"https form url", "https://example.co.jp/contact/", true},
		{"plain http", "http://example.com/inquiry", true},
		{"ftp scheme", "ftp://example.com/", false},
		{"javascript scheme", "javascript:alert(1)", false},
		{"localhost", "https://localhost/admin", false},
		{"loopback literal", "https://127.0.0.1/", false},
		{"private v4 literal", "https://192.168.1.5/form", false},
		{"cgn literal", "http://100.64.0.1/", false},
		{"v6 loopback", "http://[::1]/", false},
		{"empty host", "https:///contact", false},
		{"fullwidth homograph", "https://ｅxample.com/", false},
		{"overlong", "https://example.com/?q=" + strings.Repeat("a", 2100), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrUnsafeURL)
			}
		})
	}
}
