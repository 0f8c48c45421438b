package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsTokenWithBoundary(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		token string
		want  bool
	}{
		{"sei matches the seimei compound", "姓名", "姓", true},
		{"shimei embeds in a longer compound", "ご担当者氏名", "氏名", true},
		{"mei allowed in onamae", "お名前", "名", true},
		{"mei blocked after mansion", "マンション名", "名", false},
		{"mei blocked after building", "建物名", "名", false},
		{"mei blocked after company", "会社名", "名", false},
		{"ascii token needs a word boundary", "email", "mail", false},
		{"hyphen is a boundary", "e-mail", "mail", true},
		{"suffix extension blocks", "mailing list", "mail", false},
		{"exact ascii match", "mail", "mail", true},
		{"empty text never matches", "", "mail", false},
		{"empty token never matches", "mail", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ContainsTokenWithBoundary(tt.text, tt.token))
		})
	}
}

func TestContainsAnyToken(t *testing.T) {
	assert.True(t, containsAnyToken("郵便番号", zipFamilyTokens))
	assert.False(t, containsAnyToken("お問い合わせ内容", zipFamilyTokens))
}
