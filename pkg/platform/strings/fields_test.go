package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFields(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty", "", nil},
		{"whitespace only", "  \t ", nil},
		{"single", "account-delete", []string{"account-delete"}},
		{"repeated separators", " account-delete   passkey-create ", []string{"account-delete", "passkey-create"}},
		{"duplicates keep first", "b a b c a", []string{"b", "a", "c"}},
		{"case sensitive", "Scope scope", []string{"Scope", "scope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Fields(tt.input))
		})
	}
}

func TestHasField(t *testing.T) {
	assert.True(t, HasField("account-delete passkey-create", "passkey-create"))
	assert.False(t, HasField("account-delete passkey-create", "passkey"))
	assert.False(t, HasField("", ""))
}
