package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactEmail(t *testing.T) {
	tests := []struct{ in, want string }{
		{"john.doe@example.com", "jo***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"Jane Doe <jane.doe@example.com>", "ja***@example.com"},
		{"not-an-email", "***@***"},
		{"two@ats@here", "***@***"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RedactEmail(tt.in))
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("Warning"))
	assert.Equal(t, ERROR, ParseLevel(" ERROR "))
	assert.Equal(t, INFO, ParseLevel("bogus"))
	assert.Equal(t, INFO, ParseLevel(""))
}

func TestRedactValueFields(t *testing.T) {
	assert.Equal(t, "jo***@example.com", redactValue("sender_email", "john@example.com"))
	assert.Equal(t, "jo***@example.com", redactValue("from", "john@example.com"))
	assert.Equal(t, "contact jo***@example.com today", redactValue("note", "contact john@example.com today"))
}
