package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParamsFromQuery(t *testing.T) {
	tests := []struct {
		name     string
		rawQuery string
		expected map[string]string
	}{
		{
			name:     "single pair",
			rawQuery: "user=123",
			expected: map[string]string{"user": "123"},
		},
		{
			name:     "multiple pairs",
			rawQuery: "user=123&status=open",
			expected: map[string]string{"user": "123", "status": "open"},
		},
		{
			name:     "names lower-cased",
			rawQuery: "User=123",
			expected: map[string]string{"user": "123"},
		},
		{
			name:     "escaped value decoded",
			rawQuery: "name=foo%20bar",
			expected: map[string]string{"name": "foo bar"},
		},
		{
			name:     "value without equals is empty",
			rawQuery: "flag",
			expected: map[string]string{"flag": ""},
		},
		{
			name:     "empty query yields nil",
			rawQuery: "",
			expected: nil,
		},
		{
			name:     "nameless pairs dropped",
			rawQuery: "=123&&",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParamsFromQuery(tt.rawQuery))
		})
	}
}

func TestParamsFromPath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected map[string]string
	}{
		{
			name:     "plural collection singularized",
			path:     "/users/123",
			expected: map[string]string{"user": "123"},
		},
		{
			name:     "singular collection unchanged",
			path:     "/user/123",
			expected: map[string]string{"user": "123"},
		},
		{
			name:     "deep path uses trailing pair",
			path:     "/api/v1/orders/42",
			expected: map[string]string{"order": "42"},
		},
		{
			name:     "collection name lower-cased",
			path:     "/Users/123",
			expected: map[string]string{"user": "123"},
		},
		{
			name:     "single segment yields nil",
			path:     "/users",
			expected: nil,
		},
		{
			name:     "empty path yields nil",
			path:     "/",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParamsFromPath(tt.path))
		})
	}
}
