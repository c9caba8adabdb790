package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name            string
		payload         string
		expectedCommand Command
		expectedParams  map[string]string
		expectedError   error
	}{
		{
			name:            "explicit subscribe",
			payload:         `{"ws_command":"subscribe","user":"123"}`,
			expectedCommand: CommandSubscribe,
			expectedParams:  map[string]string{"user": "123"},
		},
		{
			name:            "implicit subscribe without command field",
			payload:         `{"user":"123","status":"open"}`,
			expectedCommand: CommandSubscribe,
			expectedParams:  map[string]string{"user": "123", "status": "open"},
		},
		{
			name:            "ping",
			payload:         `{"ws_command":"ping"}`,
			expectedCommand: CommandPing,
			expectedParams:  map[string]string{},
		},
		{
			name:            "parameter names lower-cased",
			payload:         `{"User":"123"}`,
			expectedCommand: CommandSubscribe,
			expectedParams:  map[string]string{"user": "123"},
		},
		{
			name:            "numeric and boolean values normalized",
			payload:         `{"user":42,"active":true}`,
			expectedCommand: CommandSubscribe,
			expectedParams:  map[string]string{"user": "42", "active": "true"},
		},
		{
			name:          "unknown command is a violation",
			payload:       `{"ws_command":"shutdown"}`,
			expectedError: ErrUnknownCommand,
		},
		{
			name:          "empty payload is malformed",
			payload:       "",
			expectedError: ErrMalformed,
		},
		{
			name:          "non-JSON payload is malformed",
			payload:       "not json",
			expectedError: ErrMalformed,
		},
		{
			name:          "non-object payload is malformed",
			payload:       `[1,2,3]`,
			expectedError: ErrMalformed,
		},
		{
			name:          "non-scalar parameter value is malformed",
			payload:       `{"user":{"id":1}}`,
			expectedError: ErrMalformed,
		},
		{
			name:          "non-string command is malformed",
			payload:       `{"ws_command":7}`,
			expectedError: ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inbound, err := DecodeInbound([]byte(tt.payload))

			if tt.expectedError != nil {
				require.ErrorIs(t, err, tt.expectedError)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expectedCommand, inbound.Command)
			assert.Equal(t, tt.expectedParams, inbound.Params)
		})
	}
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand("")
	require.NoError(t, err)
	assert.Equal(t, CommandSubscribe, cmd)

	cmd, err = ParseCommand("PING")
	require.NoError(t, err)
	assert.Equal(t, CommandPing, cmd)

	_, err = ParseCommand("unsubscribe")
	require.ErrorIs(t, err, ErrUnknownCommand)
}

func TestEncodeStatus(t *testing.T) {
	payload, err := EncodeStatus(StatusNotFound, map[string]string{"user": "123"})
	require.NoError(t, err)

	var decoded []map[string]string

	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "not_found", decoded[0]["ws_status"])
	assert.Equal(t, "123", decoded[0]["user"])
}

func TestEncodeStatus_NoParams(t *testing.T) {
	payload, err := EncodeStatus(StatusOK, nil)
	require.NoError(t, err)

	var decoded []map[string]string

	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, map[string]string{"ws_status": "ok"}, decoded[0])
}

func TestEncodeRows(t *testing.T) {
	t.Run("rows carry no status field", func(t *testing.T) {
		payload, err := EncodeRows([]map[string]any{
			{"id": float64(1), "name": "alice"},
		})
		require.NoError(t, err)

		var decoded []map[string]any

		require.NoError(t, json.Unmarshal(payload, &decoded))
		require.Len(t, decoded, 1)
		assert.NotContains(t, decoded[0], StatusField)
		assert.Equal(t, "alice", decoded[0]["name"])
	})

	t.Run("nil rows encode as empty array", func(t *testing.T) {
		payload, err := EncodeRows(nil)
		require.NoError(t, err)
		assert.JSONEq(t, `[]`, string(payload))
	})
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "subscribed", StatusSubscribed.String())
	assert.Equal(t, "ok", StatusOK.String())
	assert.Equal(t, "not_found", StatusNotFound.String())
	assert.Equal(t, "internal_error", StatusInternalError.String())
}
