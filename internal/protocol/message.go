//nolint:tagliatelle // wire format is snake-case.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// CommandField carries the inbound command; every other field of an
	// inbound frame is a subscription parameter.
	CommandField = "ws_command"

	// StatusField tags outbound status payloads. Periodic result pushes
	// carry no status field.
	StatusField = "ws_status"
)

// ErrMalformed indicates an inbound frame that cannot be processed at all:
// empty, unparsable, or carrying non-scalar parameter values. It is a
// protocol violation and the session must be closed.
var ErrMalformed = errors.New("malformed message")

// ErrUnknownCommand indicates an inbound frame with an unrecognized
// ws_command value. It is a protocol violation and the session must be closed.
var ErrUnknownCommand = errors.New("unknown command")

// Command is the closed set of inbound commands.
type Command int

const (
	// CommandSubscribe requests a (re)subscription; it is also the implicit
	// default when a frame carries no ws_command field.
	CommandSubscribe Command = iota

	// CommandPing requests the subscriber's current subscription state.
	CommandPing
)

// String returns the wire form of the command.
func (c Command) String() string {
	switch c {
	case CommandSubscribe:
		return "subscribe"
	case CommandPing:
		return "ping"
	default:
		return fmt.Sprintf("command(%d)", int(c))
	}
}

// ParseCommand maps a wire command string onto the closed command set.
// The empty string is the implicit subscribe.
func ParseCommand(raw string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "subscribe":
		return CommandSubscribe, nil
	case "ping":
		return CommandPing, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, raw)
	}
}

// Status is the closed set of outbound statuses.
type Status int

const (
	// StatusSubscribed acknowledges an active subscription.
	StatusSubscribed Status = iota

	// StatusOK acknowledges a ping with no active subscription.
	StatusOK

	// StatusNotFound reports a parameter set matching no statement.
	StatusNotFound

	// StatusInternalError reports a query execution failure on a poll.
	StatusInternalError
)

// String returns the wire form of the status.
func (s Status) String() string {
	switch s {
	case StatusSubscribed:
		return "subscribed"
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusInternalError:
		return "internal_error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Inbound is one decoded client frame.
type Inbound struct {
	Command Command
	Params  map[string]string
}

// DecodeInbound parses a client frame. Parameter names are lower-cased;
// values may be JSON strings, numbers, or booleans and are normalized to
// strings. Anything else is malformed.
func DecodeInbound(data []byte) (*Inbound, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var (
		commandRaw string
		params     = make(map[string]string, len(raw))
	)

	for key, value := range raw {
		name := strings.ToLower(strings.TrimSpace(key))

		if name == CommandField {
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must be a string", ErrMalformed, CommandField)
			}

			commandRaw = s

			continue
		}

		s, err := stringifyValue(value)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %q: %v", ErrMalformed, name, err)
		}

		params[name] = s
	}

	command, err := ParseCommand(commandRaw)
	if err != nil {
		return nil, err
	}

	return &Inbound{
		Command: command,
		Params:  params,
	}, nil
}

// stringifyValue normalizes a scalar JSON value to its string form.
func stringifyValue(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", fmt.Errorf("value must be a string, number, or boolean")
	}
}

// EncodeStatus builds an outbound status payload: a JSON array containing
// one object that echoes the supplied parameters plus the status field.
func EncodeStatus(status Status, params map[string]string) ([]byte, error) {
	obj := make(map[string]string, len(params)+1)
	for k, v := range params {
		obj[k] = v
	}

	obj[StatusField] = status.String()

	return json.Marshal([]map[string]string{obj})
}

// EncodeRows builds a periodic result push: the query result rows with no
// status field. An empty result set encodes as an empty array.
func EncodeRows(rows []map[string]any) ([]byte, error) {
	if rows == nil {
		rows = []map[string]any{}
	}

	return json.Marshal(rows)
}
