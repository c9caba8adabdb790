package protocol

import (
	"net/url"
	"strings"
)

// ParamsFromQuery parses "&"-separated key=value pairs from a connection
// URI's query string. Names are lower-cased; pairs without a name are
// dropped. Returns nil when nothing usable is present.
func ParamsFromQuery(rawQuery string) map[string]string {
	if rawQuery == "" {
		return nil
	}

	params := make(map[string]string)

	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}

		key, value, _ := strings.Cut(pair, "=")

		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}

		if unescaped, err := url.QueryUnescape(value); err == nil {
			value = unescaped
		}

		params[key] = value
	}

	if len(params) == 0 {
		return nil
	}

	return params
}

// ParamsFromPath interprets a trailing "/collection/identifier" path pair as
// one synthetic parameter: the singularized collection segment names the
// parameter, the identifier is its value ("/users/123" -> {user: "123"}).
// Returns nil when the path carries fewer than two segments.
func ParamsFromPath(path string) map[string]string {
	segments := make([]string, 0, 4)

	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}

	if len(segments) < 2 {
		return nil
	}

	collection := strings.ToLower(segments[len(segments)-2])
	identifier := segments[len(segments)-1]

	name := singularize(collection)
	if name == "" {
		return nil
	}

	return map[string]string{name: identifier}
}

// singularize strips one trailing "s" from a collection name.
func singularize(name string) string {
	if len(name) > 1 && strings.HasSuffix(name, "s") {
		return name[:len(name)-1]
	}

	return name
}
