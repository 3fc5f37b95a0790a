package logging

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

const redacted = "[redacted]"

// secretKeys never reach a log sink with their value.
var secretKeys = map[string]bool{
	"api_key":       true,
	"api_token":     true,
	"token":         true,
	"authorization": true,
	"password":      true,
}

// IsSecretKey reports whether values logged under key are masked.
func IsSecretKey(key string) bool {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}
	return secretKeys[strings.ToLower(key)]
}

// redactURL drops userinfo and the values of secret query parameters.
func redactURL(raw string) string {
	if !strings.Contains(raw, "://") {
		return raw
	}
	scheme, rest, _ := strings.Cut(raw, "://")
	if at := strings.IndexByte(rest, '@'); at >= 0 && at < strings.IndexAny(rest+"/", "/?") {
		rest = rest[at+1:]
	}
	path, query, hasQuery := strings.Cut(rest, "?")
	if !hasQuery {
		return scheme + "://" + path
	}
	params := strings.Split(query, "&")
	for i, param := range params {
		if name, _, ok := strings.Cut(param, "="); ok && IsSecretKey(name) {
			params[i] = name + "=" + redacted
		}
	}
	return scheme + "://" + path + "?" + strings.Join(params, "&")
}

func jsonReplaceAttr(_ []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case slog.TimeKey:
		attr.Key = "ts"
		if attr.Value.Kind() == slog.KindTime {
			attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(time.RFC3339))
		}
		return attr
	case slog.LevelKey:
		attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
		return attr
	case slog.SourceKey:
		if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
			attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
		}
		return attr
	}
	return scrub(attr)
}

func scrub(attr slog.Attr) slog.Attr {
	if IsSecretKey(attr.Key) {
		return slog.String(attr.Key, redacted)
	}
	if attr.Value.Kind() == slog.KindString {
		if s := attr.Value.String(); strings.Contains(s, "://") {
			attr.Value = slog.StringValue(redactURL(s))
		}
	}
	return attr
}
