package cachekey

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Prefix is the object store namespace for cached chapter audio.
	Prefix = "audio"
	// Version is bumped when the cached audio layout changes.
	Version = "v1"
	// DefaultExtension is the container extension written by the generation worker.
	DefaultExtension = "opus"

	hashLength = 16
)

var (
	// ErrEmptySource indicates the source URL was empty after trimming.
	ErrEmptySource = errors.New("cache key: empty source url")
	// ErrEmptyChapter indicates the chapter identifier was empty after trimming.
	ErrEmptyChapter = errors.New("cache key: empty chapter")
)

// Derive returns the object store key for one chapter of a book. Keys are
// stable across processes: "audio/<hash16>/chapter_<n>-v1.<ext>", where hash16
// is the first 16 hex characters of the MD5 of the normalized source URL.
func Derive(sourceURL, chapter, ext string) (string, error) {
	normalized := Normalize(sourceURL)
	if normalized == "" {
		return "", ErrEmptySource
	}
	chapter = strings.TrimSpace(chapter)
	if chapter == "" {
		return "", ErrEmptyChapter
	}
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = DefaultExtension
	}
	return fmt.Sprintf("%s/%s/chapter_%s-%s.%s", Prefix, Hash(normalized), chapter, Version, ext), nil
}

// DeriveChapter is Derive for a numeric chapter with the default extension.
func DeriveChapter(sourceURL string, chapter int) (string, error) {
	return Derive(sourceURL, strconv.Itoa(chapter), DefaultExtension)
}

// Normalize trims surrounding whitespace, lowercases, and strips one trailing slash.
func Normalize(sourceURL string) string {
	normalized := strings.ToLower(strings.TrimSpace(sourceURL))
	return strings.TrimSuffix(normalized, "/")
}

// Hash returns the 16-character digest used as the book directory name.
func Hash(normalized string) string {
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])[:hashLength]
}
