package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"novelverse/internal/config"
)

// WriteObject stores data under key in the config's local object store and
// returns the file path.
func WriteObject(t testing.TB, cfg *config.Config, key string, data []byte) string {
	t.Helper()

	path := filepath.Join(cfg.Store.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// Pattern returns size bytes of a repeating pattern. A size <= 0 yields a
// single byte.
func Pattern(size int) []byte {
	if size <= 0 {
		size = 1
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte('A' + i%26)
	}
	return buf
}
