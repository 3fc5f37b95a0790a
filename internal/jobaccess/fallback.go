package jobaccess

import (
	"fmt"
	"strings"

	"novelverse/internal/api"
	"novelverse/internal/jobs"
)

// Session represents a ledger access handle and its cleanup function.
type Session struct {
	Access Access
	// Direct is true when the daemon was unreachable and the ledger was
	// opened from disk.
	Direct bool
	close  func() error
}

// Close releases resources associated with the session.
func (s Session) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenWithFallback tries the daemon API first, then falls back to opening
// the ledger directly. A daemon that answers with an error is reported, not
// bypassed.
func OpenWithFallback(
	client *api.Client,
	probe func(*api.Client) error,
	openStore func() (*jobs.Store, error),
) (Session, error) {
	if client != nil && probe != nil {
		err := probe(client)
		if err == nil {
			return Session{Access: NewAPIAccess(client)}, nil
		}
		if !api.IsAPIUnavailable(err) {
			return Session{}, err
		}
	}

	if openStore == nil {
		return Session{}, fmt.Errorf("open job ledger: no store opener configured")
	}
	store, err := openStore()
	if err != nil {
		return Session{}, fmt.Errorf("open job ledger: %w", err)
	}
	return Session{
		Access: NewStoreAccess(store),
		Direct: true,
		close:  store.Close,
	}, nil
}

// ParseStatuses validates status filter values.
func ParseStatuses(values []string) ([]jobs.Status, error) {
	var out []jobs.Status
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			continue
		}
		status, ok := jobs.ParseStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown job status %q", value)
		}
		out = append(out, status)
	}
	return out, nil
}
