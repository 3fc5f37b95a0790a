package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a ledger entry in a transport-friendly format.
type Job struct {
	ID            int64  `json:"id"`
	RemoteID      string `json:"remoteId,omitempty"`
	Mode          string `json:"mode"`
	CacheKey      string `json:"cacheKey"`
	BookURL       string `json:"bookUrl"`
	Chapter       string `json:"chapter"`
	UserID        string `json:"userId,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
	Status        string `json:"status"`
	Attempt       int    `json:"attempt"`
	FramesRelayed int    `json:"framesRelayed"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
	CreatedAt     string `json:"createdAt,omitempty"`
	UpdatedAt     string `json:"updatedAt,omitempty"`
}

// JobListResponse wraps GET /api/jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Version     string `json:"version,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// PoolStatus reports transcode slot usage.
type PoolStatus struct {
	Capacity int   `json:"capacity"`
	InUse    int   `json:"inUse"`
	Rejected int64 `json:"rejected"`
}

// DaemonStatus aggregates runtime information.
type DaemonStatus struct {
	Running       bool               `json:"running"`
	PID           int                `json:"pid"`
	StartedAt     string             `json:"startedAt,omitempty"`
	UptimeSeconds float64            `json:"uptimeSeconds"`
	StoreBackend  string             `json:"storeBackend"`
	FallbackMode  string             `json:"fallbackMode"`
	JobsDBPath    string             `json:"jobsDbPath"`
	LockFilePath  string             `json:"lockFilePath"`
	Transcode     PoolStatus         `json:"transcode"`
	JobStats      map[string]int     `json:"jobStats"`
	Dependencies  []DependencyStatus `json:"dependencies"`
}

// HealthResponse is served by GET /healthz.
type HealthResponse struct {
	Status           string `json:"status"`
	TranscodesActive int    `json:"transcodesActive"`
}
