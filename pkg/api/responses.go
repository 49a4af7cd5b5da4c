package api

import (
	"github.com/chatbridge/linecore/pkg/database"
	"github.com/chatbridge/linecore/pkg/media"
)

// HealthCheck is one named probe inside the health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Database  *database.HealthStatus `json:"database,omitempty"`
	Checks    map[string]HealthCheck `json:"checks"`
	MediaPool *media.PoolHealth      `json:"media_pool,omitempty"`
}
