package repository

import (
	"time"

	"github.com/shikkhaloy/student-records-api/internal/metrics"
)

// observeQuery records a query's duration under its operation label.
// Used as `defer observeQuery("users_get_by_id", time.Now())`.
func observeQuery(operation string, start time.Time) {
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
