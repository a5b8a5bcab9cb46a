package repository

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/shikkhaloy/student-records-api/internal/metrics"
)

func TestObserveQueryRecordsDuration(t *testing.T) {
	metrics.DBQueryDuration.Reset()

	observeQuery("users_get_by_id", time.Now().Add(-5*time.Millisecond))
	observeQuery("users_get_by_id", time.Now().Add(-2*time.Millisecond))
	observeQuery("students_list", time.Now())

	// One series per operation label.
	if got := testutil.CollectAndCount(metrics.DBQueryDuration); got != 2 {
		t.Errorf("collected series = %d, want 2", got)
	}
}
