package metrics

import (
	"fmt"
	"net/http"

	"github.com/VictoriaMetrics/metrics"
)

var (
	// Allocation metrics
	AllocationsTotal     = metrics.NewCounter(`ipamd_allocations_total`)
	ReleasesTotal        = metrics.NewCounter(`ipamd_releases_total`)
	PoolExhausted        = metrics.NewCounter(`ipamd_pool_exhausted_total`)
	AttributeSyncRetries = metrics.NewCounter(`ipamd_attribute_sync_retries_total`)
	AttributeSyncFailed  = metrics.NewCounter(`ipamd_attribute_sync_failures_total`)

	// Subnet metrics
	SubnetOverlapRejected = metrics.NewCounter(`ipamd_subnet_overlap_rejected_total`)

	// Migration metrics
	MigrationsStarted      = metrics.NewCounter(`ipamd_migrations_started_total`)
	MigrationsCompleted    = metrics.NewCounter(`ipamd_migrations_completed_total`)
	MigrationsAbandoned    = metrics.NewCounter(`ipamd_migrations_abandoned_total`)
	MigrationClientsMoved  = metrics.NewCounter(`ipamd_migration_clients_migrated_total`)
	MigrationClientsFailed = metrics.NewCounter(`ipamd_migration_clients_failed_total`)
	MigrationRollbacks     = metrics.NewCounter(`ipamd_migration_rollbacks_total`)
	MigrationDuration      = metrics.NewHistogram(`ipamd_migration_duration_seconds`)

	// HTTP metrics
	HTTPRequestsTotal   = metrics.NewCounter(`ipamd_http_requests_total`)
	HTTPRequestDuration = metrics.NewHistogram(`ipamd_http_request_duration_seconds`)

	// Auth metrics
	AuthFailures  = metrics.NewCounter(`ipamd_auth_failures_total`)
	AuthSuccesses = metrics.NewCounter(`ipamd_auth_successes_total`)
)

// Handler returns the metrics handler for Prometheus scraping
func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	}
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, path string, statusCode int, duration float64) {
	HTTPRequestsTotal.Inc()
	HTTPRequestDuration.Update(duration)

	counter := metrics.GetOrCreateCounter(
		fmt.Sprintf(`ipamd_http_requests_total{method=%q,path=%q,status="%d"}`,
			method, path, statusCode))
	counter.Inc()
}

// SetSubnetFree publishes the number of free addresses in a subnet.
func SetSubnetFree(subnetID string, free uint64) {
	metrics.GetOrCreateGauge(fmt.Sprintf(`ipamd_subnet_free_addresses{subnet=%q}`, subnetID), nil).Set(float64(free))
}
