// Package metrics provides Prometheus observability for the naming server.
//
// The Recorder interface is optional everywhere it is accepted: passing nil
// disables collection with zero overhead.
package metrics

import "time"

// Recorder collects naming server metrics.
type Recorder interface {
	// RecordRequest records a completed client operation with its wire
	// operation name, response status name, and processing duration.
	RecordRequest(operation, status string, duration time.Duration)

	// SetActiveClients updates the current client connection count.
	SetActiveClients(count int32)

	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionForceClosed counts connections closed after the
	// shutdown drain timed out.
	RecordConnectionForceClosed()

	// SetStorageServers updates the registered and active fleet gauges.
	SetStorageServers(active, registered int)

	// RecordHeartbeatFailure counts a failed heartbeat per storage server.
	RecordHeartbeatFailure(ssid string)

	// RecordSearch counts a search memo lookup by outcome.
	RecordSearch(hit bool)

	// RecordFallback counts a read served off the fallback chain by source:
	// cache, backup, failover, or none.
	RecordFallback(source string)
}
