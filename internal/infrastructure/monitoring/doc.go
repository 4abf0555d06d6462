/*
Package monitoring provides metrics collection for bridge endpoints and the relay.

# Overview

Each Metrics value owns a Prometheus registry, so several endpoints and
test cases can create collectors without clashing on the default registry.
All recording methods accept a nil receiver and do nothing, which lets
components treat metrics as optional.

# Features

- Envelope traffic per domain and kind (sent, received, dropped)
- Outbound call outcomes and round-trip latency
- Inbound handler invocation outcomes
- Pending call and proxy gauges
- Relay HTTP requests, WebSocket connections, rooms and frames

# Usage

	metrics := monitoring.NewMetrics()

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "MAIN")
	// ... await response ...
	timer.Stop("success")
*/
package monitoring
