// Package main runs an extension's content scripts in Terabithia domains.
//
// The manifest names the bridge id and assigns scripts to the ISOLATED and
// MAIN worlds. With the memory transport both worlds run in this process
// and share an in-process channel. With the ws or redis transports each
// process hosts one world and frames travel through a relay room or a
// Redis topic keyed by tab id.
//
// Configuration:
//   - Environment variables (BRIDGE_*, TRANSPORT, TAB_ID, RELAY_URL, ...)
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Both worlds in one process
//	./terabithia -manifest ext/manifest.yaml
//
//	# One world per process over a relay
//	./terabithia -manifest ext/manifest.yaml -transport ws -world ISOLATED -tab t1
//	./terabithia -manifest ext/manifest.yaml -transport ws -world MAIN -tab t1
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
