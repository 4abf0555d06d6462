// Package main runs the Terabithia relay.
//
// The relay lets the two worlds of a tab run in separate processes: each
// connects to /tabs/<tab>/ws and every frame is broadcast to the room.
//
// Usage:
//
//	./relay -port 8090
//	RELAY_RATE_LIMIT_ENABLED=false ./relay -dev
package main
