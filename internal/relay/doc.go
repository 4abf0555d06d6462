// Package relay carries bridge frames between processes.
//
// A relay groups WebSocket connections into rooms, one per tab, and
// broadcasts every frame it reads to every connection in the room,
// sender included. Processes hosting the ISOLATED and MAIN domains of the
// same tab join the same room through channel.DialWebSocket and see the
// same shared medium a page's window provides.
//
// Routes:
//   - GET /tabs/:tab/ws  join a room
//   - GET /tabs          peer counts per room
//   - GET /health        liveness
//   - GET /stats         JSON counters
//   - GET /metrics       Prometheus exposition
//
// Example Usage:
//
//	srv := relay.NewServer(relay.DefaultConfig(), logger, metrics)
//	go srv.Run(ctx)
//
//	client := relay.NewClient("ws://localhost:8090", relay.DefaultClientConfig())
//	if err := client.WaitReady(ctx); err != nil { ... }
package relay
