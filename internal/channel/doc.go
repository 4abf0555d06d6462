// Package channel provides the broadcast medium two bridge domains share.
//
// A Channel behaves like window.postMessage on one page: every frame a
// publisher sends is delivered to every current subscriber, the publisher's
// own subscriptions included. Frames are opaque bytes; receivers filter
// what is theirs.
//
// Implementations:
//   - Memory: in-process fan-out, used when both domains run in one process
//   - WebSocket: a connection to a relay room shared by one tab
//   - Redis: a pub/sub channel per tab
//
// Recorder wraps any Channel and writes the traffic it observes to a
// zstd-compressed log.
package channel
