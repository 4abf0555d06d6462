/*
Package resilience provides a circuit breaker for transport dependencies.

The WebSocket channel wraps relay dials and writes in a Breaker so a relay
that is down fails fast instead of stalling every publish.

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           v
	                                         Open

Usage:

	breaker := resilience.New("relay", resilience.Settings{
		Timeout: 5 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	})

	err := breaker.Execute(ctx, func(ctx context.Context) error {
		return conn.WriteMessage(websocket.TextMessage, data)
	})
*/
package resilience
