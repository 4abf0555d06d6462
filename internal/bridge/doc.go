/*
Package bridge implements the Terabithia remote-procedure bridge between two
execution domains that share one page: the privileged ISOLATED domain and
the unprivileged MAIN domain.

Each domain owns one Endpoint. Endpoints exchange JSON envelopes over a
broadcast channel.Channel and ignore anything not sent by their
counterpart under the same bridge id.

# Protocol

	ISOLATED                              MAIN
	   | -- announcement {command} -------> |  proxy installed
	   | <------- invocation {id, payload} - |  CallRemote / Proxy.Call
	   |  handler runs in its own goroutine  |
	   | -- response {id, result} ---------> |  pending call resolved

Every accepted invocation is answered by exactly one response carrying the
same message id: the handler's value, or a failure object of the form
{"success": false, "message": "..."} for unknown commands and handler
errors.

# Usage

	hub := bridge.DefaultHub()
	ep, _, err := hub.GetOrCreate(ctx, ch, bridge.Options{
		BridgeID: "my-extension",
		Domain:   bridge.Isolated,
		Proxies:  true,
	})

	err = ep.RegisterHandlers(bridge.Handlers{
		"getUser": bridge.Typed[UserQuery, User](lookupUser),
	})

	user, err := bridge.CallAs[User](ctx, other, "getUser", UserQuery{ID: 1})

Waiting is bounded only by the caller's context and Options.CallTimeout.
When a domain is torn down (its context is cancelled or its channel
closes), every pending call resolves with ErrEndpointClosed.
*/
package bridge
