// Package truenas provides a persistent JSON-RPC-over-WebSocket
// client for the TrueNAS management API.
//
// The package splits the session into two pieces:
//
//   - Transport: owns the socket, reconnects with exponential backoff
//     under any network failure, and fans inbound frames and
//     connectivity transitions out to registered handlers.
//   - Coordinator: correlates requests to responses, re-authenticates
//     after every reconnect, and keeps a cache of the last-known
//     payload per logical key, refreshed in batches.
//
// Basic usage:
//
//	transport, err := truenas.NewTransport(truenas.Config{
//	    Address: "nas.example.net",
//	    APIKey:  "1-abcdef",
//	}, truenas.LogErrors(log.Default()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	coord, err := truenas.NewCoordinator(transport, truenas.LogErrors(log.Default()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := transport.Connect(); err != nil {
//	    log.Fatal(err)
//	}
//	defer transport.Close()
//
//	data, err := coord.Refresh(ctx)
//	if err != nil {
//	    log.Printf("no update this cycle: %v", err)
//	}
//
// A refresh failure means "data unchanged since last success": the
// cache keeps serving the previous values and the next cycle tries
// again.
package truenas
