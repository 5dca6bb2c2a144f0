// Package client implements the request side of the dashboard socket: the
// SocketHelper multiplexer and a typed client for the database endpoints.
//
// The package focuses on:
//   - Correlating responses to requests over one shared transport
//   - Request timeouts and rejection of outstanding requests on teardown
//   - Routing control actions and push messages to the event bus
//   - Typed access to the database endpoints
//
// Key Components:
//
//   - SocketHelper: issues requests with unique "req_<n>" ids and waits for
//     the response carrying the same id. Every inbound frame passes through
//     HandleFrame, which publishes one bus event per frame and completes the
//     matching pending request.
//
//   - DBClient: get, set, remove, read, dbStats, dataTypeAnalyze, benchmark,
//     persistent and reload on top of any IFetcher. Responses with
//     success=false are returned as *ApplicationError, successful writes
//     publish the matching reload events.
//
// Usage Example:
//
//	cfg := common.ClientConfig{Host: "localhost", Port: 6401}
//	bus := eventbus.New()
//	tr := ws.NewWSClientTransport(cfg)
//	helper := client.NewSocketHelper(tr, serializer.NewJSONSerializer(), bus, cfg)
//	tr.Connect(cfg.URL(token), transport.Listener{
//		OnMessage: helper.HandleFrame,
//		OnClose:   func(error) { helper.Close() },
//	})
//
//	db := client.NewDBClient(helper, bus)
//	entry, err := db.Get(ctx, "mykey")
//
// In an application the session controller owns transport and helper and
// implements IFetcher itself, so a DBClient survives reconnects.
//
// Thread Safety:
//
//	SocketHelper and DBClient are safe for concurrent use. Metrics are
//	registered in the default VictoriaMetrics set.
package client
