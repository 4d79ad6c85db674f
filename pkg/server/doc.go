// Package server implements the server side of the SockJS protocol: sessions
// that survive across HTTP exchanges, the transport endpoint tree, and the
// WebSocket endpoints.
//
// # Architecture
//
// The package is built from a few cooperating pieces:
//
//   - Session: the logical connection, with its state machine, outbound
//     buffer, timers and callback dispatch goroutine
//   - Registry: all live sessions by id, with creation, lookup and draining
//   - Handler: the HTTP endpoint tree (greeting, info, iframe, transports)
//   - Server: a Handler bound to a listener with graceful shutdown
//
// # Sessions and receivers
//
// A session is identified by the id in the transport URL and lives
// independently of any single connection. At most one receiver exchange is
// attached at a time and pushes frames to the client; sender exchanges
// deliver payloads into the session from any connection. Polling receivers
// complete after one frame, streaming receivers after a byte budget, and the
// session buffers outbound messages whenever no receiver is attached.
//
// Service callbacks run on one goroutine per session, in order: OnOpen
// first, then OnMessage per inbound message, and finally exactly one
// OnClose, whether the close was orderly or a timeout.
//
// # Example Usage
//
//	echo := server.ServiceFunc(func(s *server.Session, msg string) {
//	    s.Send(msg)
//	})
//
//	srv, err := server.New(echo, server.DefaultConfig().WithPrefix("/echo"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv.Run()
//
// Applications with their own router mount a Handler instead:
//
//	h, _ := server.NewHandler(echo, nil)
//	r := chi.NewRouter()
//	r.Mount("/echo", h)
//
// # Thread Safety
//
// Session methods are safe for concurrent use from any goroutine, including
// from inside service callbacks. Session.mu serializes state changes and
// frame writes; the registry uses an RWMutex around its map.
package server
