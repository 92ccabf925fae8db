// Package sockframe provides framed request/response messaging over TCP,
// a client connector, connection pooling, and a request broker.
//
// Features:
//   - Message framing: Conn.Reply writes a JSON header declaring the body
//     length, the separator "\nHEADER_END\n", then the body in 8096-byte
//     chunks. Conn.Receive reassembles one message across any number of
//     reads and reports ErrMalformedHeader, ErrIncompleteMessage or
//     ErrTimeout.
//   - Deadlines: a Conn timeout bounds each whole Receive or Reply. The
//     socket deadline is armed to the same instant before every read or
//     write, so the runtime fails a stalled call; the framing loop re-checks
//     the deadline between calls.
//   - Client: Dial connects from an ephemeral local port; Connect and
//     ConnectAsync run a ClientHandler synchronously or on a new goroutine.
//   - Connection Pool: NewPool keeps reusable client connections.
//   - Broker: NewBroker runs workers that each take a pooled connection for
//     one request and one reply.
//   - TCP Server: see the server subpackage for the listener, admission
//     control and worker pool.
//
// Basic Client Example:
//
//	conn, err := sockframe.Dial(ctx, "localhost:9000", 5*time.Second)
//	if err != nil {
//	    // handle error
//	}
//	defer conn.Close()
//	if err := conn.ReplyString("hello"); err != nil {
//	    // handle error
//	}
//	msg, err := conn.Receive()
//
// Basic Server Example:
//
//	handler := server.HandlerFunc(func(c *sockframe.Conn) error {
//	    defer c.Close()
//	    msg, err := c.Receive()
//	    if err != nil {
//	        return err
//	    }
//	    return c.Reply(msg.Body)
//	})
//	srv, err := server.NewServer(":9000", handler, nil)
//	if err != nil {
//	    // handle error
//	}
//	if err := srv.Start(); err != nil {
//	    // handle error
//	}
//	defer srv.Stop()
package sockframe
