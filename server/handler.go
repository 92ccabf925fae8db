package server

import "github.com/andrei-cloud/sockframe"

// Handler serves one accepted connection. It drives Receive and Reply
// and is expected to close the connection before returning.
type Handler interface {
	Handle(conn *sockframe.Conn) error
}

// HandlerFunc is an adapter to allow the use of ordinary functions as Handlers.
type HandlerFunc func(conn *sockframe.Conn) error

// Handle calls f with the connection.
func (f HandlerFunc) Handle(c *sockframe.Conn) error {
	return f(c)
}
