package server

import (
	"net"

	"github.com/andrei-cloud/sockframe"
)

// initConn configures TCP keepalive and applies the connection timeout to
// the socket before the handler runs.
func (s *Server) initConn(c *sockframe.Conn) {
	if tcpConn, ok := c.NetConn().(*net.TCPConn); ok {
		if s.config.KeepAliveInterval > 0 {
			if err := tcpConn.SetKeepAlive(true); err != nil {
				s.config.Logger.Warnf("connection %d keepalive: %v", c.ID(), err)
			}
			if err := tcpConn.SetKeepAlivePeriod(s.config.KeepAliveInterval); err != nil {
				s.config.Logger.Warnf("connection %d keepalive period: %v", c.ID(), err)
			}
		}
	}

	if err := c.ApplyTimeout(); err != nil {
		s.config.Logger.Warnf("connection %d set deadline: %v", c.ID(), err)
	}
}
