// Package tcpserver implements the TCP Acceptor (C8): the bind/accept
// loop that spawns a Socket Handler per incoming sensor connection.
// Grounded on the teacher's main.go server bootstrap pattern
// (construct, serve in a goroutine, shut down on context cancel).
package tcpserver

import (
	"context"
	"net"

	"github.com/wricardo/scrabble-table-server/internal/obs"
	"github.com/wricardo/scrabble-table-server/internal/sensorfleet"
)

// Acceptor binds a TCP listener and spawns a Socket Handler per
// accepted connection.
type Acceptor struct {
	addr  string
	fleet *sensorfleet.ConnectionHandler
	log   *obs.Logger
}

// New constructs an Acceptor for addr (host:port, typically
// ":9189" so it binds every interface as spec.md requires).
func New(addr string, fleet *sensorfleet.ConnectionHandler, log *obs.Logger) *Acceptor {
	return &Acceptor{addr: addr, fleet: fleet, log: log}
}

// Run binds the listener and accepts connections until ctx is
// canceled. Each connection is served in its own goroutine; Run
// returns once the listener is closed.
func (a *Acceptor) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", a.addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	a.log.WithField("addr", a.addr).Info("tcp acceptor listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				a.log.Errorf(err, "accept failed")
				continue
			}
		}
		go a.serve(ctx, conn)
	}
}

func (a *Acceptor) serve(ctx context.Context, conn net.Conn) {
	handler := sensorfleet.NewSocketHandler(conn, a.fleet, a.log.WithField("remote_addr", conn.RemoteAddr().String()))
	if err := handler.Serve(ctx); err != nil {
		a.log.WithField("remote_addr", conn.RemoteAddr().String()).Errorf(err, "sensor connection closed")
	}
}
