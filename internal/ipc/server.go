package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
)

// Handler processes one validated control command.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Serve accepts control clients until context cancellation or listener close.
// Unknown commands are refused here; the handler only sees the command set
// the session actually serves.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	var wg sync.WaitGroup

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			return fmt.Errorf("accept control connection: %w", err)
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			defer c.Close()
			serveConn(ctx, c, handler)
		}(conn)
	}
}

// serveConn runs the one-request lifecycle of a control connection.
func serveConn(ctx context.Context, conn net.Conn, handler Handler) {
	var req Request
	if err := readMessage(bufio.NewReader(conn), &req); err != nil {
		_ = writeMessage(conn, Response{OK: false, Error: fmt.Sprintf("read request: %v", err)})
		return
	}

	if !KnownCommand(req.Command) {
		_ = writeMessage(conn, Response{OK: false, Error: fmt.Sprintf("unknown command: %s", req.Command)})
		return
	}

	_ = writeMessage(conn, handler.Handle(ctx, req))
}
