package client

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/envlink/errors"
)

// Transport is one established connection to a sensor server carrying
// newline-delimited JSON messages. Implementations are not safe for
// concurrent reads; the read loop is the only reader. Close may be
// called from another goroutine to force an in-flight read to return.
type Transport interface {
	// ReadMessage returns the next message with framing stripped.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one framed message.
	WriteMessage(data []byte) error
	// SetReadDeadline bounds the next ReadMessage.
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer establishes a Transport to addr, observing ctx for the connect
// deadline.
type Dialer func(ctx context.Context, addr string) (Transport, error)

// dialerFor selects the dialer for a configured transport name.
func dialerFor(kind string) (Dialer, error) {
	switch kind {
	case "tcp":
		return dialTCP, nil
	case "ws":
		return dialWebSocket, nil
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("unknown transport %q", kind), "client", "dialerFor", "transport lookup")
	}
}

// messageTerminator frames messages on the TCP transport. The server
// accepts bare "\n" but always sends "\r\n".
var messageTerminator = []byte("\r\n")

type tcpTransport struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dialTCP(ctx context.Context, addr string) (Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.WrapTransient(err, "client", "dialTCP", "dial")
	}
	return &tcpTransport{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}, nil
}

func (t *tcpTransport) ReadMessage() ([]byte, error) {
	line, err := t.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

func (t *tcpTransport) WriteMessage(data []byte) error {
	framed := make([]byte, 0, len(data)+len(messageTerminator))
	framed = append(framed, data...)
	framed = append(framed, messageTerminator...)
	_, err := t.conn.Write(framed)
	return err
}

func (t *tcpTransport) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

// wsTransport carries the same line protocol over websocket text frames,
// one message per frame, for servers deployed behind HTTP-only ingress.
type wsTransport struct {
	conn *websocket.Conn
}

func dialWebSocket(ctx context.Context, addr string) (Transport, error) {
	url := fmt.Sprintf("ws://%s/", addr)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.WrapTransient(err, "client", "dialWebSocket", "dial")
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(data, "\r\n"), nil
}

func (t *wsTransport) WriteMessage(data []byte) error {
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
