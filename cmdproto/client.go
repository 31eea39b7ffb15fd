// Copyright 2026 The Detectorstream Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cmdproto

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrBadResponse is returned by Client.Send when the reply's magic,
// sequence, or HMAC does not match the request just sent.
var ErrBadResponse = errors.New("cmdproto: response failed validation")

// Client sends authenticated commands to a Server and waits for the
// matching response, generalizing the teacher's synchronous conn.Conn.Tx
// request/response call to a network round trip with explicit
// cancellation.
type Client struct {
	conn net.Conn
	key  []byte
	seq  uint32
}

// NewClient returns a Client that sends commands over conn (already
// dialed to the server's control address) signed with key.
func NewClient(conn net.Conn, key []byte) *Client {
	return &Client{conn: conn, key: key}
}

// Send encodes cmd/payload with the next sequence number, writes it, and
// blocks for the matching response or until ctx is done. A ctx with no
// deadline (e.g. a cancel-only context) is honored too: the pending read
// is unblocked by forcing the connection's read deadline to fire.
func (c *Client) Send(ctx context.Context, cmd CommandID, payload []byte) (Status, []byte, error) {
	seq := c.seq
	c.seq++

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
	} else {
		c.conn.SetWriteDeadline(time.Time{})
	}

	frame := EncodeCommand(c.key, seq, cmd, payload)
	if _, err := c.conn.Write(frame); err != nil {
		return 0, nil, fmt.Errorf("cmdproto: write command: %w", err)
	}

	type readResult struct {
		n   int
		err error
	}
	buf := make([]byte, 65536)
	resultCh := make(chan readResult, 1)
	go func() {
		n, err := c.conn.Read(buf)
		resultCh <- readResult{n: n, err: err}
	}()

	var n int
	select {
	case <-ctx.Done():
		c.conn.SetReadDeadline(time.Now())
		<-resultCh
		return 0, nil, ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return 0, nil, fmt.Errorf("cmdproto: read response: %w", res.err)
		}
		n = res.n
	}

	d, err := decodeFrame(buf[:n])
	if err != nil {
		return 0, nil, err
	}
	if d.magic != ResponseMagic || d.sequence != seq {
		return 0, nil, ErrBadResponse
	}
	want := sign(c.key, ResponseMagic, d.sequence, d.field, d.payload)
	if !hmac.Equal(want[:], d.mac[:]) {
		return 0, nil, ErrBadResponse
	}
	return Status(d.field), d.payload, nil
}

// NextSequence reports the sequence number Send will use next, for tests
// and logging.
func (c *Client) NextSequence() uint32 { return c.seq }
