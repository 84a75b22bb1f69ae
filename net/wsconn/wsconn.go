// Package wsconn is the reference net.PeerChannel transport: the
// net/message wire frames carried duplex over a gorilla/websocket
// connection, one round trip (write, then blocking read) per call, mirroring
// the teacher's rpcclient/wsclient.wsClient write-then-read pattern. Unlike
// the teacher's client, which dials once for an RPC session, a swap's
// channel can outlive a single TCP connection, so a write that fails
// triggers a redial with exponential backoff bounded by the redialBound
// passed to Dial, followed by one retry of the write. A read that fails is
// returned to the caller without a redial.
package wsconn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"github.com/athanorlabs/xmr-btc-swap/common"
	xmrnet "github.com/athanorlabs/xmr-btc-swap/net"
	"github.com/athanorlabs/xmr-btc-swap/net/message"
)

var log = logging.Logger("net/wsconn")

const (
	initialRedialBackoff = 500 * time.Millisecond
	backoffMultiplier     = 2
	dialTimeout           = 10 * time.Second
)

// Conn is a gorilla/websocket-backed net.PeerChannel.
type Conn struct {
	mu sync.Mutex

	endpoint    string
	redialBound time.Duration
	conn        *websocket.Conn
}

var _ xmrnet.PeerChannel = (*Conn)(nil)

// Dial opens the connection to endpoint, redialing with exponential backoff
// (capped and bounded by redialBound) until it succeeds or the bound is
// exceeded.
func Dial(ctx context.Context, endpoint string, redialBound time.Duration) (*Conn, error) {
	c := &Conn{endpoint: endpoint, redialBound: redialBound}
	if err := c.redial(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Conn) redial(ctx context.Context) error {
	backoff := initialRedialBackoff
	deadline := time.Now().Add(c.redialBound)
	var lastErr error

	for {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("net/wsconn: gave up redialing %s after %s: %w", c.endpoint, c.redialBound, lastErr)
		}

		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, c.endpoint, nil)
		cancel()
		if err == nil {
			if resp != nil {
				_ = resp.Body.Close()
			}
			c.conn = conn
			return nil
		}

		lastErr = err
		log.Warnf("net/wsconn: dial %s failed, retrying in %s: %s", c.endpoint, backoff, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= backoffMultiplier
		if backoff > c.redialBound {
			backoff = c.redialBound
		}
	}
}

// roundTrip writes one framed message and blocks for the framed reply. A
// failed write triggers one redial and one retried write; a failed read is
// returned as an error.
func (c *Conn) roundTrip(ctx context.Context, m message.Message) (message.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := m.Encode()
	if err != nil {
		return nil, fmt.Errorf("net/wsconn: encode %s: %w", m.Type(), err)
	}
	if len(b) > message.MaxSize {
		return nil, fmt.Errorf("net/wsconn: encoded %s exceeds MaxSize", m.Type())
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		_ = c.conn.SetReadDeadline(deadline)
	}

	if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		log.Warnf("net/wsconn: write to %s failed, redialing: %s", c.endpoint, err)
		if rerr := c.redial(ctx); rerr != nil {
			return nil, fmt.Errorf("net/wsconn: write failed and redial failed: %w", rerr)
		}
		if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
			return nil, fmt.Errorf("net/wsconn: write failed after redial: %w", err)
		}
	}

	_, respBytes, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("net/wsconn: read from %s failed: %w", c.endpoint, err)
	}

	reply, err := message.Decode(respBytes)
	if err != nil {
		return nil, err
	}
	log.Debugf("net/wsconn: %s -> %s", m.Type(), reply.Type())
	return reply, nil
}

// SendQuote implements net.PeerChannel.
func (c *Conn) SendQuote(ctx context.Context) (*message.QuoteResponse, error) {
	reply, err := c.roundTrip(ctx, &message.QuoteRequest{})
	if err != nil {
		return nil, err
	}
	resp, ok := reply.(*message.QuoteResponse)
	if !ok {
		return nil, fmt.Errorf("net/wsconn: unexpected reply type %s to QuoteRequest", reply.Type())
	}
	return resp, nil
}

// RunSetup implements net.PeerChannel.
func (c *Conn) RunSetup(ctx context.Context, m message.Message) (message.Message, error) {
	return c.roundTrip(ctx, m)
}

// SendTransferProof implements net.PeerChannel.
func (c *Conn) SendTransferProof(ctx context.Context, m *message.TransferProof) (*message.TransferProofAck, error) {
	reply, err := c.roundTrip(ctx, m)
	if err != nil {
		return nil, err
	}
	ack, ok := reply.(*message.TransferProofAck)
	if !ok {
		return nil, fmt.Errorf("net/wsconn: unexpected reply type %s to TransferProof", reply.Type())
	}
	return ack, nil
}

// SendEncSig implements net.PeerChannel.
func (c *Conn) SendEncSig(ctx context.Context, m *message.EncryptedSignature) (*message.EncryptedSignatureAck, error) {
	reply, err := c.roundTrip(ctx, m)
	if err != nil {
		return nil, err
	}
	ack, ok := reply.(*message.EncryptedSignatureAck)
	if !ok {
		return nil, fmt.Errorf("net/wsconn: unexpected reply type %s to EncryptedSignature", reply.Type())
	}
	return ack, nil
}

// RequestCoopRedeem implements net.PeerChannel.
func (c *Conn) RequestCoopRedeem(ctx context.Context, id common.SwapID) (*message.CoopRedeemResponse, error) {
	reply, err := c.roundTrip(ctx, &message.CoopRedeemRequest{SwapID: id})
	if err != nil {
		return nil, err
	}
	resp, ok := reply.(*message.CoopRedeemResponse)
	if !ok {
		return nil, fmt.Errorf("net/wsconn: unexpected reply type %s to CoopRedeemRequest", reply.Type())
	}
	return resp, nil
}

// RequestEarlyRefund implements net.PeerChannel.
func (c *Conn) RequestEarlyRefund(ctx context.Context, id common.SwapID) (*message.EarlyRefundResponse, error) {
	reply, err := c.roundTrip(ctx, &message.EarlyRefundRequest{SwapID: id})
	if err != nil {
		return nil, err
	}
	resp, ok := reply.(*message.EarlyRefundResponse)
	if !ok {
		return nil, fmt.Errorf("net/wsconn: unexpected reply type %s to EarlyRefundRequest", reply.Type())
	}
	return resp, nil
}

// Close implements net.PeerChannel.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}
