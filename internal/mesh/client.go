package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/meshroom/internal/domain"
	"github.com/dkeye/meshroom/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var ErrClientClosed = errors.New("client closed")

// Client is one participant speaking the signaling protocol over a
// websocket. Incoming signaling is answered automatically through the
// Negotiator.
type Client struct {
	conn    *websocket.Conn
	id      domain.ConnectionID
	ice     json.RawMessage
	tracker *Tracker
	neg     Negotiator

	mu      sync.Mutex
	onEvent func(typ string, data []byte)

	outgoing chan []byte
	done     chan struct{}
	once     sync.Once

	negTimeout time.Duration
}

// Dial connects to the signaling endpoint and waits for the welcome event.
// If neg is nil a StaticNegotiator is used.
func Dial(ctx context.Context, url string, neg Negotiator) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	var welcome protocol.Welcome
	if err := conn.ReadJSON(&welcome); err != nil || welcome.Type != protocol.TypeWelcome {
		conn.Close()
		if err == nil {
			err = fmt.Errorf("unexpected first event %q", welcome.Type)
		}
		return nil, fmt.Errorf("waiting for welcome: %w", err)
	}

	c := &Client{
		conn:       conn,
		id:         domain.ConnectionID(welcome.ConnectionID),
		ice:        welcome.ICEServers,
		tracker:    NewTracker(),
		outgoing:   make(chan []byte, 64),
		done:       make(chan struct{}),
		negTimeout: 15 * time.Second,
	}
	if neg == nil {
		neg = StaticNegotiator{Self: c.ID}
	}
	c.neg = neg

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

func (c *Client) ID() domain.ConnectionID { return c.id }

// ICEServers returns the servers advertised in the welcome event.
func (c *Client) ICEServers() json.RawMessage { return c.ice }

func (c *Client) Tracker() *Tracker { return c.tracker }

func (c *Client) Done() <-chan struct{} { return c.done }

// OnEvent sets a hook that sees every frame after the client handled it.
func (c *Client) OnEvent(fn func(typ string, data []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = fn
}

func (c *Client) Register(user domain.UserID) error {
	return c.Send(protocol.Register{Type: protocol.TypeRegister, UserID: string(user)})
}

func (c *Client) Join(room domain.RoomID, ident domain.Identity) error {
	return c.Send(protocol.Join{Type: protocol.TypeJoin, Room: string(room), User: ident})
}

func (c *Client) Leave(room domain.RoomID) error {
	return c.Send(protocol.Leave{Type: protocol.TypeLeave, Room: string(room)})
}

// Send queues v for writing.
func (c *Client) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClientClosed
	case c.outgoing <- b:
		return nil
	}
}

func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (c *Client) readPump() {
	defer func() {
		c.Close()
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handle(data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) handle(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Debug().Err(err).Str("module", "mesh").Msg("bad frame")
		return
	}

	switch env.Type {
	case protocol.TypePeerList:
		var m protocol.PeerList
		if json.Unmarshal(data, &m) == nil {
			ids := make([]domain.ConnectionID, 0, len(m.Peers))
			for _, p := range m.Peers {
				ids = append(ids, p.ID)
			}
			for _, peer := range c.tracker.OnPeerList(ids) {
				c.offer(peer)
			}
		}
	case protocol.TypePeerJoined:
		var m protocol.PeerJoined
		if json.Unmarshal(data, &m) == nil {
			c.tracker.OnPeerJoined(m.Peer.ID)
		}
	case protocol.TypeIncomingOffer:
		var m protocol.IncomingSignal
		if json.Unmarshal(data, &m) == nil {
			c.answer(m.From, m.SDP)
		}
	case protocol.TypeIncomingAnswer:
		var m protocol.IncomingSignal
		if json.Unmarshal(data, &m) == nil {
			if err := c.neg.Accept(m.From, m.SDP); err != nil {
				log.Warn().Err(err).Str("module", "mesh").Str("peer", string(m.From)).Msg("accept answer")
				return
			}
			c.tracker.OnAnswer(m.From)
		}
	case protocol.TypeIncomingICE:
		var m protocol.IncomingSignal
		if json.Unmarshal(data, &m) == nil {
			if err := c.neg.AddCandidate(m.From, m.Candidate); err != nil {
				log.Debug().Err(err).Str("module", "mesh").Str("peer", string(m.From)).Msg("add candidate")
			}
		}
	case protocol.TypePeerLeft:
		var m protocol.PeerLeft
		if json.Unmarshal(data, &m) == nil {
			c.tracker.OnPeerLeft(m.PeerID)
			c.neg.Drop(m.PeerID)
		}
	}

	c.mu.Lock()
	fn := c.onEvent
	c.mu.Unlock()
	if fn != nil {
		fn(env.Type, data)
	}
}

func (c *Client) offer(peer domain.ConnectionID) {
	ctx, cancel := context.WithTimeout(context.Background(), c.negTimeout)
	defer cancel()
	sdp, err := c.neg.Offer(ctx, peer)
	if err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("peer", string(peer)).Msg("create offer")
		return
	}
	if err := c.Send(protocol.Signal{Type: protocol.TypeOffer, To: string(peer), SDP: sdp}); err != nil {
		log.Debug().Err(err).Str("module", "mesh").Msg("send offer")
	}
}

func (c *Client) answer(peer domain.ConnectionID, offer json.RawMessage) {
	if !c.tracker.OnOffer(peer) {
		log.Warn().Str("module", "mesh").Str("peer", string(peer)).Msg("offer from a peer we are offering to, ignored")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.negTimeout)
	defer cancel()
	sdp, err := c.neg.Answer(ctx, peer, offer)
	if err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("peer", string(peer)).Msg("create answer")
		return
	}
	if err := c.Send(protocol.Signal{Type: protocol.TypeAnswer, To: string(peer), SDP: sdp}); err != nil {
		return
	}
	c.tracker.OnAnswerSent(peer)
}
