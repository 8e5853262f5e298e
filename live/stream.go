// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

package live

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	hwerrors "github.com/homewatt/homewatt/pkg/errors"
	"github.com/homewatt/homewatt/pkg/logger"
)

// graphql-transport-ws message types.
const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

const (
	wsSubprotocol    = "graphql-transport-ws"
	handshakeTimeout = 30 * time.Second
	ackTimeout       = 30 * time.Second
)

// errStreamComplete signals that the server ended the subscription
// gracefully with a complete message.
var errStreamComplete = fmt.Errorf("subscription completed by server")

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// stream is a single graphql-transport-ws subscription over one websocket
// connection. It is not safe for concurrent reads.
type stream struct {
	conn  *websocket.Conn
	subID string
}

// dialStream connects to the endpoint, performs the connection_init
// handshake and starts the subscription.
func dialStream(ep Endpoint, userAgent string) (*stream, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{wsSubprotocol},
	}
	header := http.Header{}
	header.Set("User-Agent", userAgent)

	conn, _, err := dialer.Dial(ep.URL, header)
	if err != nil {
		return nil, hwerrors.NewTransportError("websocket dial", err)
	}

	s := &stream{conn: conn, subID: uuid.NewString()}
	if err := s.handshake(ep); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// handshake sends connection_init carrying the access token, waits for
// connection_ack, then sends the subscribe operation.
func (s *stream) handshake(ep Endpoint) error {
	init := struct {
		Token string `json:"token"`
	}{Token: ep.Token}
	if err := s.write(wsMessage{Type: msgConnectionInit}, init); err != nil {
		return hwerrors.NewSubscriptionError("connection init", err)
	}

	s.conn.SetReadDeadline(time.Now().Add(ackTimeout))
	for {
		var msg wsMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return hwerrors.NewSubscriptionError("await connection ack", err)
		}
		if msg.Type == msgConnectionAck {
			break
		}
		if msg.Type == msgPing {
			s.conn.WriteJSON(wsMessage{Type: msgPong})
			continue
		}
		return hwerrors.NewSubscriptionError("await connection ack",
			fmt.Errorf("unexpected message type %q", msg.Type))
	}
	s.conn.SetReadDeadline(time.Time{})

	sub := struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables,omitempty"`
	}{Query: ep.Query, Variables: ep.Variables}
	if err := s.write(wsMessage{ID: s.subID, Type: msgSubscribe}, sub); err != nil {
		return hwerrors.NewSubscriptionError("subscribe", err)
	}

	logger.Debug().Str("subscription_id", s.subID).Msg("Live subscription established")
	return nil
}

func (s *stream) write(msg wsMessage, payload any) error {
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		msg.Payload = raw
	}
	return s.conn.WriteJSON(msg)
}

// read blocks until the next measurement arrives. It answers protocol
// pings inline. A server complete returns errStreamComplete; anything else
// that ends the stream returns a SubscriptionError.
func (s *stream) read() (Measurement, error) {
	for {
		var msg wsMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return Measurement{}, hwerrors.NewSubscriptionError("read", err)
		}

		switch msg.Type {
		case msgPing:
			if err := s.conn.WriteJSON(wsMessage{Type: msgPong}); err != nil {
				return Measurement{}, hwerrors.NewSubscriptionError("pong", err)
			}

		case msgNext:
			var payload struct {
				Data struct {
					LiveMeasurement *Measurement `json:"liveMeasurement"`
				} `json:"data"`
			}
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				return Measurement{}, hwerrors.NewSubscriptionError("decode measurement", err)
			}
			if payload.Data.LiveMeasurement == nil {
				// Null measurements happen; skip rather than fail.
				continue
			}
			return *payload.Data.LiveMeasurement, nil

		case msgError:
			return Measurement{}, hwerrors.NewSubscriptionError("subscription",
				fmt.Errorf("server error: %s", string(msg.Payload)))

		case msgComplete:
			return Measurement{}, errStreamComplete

		default:
			// connection_ack duplicates and unknown types are ignored.
		}
	}
}

func (s *stream) close() error {
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}
