// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

package live

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

// wsTestServer speaks just enough graphql-transport-ws to exercise the
// client side of the handshake.
func wsTestServer(t *testing.T, session func(conn *websocket.Conn, subID string)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{Subprotocols: []string{wsSubprotocol}}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var init wsMessage
		if err := conn.ReadJSON(&init); err != nil {
			t.Errorf("read init: %v", err)
			return
		}
		if init.Type != msgConnectionInit {
			t.Errorf("first message type = %q, want connection_init", init.Type)
			return
		}
		var payload struct {
			Token string `json:"token"`
		}
		json.Unmarshal(init.Payload, &payload)
		if payload.Token != "stream-token" {
			t.Errorf("init token = %q", payload.Token)
		}

		conn.WriteJSON(wsMessage{Type: msgConnectionAck})

		var sub wsMessage
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if sub.Type != msgSubscribe || sub.ID == "" {
			t.Errorf("subscribe = %+v, want type subscribe with an id", sub)
		}

		session(conn, sub.ID)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStreamHandshakeAndRead(t *testing.T) {
	srv := wsTestServer(t, func(conn *websocket.Conn, subID string) {
		next := `{"data":{"liveMeasurement":{"timestamp":"2024-03-15T10:00:00+01:00","power":1250.5,"currentL1":5.4}}}`
		conn.WriteJSON(wsMessage{ID: subID, Type: msgNext, Payload: json.RawMessage(next)})
		conn.WriteJSON(wsMessage{ID: subID, Type: msgComplete})
	})
	defer srv.Close()

	s, err := dialStream(Endpoint{
		URL:       wsURL(srv),
		Token:     "stream-token",
		Query:     "subscription { liveMeasurement { power } }",
		Variables: map[string]any{"homeId": "home-1"},
	}, "homewatt/test")
	if err != nil {
		t.Fatalf("dialStream: %v", err)
	}
	defer s.close()

	meas, err := s.read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if meas.Power == nil || *meas.Power != 1250.5 {
		t.Errorf("power = %v, want 1250.5", meas.Power)
	}
	if meas.CurrentL2 != nil {
		t.Error("currentL2 must stay nil when the meter omits it")
	}

	if _, err := s.read(); !errors.Is(err, errStreamComplete) {
		t.Errorf("err = %v, want errStreamComplete", err)
	}
}

func TestStreamAnswersPings(t *testing.T) {
	srv := wsTestServer(t, func(conn *websocket.Conn, subID string) {
		conn.WriteJSON(wsMessage{Type: msgPing})

		var pong wsMessage
		if err := conn.ReadJSON(&pong); err != nil {
			t.Errorf("read pong: %v", err)
			return
		}
		if pong.Type != msgPong {
			t.Errorf("reply type = %q, want pong", pong.Type)
		}

		next := `{"data":{"liveMeasurement":{"timestamp":"2024-03-15T10:00:00+01:00","power":42}}}`
		conn.WriteJSON(wsMessage{ID: subID, Type: msgNext, Payload: json.RawMessage(next)})
	})
	defer srv.Close()

	s, err := dialStream(Endpoint{URL: wsURL(srv), Token: "stream-token", Query: "subscription {}"}, "homewatt/test")
	if err != nil {
		t.Fatalf("dialStream: %v", err)
	}
	defer s.close()

	meas, err := s.read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if meas.Power == nil || *meas.Power != 42 {
		t.Errorf("power = %v, want 42", meas.Power)
	}
}

func TestStreamNullMeasurementSkipped(t *testing.T) {
	srv := wsTestServer(t, func(conn *websocket.Conn, subID string) {
		conn.WriteJSON(wsMessage{ID: subID, Type: msgNext, Payload: json.RawMessage(`{"data":{"liveMeasurement":null}}`)})
		next := `{"data":{"liveMeasurement":{"timestamp":"2024-03-15T10:00:00+01:00","power":7}}}`
		conn.WriteJSON(wsMessage{ID: subID, Type: msgNext, Payload: json.RawMessage(next)})
	})
	defer srv.Close()

	s, err := dialStream(Endpoint{URL: wsURL(srv), Token: "stream-token", Query: "subscription {}"}, "homewatt/test")
	if err != nil {
		t.Fatalf("dialStream: %v", err)
	}
	defer s.close()

	meas, err := s.read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if meas.Power == nil || *meas.Power != 7 {
		t.Errorf("power = %v, want 7 (null measurement must be skipped)", meas.Power)
	}
}
