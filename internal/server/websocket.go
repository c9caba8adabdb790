package server

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/querystream/querystream/internal/protocol"
	"github.com/querystream/querystream/internal/subscription"
)

const (
	wsRoutePrefix  = "/ws"
	wsWriteTimeout = 10 * time.Second
)

var websocketUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Compile-time interface compliance check.
var _ subscription.Session = (*wsSession)(nil)

// wsSession adapts a gorilla connection to the subscription engine's session
// contract. Writes are serialized with a mutex: the job loop and control
// replies may send concurrently.
type wsSession struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  bool
}

func newWSSession(conn *websocket.Conn) *wsSession {
	return &wsSession{
		id:   uuid.New().String(),
		conn: conn,
	}
}

// ID returns the session identifier assigned at upgrade time.
func (s *wsSession) ID() string {
	return s.id
}

// Send delivers one text frame to the client.
func (s *wsSession) Send(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return fmt.Errorf("session closed")
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close terminates the session with a normal closure.
func (s *wsSession) Close() error {
	return s.closeWithCode(websocket.CloseNormalClosure, "")
}

// CloseWithViolation terminates the session signalling a policy violation.
func (s *wsSession) CloseWithViolation(reason string) error {
	return s.closeWithCode(websocket.ClosePolicyViolation, reason)
}

func (s *wsSession) closeWithCode(code int, reason string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	deadline := time.Now().Add(wsWriteTimeout)

	//nolint:errcheck // best-effort close frame; the connection goes away regardless.
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)

	return s.conn.Close()
}

// websocketHandler upgrades connections and pumps inbound frames into the
// subscriber registry until the client goes away.
func websocketHandler(
	log logrus.FieldLogger,
	registry *subscription.Registry,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocketUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).Warn("WebSocket upgrade failed")

			return
		}

		sess := newWSSession(conn)

		registry.OnConnect(sess, connectionParams(r))

		defer func() {
			registry.OnDisconnect(sess.ID())

			//nolint:errcheck // connection teardown.
			sess.Close()
		}()

		for {
			messageType, data, readErr := conn.ReadMessage()
			if readErr != nil {
				if websocket.IsUnexpectedCloseError(readErr,
					websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.WithFields(logrus.Fields{
						"session_id": sess.ID(),
						"error":      readErr.Error(),
					}).Debug("WebSocket read ended")
				}

				return
			}

			if messageType != websocket.TextMessage {
				continue
			}

			registry.OnMessage(sess.ID(), data)
		}
	}
}

// connectionParams derives connection-time subscription parameters: the
// query string wins, then a trailing "/collection/id" path pair.
func connectionParams(r *http.Request) map[string]string {
	if params := protocol.ParamsFromQuery(r.URL.RawQuery); len(params) > 0 {
		return params
	}

	remainder := strings.TrimPrefix(r.URL.Path, wsRoutePrefix)
	if remainder == r.URL.Path || remainder == "" || remainder == "/" {
		return nil
	}

	return protocol.ParamsFromPath(remainder)
}
