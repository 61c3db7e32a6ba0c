package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deckmate/tablesync/pkg/connections"
	"github.com/deckmate/tablesync/pkg/log"
	"github.com/deckmate/tablesync/pkg/messages"
	"github.com/deckmate/tablesync/pkg/queue"
)

// ConnectHandler admits a new transport connection and returns its
// connection ID.
type ConnectHandler func(conn connections.Conn, userID string, authExpiry time.Time) (string, error)

// DisconnectHandler is called when a connection's read loop exits.
type DisconnectHandler func(connectionID string)

// MessageHandler processes one inbound message.
type MessageHandler func(ctx context.Context, connectionID string, msg *messages.Message)

// InboundMessage pairs a received message with the connection it came
// from while it waits in the inbound queue.
type InboundMessage struct {
	ConnectionID string
	Message      *messages.Message
}

// dispatchInterval is how often the inbound queue is drained.
const dispatchInterval = 10 * time.Millisecond

// writeTimeout bounds a single WebSocket write so a stalled peer fails
// fast instead of backing up the sender.
const writeTimeout = 10 * time.Second

// WSServer serves the WebSocket endpoint. Read loops enqueue into the
// inbound queue; a single dispatch loop drains it, so the transport
// keeps reading even when the session engine is momentarily busy.
type WSServer struct {
	port    int
	tls     *TLSConfig
	inbound queue.Queue
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewWSServerOptions struct {
	Port int
	TLS  *TLSConfig
	// InboundQueue buffers received messages between the read loops and
	// the dispatch loop. Defaults to an in-memory queue.
	InboundQueue queue.Queue
}

// NewWSServer creates a new WebSocket server.
func NewWSServer(opts NewWSServerOptions) *WSServer {
	if opts.InboundQueue == nil {
		opts.InboundQueue = queue.NewInMemoryQueue(messages.MessageBufferSize)
	}
	return &WSServer{
		port:    opts.Port,
		tls:     opts.TLS,
		inbound: opts.InboundQueue,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Start starts the WebSocket server and blocks until the context is
// cancelled or the listener fails.
func (s *WSServer) Start(ctx context.Context, connectHandler ConnectHandler, disconnectHandler DisconnectHandler, messageHandler MessageHandler) {
	go s.dispatchLoop(ctx, messageHandler)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user")
		if userID == "" {
			http.Error(w, "missing user", http.StatusBadRequest)
			return
		}
		authExpiry := parseAuthExpiry(r.URL.Query().Get("expires"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("Failed to upgrade to WebSocket: %v", err)
			return
		}
		log.Debug("New WebSocket connection from %s", conn.RemoteAddr().String())
		go s.handleWSConnection(ctx, conn, userID, authExpiry, connectHandler, disconnectHandler)
	})

	addr := fmt.Sprintf(":%d", s.port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()

	var listenAndServe func() error
	if s.tls != nil {
		log.Info("WebSocket server listening on %s with TLS", addr)
		listenAndServe = func() error {
			return server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("WebSocket server listening on %s", addr)
		listenAndServe = server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("WebSocket server closed")
			return
		}
		log.Error("WebSocket server error: %v", err)
	}
}

// dispatchLoop drains the inbound queue and hands messages to the
// engine in arrival order.
func (s *WSServer) dispatchLoop(ctx context.Context, messageHandler MessageHandler) {
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			items, err := s.inbound.ReadAllMessages()
			if err != nil {
				log.Error("Failed to read inbound messages: %v", err)
				continue
			}
			for _, item := range items {
				in, ok := item.(*InboundMessage)
				if !ok {
					log.Error("Unexpected item type in inbound queue: %T", item)
					continue
				}
				messageHandler(ctx, in.ConnectionID, in.Message)
			}
		}
	}
}

// handleWSConnection runs a connection's read loop.
func (s *WSServer) handleWSConnection(ctx context.Context, conn *websocket.Conn, userID string, authExpiry time.Time, connectHandler ConnectHandler, disconnectHandler DisconnectHandler) {
	wsConn := &WSConn{conn: conn}

	connectionID, err := connectHandler(wsConn, userID, authExpiry)
	if err != nil {
		log.Warn("Refused connection for user %s: %v", userID, err)
		conn.Close()
		return
	}

	defer func() {
		disconnectHandler(connectionID)
		conn.Close()
	}()

	for {
		msg, err := ReadMessageFromWS(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error("Error reading WebSocket message from %s: %v", conn.RemoteAddr().String(), err)
			}
			log.Trace("Connection closed for %s", conn.RemoteAddr().String())
			return
		}

		if err := s.inbound.Enqueue(&InboundMessage{ConnectionID: connectionID, Message: msg}); err != nil {
			log.Warn("Dropping message from connection %s: %v", connectionID, err)
		}
	}
}

// parseAuthExpiry interprets the expires query parameter as a unix
// timestamp in seconds. Zero means no expiry.
func parseAuthExpiry(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(seconds, 0)
}

// WSConn wraps a gorilla connection behind the connections.Conn
// interface. Writes are serialized: gorilla connections support one
// concurrent writer.
type WSConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Send writes a Message to the WebSocket connection.
func (c *WSConn) Send(msg *messages.Message) error {
	b, err := messages.Serialize(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("failed to write message to WebSocket connection: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *WSConn) Close() error {
	return c.conn.Close()
}

// ReadMessageFromWS reads a Message from a WebSocket connection.
func ReadMessageFromWS(conn *websocket.Conn) (*messages.Message, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	msg, err := messages.Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize message: %w", err)
	}
	return msg, nil
}
