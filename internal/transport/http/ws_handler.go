package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ostrovskym/relaygate-server/internal/auth"
	"github.com/ostrovskym/relaygate-server/internal/gateway"
	"github.com/ostrovskym/relaygate-server/internal/proto"
)

// helloTimeout bounds how long an unauthenticated connection may sit idle.
const helloTimeout = 10 * time.Second

// WSHandler upgrades HTTP connections and bridges them to the gateway.
type WSHandler struct {
	gw   *gateway.Gateway
	auth *auth.Service
	log  *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(gw *gateway.Gateway, authService *auth.Service, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{gw: gw, auth: authService, log: logger}
}

// Handle is the gin entry point for /ws.
func (h *WSHandler) Handle(c *gin.Context) {
	ctx := c.Request.Context()

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	// The first frame must be a hello carrying a valid token; anything
	// else closes the connection.
	userID, err := h.awaitHello(ctx, conn)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws authentication failed")
		conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	client := gateway.NewClient(uuid.NewString())
	if err := h.gw.Connect(ctx, client, userID); err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("register connection")
		conn.Close(websocket.StatusInternalError, "registration failed")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()

	err = <-errCh
	// Disconnect cleanup runs before any further broadcast can observe
	// this connection as a room member.
	h.gw.Disconnect(context.WithoutCancel(ctx), client)
	cancel()
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "error"
			h.log.Warn().Err(err).Str("user_id", userID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) awaitHello(ctx context.Context, conn *websocket.Conn) (string, error) {
	helloCtx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	var inbound proto.Inbound
	if err := wsjson.Read(helloCtx, conn, &inbound); err != nil {
		return "", err
	}
	if inbound.Type != proto.InboundTypeHello {
		return "", errors.New("first frame is not hello")
	}

	var hello proto.HelloData
	if err := json.Unmarshal(inbound.Data, &hello); err != nil {
		return "", err
	}

	claims, err := h.auth.ValidateToken(hello.Token)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// readLoop decodes inbound frames and dispatches them synchronously, which
// preserves per-connection ordering of persisted messages.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *gateway.Client) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		in, ok := inboundToGateway(inbound)
		if !ok {
			// Malformed or unknown frames are dropped without reply.
			h.log.Debug().Str("type", inbound.Type).Str("user_id", client.UserID).Msg("ignoring inbound frame")
			continue
		}

		h.gw.Dispatch(ctx, client, in)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *gateway.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
