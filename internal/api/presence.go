package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/caro-series/internal/disconnect"
	"github.com/park285/caro-series/internal/obslog"
)

// presenceFrame is exchanged over the presence socket.
type presenceFrame struct {
	Type        string `json:"type"`
	SeriesID    string `json:"series_id,omitempty"`
	PlayerID    string `json:"player_id,omitempty"`
	Reconnected bool   `json:"reconnected,omitempty"`
}

const presenceWriteTimeout = 5 * time.Second

// presence keeps a websocket open while the player is connected.
// Opening cancels a running disconnect deadline; closing starts one.
func (s *Server) presence(c *gin.Context) {
	seriesID := strings.TrimSpace(c.Param("id"))
	playerID := strings.TrimSpace(c.Query("player"))
	if playerID == "" {
		badRequest(c, errors.New("player query parameter is required"))
		return
	}
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns:  s.deps.OriginPatterns,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("presence_accept_error", zap.String("series_id", seriesID), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := c.Request.Context()
	reconnected := s.deps.Presence.Reconnect(ctx, seriesID, playerID)
	if err := s.writeFrame(ctx, conn, presenceFrame{
		Type:        "presence",
		SeriesID:    seriesID,
		PlayerID:    playerID,
		Reconnected: reconnected,
	}); err != nil {
		s.dropped(seriesID, playerID, err)
		return
	}

	for {
		var in presenceFrame
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			s.dropped(seriesID, playerID, err)
			return
		}
		if in.Type == "ping" {
			if err := s.writeFrame(ctx, conn, presenceFrame{Type: "pong"}); err != nil {
				s.dropped(seriesID, playerID, err)
				return
			}
		}
	}
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, f presenceFrame) error {
	wctx, cancel := context.WithTimeout(ctx, presenceWriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, f)
}

// dropped starts the disconnect deadline once the socket is gone.
func (s *Server) dropped(seriesID, playerID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceWriteTimeout)
	defer cancel()
	st, started, err := s.deps.Presence.Disconnect(ctx, seriesID, playerID)
	switch {
	case errors.Is(err, disconnect.ErrNotActive):
		obslog.L().Debug("presence_closed_inactive", zap.String("series_id", seriesID), zap.String("player_id", playerID))
	case err != nil:
		obslog.L().Warn("presence_disconnect_error", zap.String("series_id", seriesID), zap.String("player_id", playerID), zap.Error(err))
	default:
		obslog.L().Info("presence_closed",
			zap.String("series_id", seriesID),
			zap.String("player_id", playerID),
			zap.Bool("started", started),
			zap.Time("deadline", st.Deadline),
			zap.NamedError("cause", cause),
		)
	}
}
