package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"github.com/park285/caro-series/internal/disconnect"
	"github.com/park285/caro-series/internal/rematch"
	"github.com/park285/caro-series/internal/series"
	"github.com/park285/caro-series/internal/sqlstore"
	"github.com/park285/caro-series/pkg/seriesdto"
)

// SeriesService is the state machine surface the API drives.
type SeriesService interface {
	CreateSeries(ctx context.Context, player1, player2 string) (*series.Series, error)
	Get(ctx context.Context, id string) (*series.Series, error)
	List(ctx context.Context, playerID string) ([]*series.Series, error)
	RecordGameResult(ctx context.Context, id string, rep series.GameReport) (*series.Series, error)
	ForfeitCurrentGame(ctx context.Context, id, playerID string) (*series.Series, error)
	AbandonSeries(ctx context.Context, id, playerID string) (*series.Series, error)
	ApplyRewards(ctx context.Context, id string) error
}

type Presence interface {
	Disconnect(ctx context.Context, seriesID, playerID string) (disconnect.State, bool, error)
	Reconnect(ctx context.Context, seriesID, playerID string) bool
	Pending(seriesID string) []disconnect.State
}

type Rematcher interface {
	RequestRematch(ctx context.Context, seriesID, requesterID string) (*rematch.Request, error)
	RespondToRematch(ctx context.Context, seriesID, responderID string, accept bool) (*rematch.Response, error)
	Pending(seriesID string) (*rematch.Request, bool)
}

type HistorySource interface {
	History(ctx context.Context, playerID string, limit int) ([]*sqlstore.Record, error)
}

// Deps wires the API to the engine. History is optional.
type Deps struct {
	Series   SeriesService
	Presence Presence
	Rematch  Rematcher
	History  HistorySource

	// OriginPatterns are the hosts allowed to open the presence socket.
	OriginPatterns []string
}

type Server struct {
	deps Deps
}

// NewHandler builds the gin router behind a CORS handler.
func NewHandler(deps Deps, allowedOrigins []string) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(NewRouter(deps))
}

func NewRouter(deps Deps) *gin.Engine {
	s := &Server{deps: deps}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	v1 := r.Group("/api/v1")
	{
		v1.POST("/series", s.createSeries)
		v1.GET("/series/:id", s.getSeries)
		v1.POST("/series/:id/games", s.recordGame)
		v1.POST("/series/:id/forfeit", s.forfeit)
		v1.POST("/series/:id/abandon", s.abandon)
		v1.POST("/series/:id/rewards/redeliver", s.redeliver)

		v1.POST("/series/:id/disconnect", s.disconnect)
		v1.POST("/series/:id/reconnect", s.reconnect)
		v1.GET("/series/:id/disconnects", s.listDisconnects)
		v1.GET("/series/:id/presence", s.presence)

		v1.GET("/series/:id/rematch", s.pendingRematch)
		v1.POST("/series/:id/rematch", s.requestRematch)
		v1.POST("/series/:id/rematch/respond", s.respondRematch)

		v1.GET("/players/:id/series", s.listSeries)
		v1.GET("/players/:id/history", s.history)
	}
	return r
}

func (s *Server) createSeries(c *gin.Context) {
	var req seriesdto.CreateSeriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, err := s.deps.Series.CreateSeries(c.Request.Context(), req.Player1, req.Player2)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, seriesView(out))
}

func (s *Server) getSeries(c *gin.Context) {
	out, err := s.deps.Series.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, seriesView(out))
}

func (s *Server) recordGame(c *gin.Context) {
	var req seriesdto.GameResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rep := series.GameReport{
		GameNumber:   req.GameNumber,
		WinnerID:     req.WinnerID,
		LoserID:      req.LoserID,
		TotalMoves:   req.TotalMoves,
		Duration:     time.Duration(req.DurationSeconds * float64(time.Second)),
		WinCondition: req.WinCondition,
	}
	if len(req.ThinkTimeMS) > 0 {
		rep.ThinkTime = make(map[string]time.Duration, len(req.ThinkTimeMS))
		for pid, ms := range req.ThinkTimeMS {
			rep.ThinkTime[pid] = time.Duration(ms) * time.Millisecond
		}
	}
	out, err := s.deps.Series.RecordGameResult(c.Request.Context(), c.Param("id"), rep)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, seriesView(out))
}

func (s *Server) forfeit(c *gin.Context) {
	var req seriesdto.PlayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, err := s.deps.Series.ForfeitCurrentGame(c.Request.Context(), c.Param("id"), req.PlayerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, seriesView(out))
}

func (s *Server) abandon(c *gin.Context) {
	var req seriesdto.PlayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, err := s.deps.Series.AbandonSeries(c.Request.Context(), c.Param("id"), req.PlayerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, seriesView(out))
}

func (s *Server) redeliver(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := s.deps.Series.ApplyRewards(ctx, id); err != nil {
		writeError(c, err)
		return
	}
	out, err := s.deps.Series.Get(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, seriesView(out))
}

func (s *Server) disconnect(c *gin.Context) {
	var req seriesdto.PlayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, started, err := s.deps.Presence.Disconnect(c.Request.Context(), c.Param("id"), req.PlayerID)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if started {
		status = http.StatusAccepted
	}
	c.JSON(status, disconnectView(st, started))
}

func (s *Server) reconnect(c *gin.Context) {
	var req seriesdto.PlayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cancelled := s.deps.Presence.Reconnect(c.Request.Context(), c.Param("id"), req.PlayerID)
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

func (s *Server) listDisconnects(c *gin.Context) {
	pending := s.deps.Presence.Pending(c.Param("id"))
	out := make([]seriesdto.DisconnectView, 0, len(pending))
	for _, st := range pending {
		out = append(out, disconnectView(st, false))
	}
	c.JSON(http.StatusOK, gin.H{"disconnects": out})
}

func (s *Server) pendingRematch(c *gin.Context) {
	req, ok := s.deps.Rematch.Pending(c.Param("id"))
	if !ok {
		writeError(c, series.ErrNoPendingRequest)
		return
	}
	c.JSON(http.StatusOK, rematchView(req))
}

func (s *Server) requestRematch(c *gin.Context) {
	var body seriesdto.RematchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	req, err := s.deps.Rematch.RequestRematch(c.Request.Context(), c.Param("id"), body.RequesterID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rematchView(req))
}

func (s *Server) respondRematch(c *gin.Context) {
	var body seriesdto.RematchResponseRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	resp, err := s.deps.Rematch.RespondToRematch(c.Request.Context(), c.Param("id"), body.ResponderID, *body.Accept)
	if err != nil {
		writeError(c, err)
		return
	}
	out := seriesdto.RematchResult{Request: rematchView(resp.Request)}
	if resp.Series != nil {
		v := seriesView(resp.Series)
		out.Series = &v
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listSeries(c *gin.Context) {
	list, err := s.deps.Series.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	status := strings.TrimSpace(c.Query("status"))
	out := make([]seriesdto.SeriesView, 0, len(list))
	for _, item := range list {
		if status != "" && string(item.Status) != status {
			continue
		}
		out = append(out, seriesView(item))
	}
	c.JSON(http.StatusOK, gin.H{"series": out, "total": len(out)})
}

func (s *Server) history(c *gin.Context) {
	if s.deps.History == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, seriesdto.ErrorResponse{Error: seriesdto.DomainError{
			Code:    seriesdto.CodeInternal,
			Message: "series archive not configured",
		}})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	playerID := strings.TrimSpace(c.Param("id"))
	recs, err := s.deps.History.History(c.Request.Context(), playerID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]seriesdto.HistoryEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, historyEntry(playerID, rec))
	}
	c.JSON(http.StatusOK, gin.H{"history": out, "total": len(out)})
}
