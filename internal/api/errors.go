package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/park285/caro-series/internal/disconnect"
	"github.com/park285/caro-series/internal/obslog"
	"github.com/park285/caro-series/internal/profile"
	"github.com/park285/caro-series/internal/series"
	"github.com/park285/caro-series/internal/sqlstore"
	"github.com/park285/caro-series/pkg/seriesdto"
)

type errorMapping struct {
	target    error
	status    int
	code      string
	retryable bool
}

var errorTable = []errorMapping{
	{series.ErrInvalidParticipants, http.StatusBadRequest, seriesdto.CodeInvalidParticipants, false},
	{series.ErrInvalidReport, http.StatusBadRequest, seriesdto.CodeInvalidRequest, false},
	{profile.ErrInvalidPlayer, http.StatusBadRequest, seriesdto.CodeInvalidParticipants, false},
	{series.ErrSeriesNotFound, http.StatusNotFound, seriesdto.CodeSeriesNotFound, false},
	{sqlstore.ErrNotArchived, http.StatusNotFound, seriesdto.CodeSeriesNotFound, false},
	{series.ErrSeriesAlreadyTerminal, http.StatusConflict, seriesdto.CodeSeriesAlreadyTerminal, false},
	{series.ErrStaleGameNumber, http.StatusConflict, seriesdto.CodeStaleGameNumber, false},
	{series.ErrSeriesNotTerminal, http.StatusConflict, seriesdto.CodeSeriesNotTerminal, false},
	{series.ErrRematchAlreadyPending, http.StatusConflict, seriesdto.CodeRematchPending, false},
	{series.ErrRematchClosed, http.StatusConflict, seriesdto.CodeRematchClosed, false},
	{series.ErrNoPendingRequest, http.StatusConflict, seriesdto.CodeNoPendingRequest, false},
	{disconnect.ErrNotActive, http.StatusConflict, seriesdto.CodeNotDisconnectable, false},
	{series.ErrRewardDelivery, http.StatusBadGateway, seriesdto.CodeRewardDelivery, true},
}

// toDomainError maps a service error onto an HTTP status and a DomainError.
func toDomainError(err error) (int, seriesdto.DomainError) {
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			return m.status, seriesdto.DomainError{Code: m.code, Message: err.Error(), Retryable: m.retryable}
		}
	}
	return http.StatusInternalServerError, seriesdto.DomainError{
		Code:      seriesdto.CodeInternal,
		Message:   "internal error",
		Retryable: true,
	}
}

func writeError(c *gin.Context, err error) {
	status, de := toDomainError(err)
	if status >= http.StatusInternalServerError {
		obslog.L().Error("api_error",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, seriesdto.ErrorResponse{Error: de})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, seriesdto.ErrorResponse{Error: seriesdto.DomainError{
		Code:    seriesdto.CodeInvalidRequest,
		Message: err.Error(),
	}})
}
