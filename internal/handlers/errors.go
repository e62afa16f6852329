package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/logger"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/models"
	"go.uber.org/zap"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errorStatus = []struct {
	err    *models.DomainError
	status int
}{
	{models.ErrInsufficientStock, http.StatusConflict},
	{models.ErrInvalidTransition, http.StatusConflict},
	{models.ErrOptimisticConflict, http.StatusConflict},
	{models.ErrReservationReleased, http.StatusConflict},
	{models.ErrSKUMismatch, http.StatusConflict},
	{models.ErrNotFound, http.StatusNotFound},
	{models.ErrInvalidQuantity, http.StatusBadRequest},
	{models.ErrMalformedEvent, http.StatusBadRequest},
}

func statusFor(err error) (int, string) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status, e.err.Code
		}
	}
	return http.StatusInternalServerError, "INTERNAL"
}

// respondError writes {"error":{"code","message"}} with the mapped status.
func respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("Request failed", zap.Error(err))
		message = "internal server error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": errorBody{Code: code, Message: message}})
}

func respondBadRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errorBody{Code: "BAD_REQUEST", Message: err.Error()}})
}
