package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/taxfiling/filing-saga/internal/saga"
	"github.com/taxfiling/filing-saga/internal/service"
)

func RegisterHandlers(r *gin.Engine, svc *service.FilingService) {
	v1 := r.Group("/v1")
	{
		v1.POST("/filings/:id/submit", submitHandler(svc))
		v1.POST("/filings/:id/resubmit", resubmitHandler(svc))
		v1.GET("/filings/:id/status", statusHandler(svc))
	}
}

type submitReq struct {
	TaxYear    int    `json:"tax_year" binding:"required"`
	AmountOwed string `json:"amount_owed" binding:"required"`
	RequestID  string `json:"request_id"`
}

func submitHandler(svc *service.FilingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, err := decimal.NewFromString(req.AmountOwed)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount_owed"})
			return
		}
		res, err := svc.Submit(c, c.Param("id"), req.TaxYear, amt, req.RequestID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"state": res.State, "version": res.Version})
	}
}

type resubmitReq struct {
	RequestID string `json:"request_id"`
}

func resubmitHandler(svc *service.FilingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req resubmitReq
		_ = c.ShouldBindJSON(&req)
		res, err := svc.Resubmit(c, c.Param("id"), req.RequestID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"state": res.State, "version": res.Version})
	}
}

func statusHandler(svc *service.FilingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := svc.Status(c, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, saga.ErrAggregateNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, saga.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, saga.ErrIllegalTransition), errors.Is(err, saga.ErrInvalidPayload),
		errors.Is(err, service.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
