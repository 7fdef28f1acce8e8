package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/andresuchdata/mixopt/internal/domain"
	"github.com/andresuchdata/mixopt/internal/engine"
	"github.com/andresuchdata/mixopt/internal/normalize"
	"github.com/andresuchdata/mixopt/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type RunHandler struct {
	service *service.OptimizationService
}

func NewRunHandler(service *service.OptimizationService) *RunHandler {
	return &RunHandler{service: service}
}

// runBody is the POST /runs payload. Omitted fields keep the configured
// defaults.
type runBody struct {
	StockDate         string   `json:"stock_date"`
	StockType         string   `json:"stock_type"`
	Objective         string   `json:"objective"`
	ReallocationLimit *float64 `json:"limite_realocacao"`
	HonorOrders       *bool    `json:"atender_pedidos"`
}

func (b runBody) request() (engine.Request, error) {
	req := engine.Request{
		StockType:         strings.TrimSpace(b.StockType),
		Objective:         domain.Objective(strings.ToLower(strings.TrimSpace(b.Objective))),
		ReallocationLimit: b.ReallocationLimit,
		HonorOrders:       b.HonorOrders,
	}
	if s := strings.TrimSpace(b.StockDate); s != "" {
		date, err := normalize.ParseDate(s)
		if err != nil {
			return engine.Request{}, errors.Join(domain.ErrInvalidRequest, err)
		}
		req.StockDate = date
	}
	return req, req.Validate()
}

// CreateRun executes a run and returns its result.
func (h *RunHandler) CreateRun(c *gin.Context) {
	var body runBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
	}

	req, err := body.request()
	if err != nil {
		respondError(c, err)
		return
	}

	res, err := h.service.Run(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, res)
}

func (h *RunHandler) GetRun(c *gin.Context) {
	res, err := h.service.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *RunHandler) ListRuns(c *gin.Context) {
	limit := parsePositiveIntWithDefault(c.Query("limit"), 50)
	runs, err := h.service.ListRuns(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs, "total": len(runs)})
}

// GetStockDates lists the stock counts available for ?stock_type=.
func (h *RunHandler) GetStockDates(c *gin.Context) {
	dates, err := h.service.StockDates(c.Request.Context(), strings.TrimSpace(c.Query("stock_type")))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dates)
}

// StatusFor maps an error to its HTTP status: bad requests 400, unknown
// runs 404, an infeasible model 409, input data problems 422 and anything
// else 500.
func StatusFor(err error) int {
	var infeasible *domain.InfeasibleModelError
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRunNotFound):
		return http.StatusNotFound
	case errors.As(err, &infeasible):
		return http.StatusConflict
	case domain.IsInputError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := StatusFor(err)
	_ = c.Error(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(status, gin.H{"error": "optimization failed", "details": err.Error()})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parsePositiveIntWithDefault(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
