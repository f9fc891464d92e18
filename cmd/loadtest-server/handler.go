package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oapi-codegen/runtime"
	"github.com/rs/zerolog"

	"loadlab/pkg/catalog"
	"loadlab/pkg/loadtest"
)

const version = "1.0.0"

// endpointCatalog resolves catalogued endpoints by id
type endpointCatalog interface {
	Endpoint(ctx context.Context, id string) (catalog.Entry, error)
	List() []catalog.Entry
}

// APIHandler serves the load test API
type APIHandler struct {
	coordinator    *loadtest.Coordinator
	catalog        endpointCatalog
	defaultTimeout int
	startTime      time.Time
	logger         zerolog.Logger

	inflight sync.WaitGroup
}

type errorResponse struct {
	Error     string               `json:"error"`
	Message   string               `json:"message"`
	Timestamp time.Time            `json:"timestamp"`
	Record    *loadtest.TestRecord `json:"record,omitempty"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    int       `json:"uptime"`
	Version   string    `json:"version"`
}

type runLoadTestRequest struct {
	OwnerID    string                     `json:"ownerId"`
	EndpointID string                     `json:"endpointId"`
	Endpoint   *loadtest.EndpointSpec     `json:"endpoint"`
	Name       string                     `json:"name"`
	Config     loadtest.TestConfiguration `json:"config"`
}

type historyResponse struct {
	OwnerID string                 `json:"ownerId"`
	Records []*loadtest.TestRecord `json:"records"`
	Total   int                    `json:"total"`
}

func (h *APIHandler) respondError(c *gin.Context, status int, kind string, err error, record *loadtest.TestRecord) {
	c.JSON(status, errorResponse{
		Error:     kind,
		Message:   err.Error(),
		Timestamp: time.Now(),
		Record:    record,
	})
}

// HealthCheck implements the health check endpoint
func (h *APIHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    int(time.Since(h.startTime).Seconds()),
		Version:   version,
	})
}

// ListEndpoints returns the endpoint catalog
func (h *APIHandler) ListEndpoints(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"endpoints": h.catalog.List()})
}

// RunLoadTest runs a load test synchronously and returns its record
func (h *APIHandler) RunLoadTest(c *gin.Context) {
	var body runLoadTestRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid_request", err, nil)
		return
	}

	req := loadtest.RunRequest{
		OwnerID:    body.OwnerID,
		EndpointID: body.EndpointID,
		Name:       body.Name,
		Config:     body.Config,
	}

	switch {
	case body.EndpointID != "":
		entry, err := h.catalog.Endpoint(c.Request.Context(), body.EndpointID)
		if err != nil {
			if errors.Is(err, catalog.ErrEndpointNotFound) {
				h.respondError(c, http.StatusNotFound, "endpoint_not_found", err, nil)
				return
			}
			h.respondError(c, http.StatusInternalServerError, "internal_error", err, nil)
			return
		}
		req.Endpoint = entry.Endpoint
		if req.OwnerID == "" {
			req.OwnerID = entry.OwnerID
		}
	case body.Endpoint != nil:
		req.Endpoint = *body.Endpoint
		method := loadtest.MethodGet
		if req.Endpoint.Method != "" {
			m, err := loadtest.ParseMethod(string(req.Endpoint.Method))
			if err != nil {
				h.respondError(c, http.StatusBadRequest, "invalid_request", err, nil)
				return
			}
			method = m
		}
		req.Endpoint.Method = method
	default:
		h.respondError(c, http.StatusBadRequest, "invalid_request", errors.New("endpointId or endpoint is required"), nil)
		return
	}

	if req.OwnerID == "" {
		h.respondError(c, http.StatusBadRequest, "invalid_request", errors.New("ownerId is required"), nil)
		return
	}
	if req.Config.RequestTimeoutSeconds == 0 {
		req.Config.RequestTimeoutSeconds = h.defaultTimeout
	}

	record, err := h.coordinator.RunLoadTest(c.Request.Context(), req)
	if err != nil {
		var configErr *loadtest.ConfigurationError
		if errors.As(err, &configErr) {
			h.respondError(c, http.StatusBadRequest, "invalid_configuration", err, nil)
			return
		}
		h.logger.Error().Err(err).Str("owner_id", req.OwnerID).Msg("Load test failed")
		h.respondError(c, http.StatusInternalServerError, "load_test_failed", err, record)
		return
	}

	c.JSON(http.StatusCreated, record)
}

// GetLoadTest returns a single record
func (h *APIHandler) GetLoadTest(c *gin.Context) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", c.Param("id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid_request", err, nil)
		return
	}

	record, err := h.coordinator.GetTestRecord(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, loadtest.ErrRecordNotFound) {
			h.respondError(c, http.StatusNotFound, "record_not_found", err, nil)
			return
		}
		h.respondError(c, http.StatusInternalServerError, "internal_error", err, nil)
		return
	}
	c.JSON(http.StatusOK, record)
}

// GetTestHistory returns an owner's most recent runs
func (h *APIHandler) GetTestHistory(c *gin.Context) {
	var ownerID string
	err := runtime.BindStyledParameterWithOptions("simple", "ownerId", c.Param("ownerId"), &ownerID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid_request", err, nil)
		return
	}

	var limit *int
	if err := runtime.BindQueryParameter("form", true, false, "limit", c.Request.URL.Query(), &limit); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid_request", err, nil)
		return
	}

	records, err := h.coordinator.GetTestHistory(c.Request.Context(), ownerID)
	if err != nil {
		h.respondError(c, http.StatusInternalServerError, "internal_error", err, nil)
		return
	}
	if limit != nil && *limit >= 0 && *limit < len(records) {
		records = records[:*limit]
	}
	if records == nil {
		records = []*loadtest.TestRecord{}
	}

	c.JSON(http.StatusOK, historyResponse{
		OwnerID: ownerID,
		Records: records,
		Total:   len(records),
	})
}
