package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/garyjia/shipment-workflow/internal/application/service"
	"github.com/garyjia/shipment-workflow/internal/domain/entity"
	"github.com/garyjia/shipment-workflow/internal/domain/failure"
	"github.com/garyjia/shipment-workflow/pkg/utils"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	transitions service.StageTransitionService
	health      HealthFunc
	validate    *validator.Validate
	logger      Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(transitions service.StageTransitionService, health HealthFunc, logger Logger) *Handlers {
	return &Handlers{
		transitions: transitions,
		health:      health,
		validate:    utils.NewValidator(),
		logger:      logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool             `json:"success"`
	Data    interface{}      `json:"data,omitempty"`
	Error   *failure.Failure `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Components interface{} `json:"components,omitempty"`
}

// StagedFileRequest describes a file the upload layer already placed in staging
type StagedFileRequest struct {
	StagedPath          string `json:"staged_path" validate:"required"`
	OriginalName        string `json:"original_name"`
	FieldClassification string `json:"field_classification"`
}

// RecordStageRequest is the body of POST /api/purchases/:purchase_id/stages/:stage_key
type RecordStageRequest struct {
	Payload json.RawMessage     `json:"payload"`
	Files   []StagedFileRequest `json:"files" validate:"dive"`
}

// EditStageRequest is the body of PUT /api/stages/:stage_key/records/:status_node_id
type EditStageRequest struct {
	Payload     json.RawMessage     `json:"payload"`
	KeepFileIDs []int64             `json:"keep_file_ids"`
	Files       []StagedFileRequest `json:"files" validate:"dive"`
}

// TransitionResponse is returned for recorded and edited stages. Evidence is
// set when files could not be reconciled after the change was committed.
type TransitionResponse struct {
	StatusNodeID int64            `json:"status_node_id"`
	Confirmation string           `json:"confirmation"`
	Evidence     *failure.Failure `json:"evidence_error,omitempty"`
}

// HistoryResponse lists the status nodes of a purchase
type HistoryResponse struct {
	PurchaseID string               `json:"purchase_id"`
	History    []*entity.StatusNode `json:"history"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	healthy, components := true, interface{}(nil)
	if h.health != nil {
		healthy, components = h.health(c.Request.Context())
	}

	response := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: components,
	}
	status := http.StatusOK
	if !healthy {
		response.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, Response{Success: healthy, Data: response})
}

// RecordStage handles POST /api/purchases/:purchase_id/stages/:stage_key
func (h *Handlers) RecordStage(c *gin.Context) {
	stage := entity.StageKey(c.Param("stage_key"))
	purchaseID := c.Param("purchase_id")

	var req RecordStageRequest
	if !h.bind(c, stage, &req) {
		return
	}

	outcome, err := h.transitions.Run(c.Request.Context(), service.StageTransitionRequest{
		PurchaseID: purchaseID,
		Stage:      stage,
		Payload:    req.Payload,
		Files:      toUploads(req.Files),
	})
	if err != nil {
		h.logger.Error("Failed to record stage", "purchase_id", purchaseID, "stage_key", stage, "error", err)
		h.fail(c, stage, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: toTransitionResponse(stage, outcome)})
}

// EditStage handles PUT /api/stages/:stage_key/records/:status_node_id
func (h *Handlers) EditStage(c *gin.Context) {
	stage := entity.StageKey(c.Param("stage_key"))

	nodeID, ok := h.statusNodeID(c, stage)
	if !ok {
		return
	}

	var req EditStageRequest
	if !h.bind(c, stage, &req) {
		return
	}

	outcome, err := h.transitions.Edit(c.Request.Context(), service.StageEditRequest{
		Stage:        stage,
		StatusNodeID: nodeID,
		Payload:      req.Payload,
		KeepFileIDs:  req.KeepFileIDs,
		Files:        toUploads(req.Files),
	})
	if err != nil {
		h.logger.Error("Failed to edit stage", "status_node_id", nodeID, "stage_key", stage, "error", err)
		h.fail(c, stage, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: toTransitionResponse(stage, outcome)})
}

// GetHistory handles GET /api/purchases/:purchase_id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	purchaseID := c.Param("purchase_id")

	nodes, err := h.transitions.History(c.Request.Context(), purchaseID)
	if err != nil {
		h.logger.Error("Failed to load history", "purchase_id", purchaseID, "error", err)
		h.fail(c, "", err)
		return
	}
	if nodes == nil {
		nodes = []*entity.StatusNode{}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: HistoryResponse{PurchaseID: purchaseID, History: nodes}})
}

// GetStageRecord handles GET /api/stages/:stage_key/records/:status_node_id
func (h *Handlers) GetStageRecord(c *gin.Context) {
	stage := entity.StageKey(c.Param("stage_key"))

	nodeID, ok := h.statusNodeID(c, stage)
	if !ok {
		return
	}

	record, err := h.transitions.Get(c.Request.Context(), stage, nodeID)
	if err != nil {
		h.fail(c, stage, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: record})
}

// bind decodes and validates the request body, answering 400 on failure
func (h *Handlers) bind(c *gin.Context, stage entity.StageKey, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.fail(c, stage, &failure.ValidationError{Stage: stage, Reason: failure.ReasonValidationFailed, Detail: "malformed request body"})
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(c, stage, &failure.ValidationError{Stage: stage, Reason: failure.ReasonValidationFailed, Fields: utils.InvalidFields(err)})
		return false
	}
	return true
}

func (h *Handlers) statusNodeID(c *gin.Context, stage entity.StageKey) (int64, bool) {
	raw := c.Param("status_node_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.fail(c, stage, &failure.ValidationError{Stage: stage, Reason: failure.ReasonValidationFailed, Fields: []string{"status_node_id"}})
		return 0, false
	}
	return id, true
}

// fail renders err as {stage_key, reason_code, message}
func (h *Handlers) fail(c *gin.Context, stage entity.StageKey, err error) {
	f := failure.Describe(stage, err)
	c.JSON(statusFor(f.ReasonCode), Response{Success: false, Error: &f})
}

// statusFor maps a reason code to its HTTP status
func statusFor(reason string) int {
	switch reason {
	case failure.ReasonValidationFailed, failure.ReasonUnknownStage, failure.ReasonStageOutOfOrder:
		return http.StatusBadRequest
	case failure.ReasonPurchaseNotFound, failure.ReasonReleaseWaitNotFound, failure.ReasonStatusNodeNotFound:
		return http.StatusNotFound
	case failure.ReasonSequenceConflict:
		return http.StatusConflict
	case failure.ReasonTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func toUploads(files []StagedFileRequest) []entity.StagedUpload {
	uploads := make([]entity.StagedUpload, 0, len(files))
	for _, f := range files {
		uploads = append(uploads, entity.StagedUpload{
			StagedPath:     f.StagedPath,
			OriginalName:   f.OriginalName,
			Classification: f.FieldClassification,
		})
	}
	return uploads
}

func toTransitionResponse(stage entity.StageKey, outcome *service.TransitionOutcome) TransitionResponse {
	resp := TransitionResponse{
		StatusNodeID: outcome.StatusNodeID,
		Confirmation: outcome.Confirmation,
	}
	if outcome.EvidenceError != nil {
		f := failure.Describe(stage, outcome.EvidenceError)
		resp.Evidence = &f
	}
	return resp
}
