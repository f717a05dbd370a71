package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/fabline-backend/internal/domain/fab"
	"github.com/yungbote/fabline-backend/internal/http/response"
	"github.com/yungbote/fabline-backend/internal/services"
)

type UnitHandler struct {
	lifecycle services.LifecycleService
}

func NewUnitHandler(lifecycle services.LifecycleService) *UnitHandler {
	return &UnitHandler{lifecycle: lifecycle}
}

// GET /api/units/:id
func (h *UnitHandler) GetUnit(c *gin.Context) {
	view, err := h.lifecycle.UnitStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondEngineError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"unit": view})
}

// GET /api/units/:id/timeline
func (h *UnitHandler) GetTimeline(c *gin.Context) {
	tl, err := h.lifecycle.Timeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondEngineError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"timeline": tl})
}

type transitionBody struct {
	WorkerID   string         `json:"worker_id"`
	WorkerName string         `json:"worker_name"`
	Stage      string         `json:"stage"`
	Action     string         `json:"action"`
	OccurredAt *time.Time     `json:"occurred_at,omitempty"`
	SubUnits   []int          `json:"sub_units,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// POST /api/units/:id/transitions
func (h *UnitHandler) Transition(c *gin.Context) {
	var body transitionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	stage, ok := fab.ParseStage(body.Stage)
	if !ok {
		response.RespondEngineError(c, fab.ValidationError("http.transition", "unknown stage "+strings.TrimSpace(body.Stage)))
		return
	}
	action, ok := fab.ParseAction(body.Action)
	if !ok {
		response.RespondEngineError(c, fab.ValidationError("http.transition", "unknown action "+strings.TrimSpace(body.Action)))
		return
	}
	req := services.TransitionRequest{
		UnitID:     c.Param("id"),
		WorkerID:   body.WorkerID,
		WorkerName: body.WorkerName,
		Stage:      stage,
		Action:     action,
		SubUnits:   body.SubUnits,
		Extra:      body.Extra,
	}
	if body.OccurredAt != nil {
		req.OccurredAt = body.OccurredAt.UTC()
	}
	res, err := h.lifecycle.RequestTransition(c.Request.Context(), req)
	if err != nil {
		response.RespondEngineError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"transition": res})
}

type inspectionBody struct {
	InspectorID   string     `json:"inspector_id"`
	InspectorName string     `json:"inspector_name"`
	Approved      *bool      `json:"approved"`
	Notes         string     `json:"notes,omitempty"`
	OccurredAt    *time.Time `json:"occurred_at,omitempty"`
}

// POST /api/units/:id/inspections
func (h *UnitHandler) Inspect(c *gin.Context) {
	var body inspectionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if body.Approved == nil {
		response.RespondEngineError(c, fab.ValidationError("http.inspect", "approved is required"))
		return
	}
	req := services.InspectionRequest{
		UnitID:        c.Param("id"),
		InspectorID:   body.InspectorID,
		InspectorName: body.InspectorName,
		Approved:      *body.Approved,
		Notes:         body.Notes,
	}
	if body.OccurredAt != nil {
		req.OccurredAt = body.OccurredAt.UTC()
	}
	res, err := h.lifecycle.RecordInspection(c.Request.Context(), req)
	if err != nil {
		response.RespondEngineError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"inspection": res})
}

type registerBody struct {
	ID string `json:"id"`
}

// POST /api/units
func (h *UnitHandler) Register(c *gin.Context) {
	var body registerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	u, err := h.lifecycle.RegisterUnit(c.Request.Context(), body.ID)
	if err != nil {
		response.RespondEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"unit": u})
}
