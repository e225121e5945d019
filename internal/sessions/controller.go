package sessions

import (
	"net/http"
	"strconv"

	"clubsched/internal/shared/middleware"
	"clubsched/internal/shared/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Controller interface {
	CreateSession(c *gin.Context)
	GetSession(c *gin.Context)
	ListSessions(c *gin.Context)
	SetCapacity(c *gin.Context)
	UpdateSettings(c *gin.Context)
}

type controller struct {
	service Service
}

func NewController(service Service) Controller {
	return &controller{service: service}
}

func (ctrl *controller) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}

	if req.TenantID == uuid.Nil {
		req.TenantID = middleware.TenantID(c)
	}
	if req.TenantID == uuid.Nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "tenant_id is required", nil, nil)
		return
	}

	session, err := ctrl.service.CreateSession(c.Request.Context(), req)
	if err != nil {
		response.RespondError(c, err)
		return
	}

	response.RespondJSON(c, "success", http.StatusCreated, "Session created successfully", session, nil)
}

func (ctrl *controller) GetSession(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	session, err := ctrl.service.GetSession(c.Request.Context(), id)
	if err != nil {
		response.RespondError(c, err)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Session retrieved successfully", session, nil)
}

func (ctrl *controller) ListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	list, err := ctrl.service.ListSessions(c.Request.Context(), limit, offset)
	if err != nil {
		response.RespondError(c, err)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Sessions retrieved successfully", list, nil)
}

func (ctrl *controller) SetCapacity(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req SetCapacityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}

	session, err := ctrl.service.SetCapacity(c.Request.Context(), id, req.Capacity)
	if err != nil {
		response.RespondError(c, err)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Capacity updated successfully", session, nil)
}

func (ctrl *controller) UpdateSettings(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}

	session, err := ctrl.service.UpdateSettings(c.Request.Context(), id, req)
	if err != nil {
		response.RespondError(c, err)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Settings updated successfully", session, nil)
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid session ID", nil, err.Error())
		return uuid.Nil, false
	}
	return id, true
}
