package bookings

import (
	"context"
	"net/http"
	"time"

	"clubsched/internal/shared/middleware"
	"clubsched/internal/shared/utils/response"
	"clubsched/internal/waitlist"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Controller struct {
	service Service
}

func NewController(service Service) *Controller {
	return &Controller{service: service}
}

// CreateBooking handles POST /api/v1/sessions/:id/bookings
func (ctrl *Controller) CreateBooking(c *gin.Context) {
	sessionID, ok := parseUUIDParam(c, "Invalid session ID")
	if !ok {
		return
	}

	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}

	bookReq := BookRequest{
		TenantID:      middleware.TenantID(c),
		SessionID:     sessionID,
		ParticipantID: uuid.MustParse(req.ParticipantID),
		PaymentToken:  req.PaymentToken,
	}
	if req.GuardianID != nil {
		g := uuid.MustParse(*req.GuardianID)
		bookReq.GuardianID = &g
	}

	result, err := ctrl.service.Book(c.Request.Context(), bookReq)
	if err != nil {
		response.RespondError(c, err)
		return
	}

	resp := BookResponse{Outcome: result.Outcome}
	if result.Outcome == OutcomeConfirmed {
		resp.Booking = result.Booking.ToResponse()
		response.RespondJSON(c, "success", http.StatusCreated, "Booking confirmed", resp, nil)
		return
	}

	entry := result.Entry.ToResponse(time.Now())
	resp.Entry = &entry
	response.RespondJSON(c, "success", http.StatusAccepted, "Session is full, added to waitlist", resp, nil)
}

// GetBooking handles GET /api/v1/bookings/:id
func (ctrl *Controller) GetBooking(c *gin.Context) {
	bookingID, ok := parseUUIDParam(c, "Invalid booking ID")
	if !ok {
		return
	}

	booking, err := ctrl.service.GetBooking(c.Request.Context(), bookingID)
	if err != nil {
		response.RespondError(c, err)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Booking retrieved successfully", booking.ToResponse(), nil)
}

// CancelBooking handles DELETE /api/v1/bookings/:id
func (ctrl *Controller) CancelBooking(c *gin.Context) {
	bookingID, ok := parseUUIDParam(c, "Invalid booking ID")
	if !ok {
		return
	}

	booking, err := ctrl.service.Cancel(c.Request.Context(), bookingID)
	if err != nil {
		response.RespondError(c, err)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Booking cancelled successfully", booking.ToResponse(), nil)
}

// ListWaitlist handles GET /api/v1/sessions/:id/waitlist
func (ctrl *Controller) ListWaitlist(c *gin.Context) {
	sessionID, ok := parseUUIDParam(c, "Invalid session ID")
	if !ok {
		return
	}

	entries, err := ctrl.service.ListWaitlist(c.Request.Context(), sessionID)
	if err != nil {
		response.RespondError(c, err)
		return
	}

	now := time.Now()
	resp := WaitlistResponse{
		SessionID: sessionID.String(),
		Entries:   make([]waitlist.EntryResponse, 0, len(entries)),
	}
	for i := range entries {
		resp.Entries = append(resp.Entries, entries[i].ToResponse(now))
	}

	response.RespondJSON(c, "success", http.StatusOK, "Waitlist retrieved successfully", resp, nil)
}

// AcceptOffer handles POST /api/v1/waitlist/:id/accept
func (ctrl *Controller) AcceptOffer(c *gin.Context) {
	entryID, ok := parseUUIDParam(c, "Invalid waitlist entry ID")
	if !ok {
		return
	}

	var req AcceptOfferRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
			return
		}
	}

	result, err := ctrl.service.Accept(c.Request.Context(), entryID, req.PaymentToken)
	if err != nil {
		response.RespondError(c, err)
		return
	}

	entry := result.Entry.ToResponse(time.Now())
	response.RespondJSON(c, "success", http.StatusCreated, "Offer accepted, booking confirmed", AcceptResponse{
		Booking: result.Booking.ToResponse(),
		Entry:   &entry,
	}, nil)
}

// Rejoin handles POST /api/v1/waitlist/:id/rejoin
func (ctrl *Controller) Rejoin(c *gin.Context) {
	ctrl.entryAction(c, "Rejoined waitlist", ctrl.service.Rejoin)
}

// RemoveFromWaitlist handles DELETE /api/v1/waitlist/:id and DELETE /api/v1/admin/waitlist/:id
func (ctrl *Controller) RemoveFromWaitlist(c *gin.Context) {
	ctrl.entryAction(c, "Removed from waitlist", ctrl.service.RemoveFromWaitlist)
}

// Promote handles POST /api/v1/admin/waitlist/:id/promote
func (ctrl *Controller) Promote(c *gin.Context) {
	ctrl.entryAction(c, "Offer created for waitlist entry", ctrl.service.Promote)
}

func (ctrl *Controller) entryAction(c *gin.Context, message string, action func(ctx context.Context, entryID uuid.UUID) (*waitlist.Entry, error)) {
	entryID, ok := parseUUIDParam(c, "Invalid waitlist entry ID")
	if !ok {
		return
	}

	entry, err := action(c.Request.Context(), entryID)
	if err != nil {
		response.RespondError(c, err)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, message, entry.ToResponse(time.Now()), nil)
}

func parseUUIDParam(c *gin.Context, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, message, nil, err.Error())
		return uuid.Nil, false
	}
	return id, true
}
