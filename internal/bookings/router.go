package bookings

import (
	"github.com/gin-gonic/gin"
)

// SetupBookingRoutes configures booking and waitlist routes
func SetupBookingRoutes(rg *gin.RouterGroup, controller *Controller) {
	sessions := rg.Group("/sessions")
	{
		// POST /api/v1/sessions/:id/bookings
		sessions.POST("/:id/bookings", controller.CreateBooking)
		// GET /api/v1/sessions/:id/waitlist
		sessions.GET("/:id/waitlist", controller.ListWaitlist)
	}

	bookings := rg.Group("/bookings")
	{
		bookings.GET("/:id", controller.GetBooking)
		bookings.DELETE("/:id", controller.CancelBooking)
	}

	waitlist := rg.Group("/waitlist")
	{
		waitlist.POST("/:id/accept", controller.AcceptOffer)
		waitlist.POST("/:id/rejoin", controller.Rejoin)
		waitlist.DELETE("/:id", controller.RemoveFromWaitlist)
	}

	admin := rg.Group("/admin/waitlist")
	{
		admin.POST("/:id/promote", controller.Promote)
		admin.DELETE("/:id", controller.RemoveFromWaitlist)
	}
}

// Route definitions for reference:
//
// BOOKING
// POST   /api/v1/sessions/:id/bookings          - Book or join the waitlist
// Request body: { "participant_id": "...", "guardian_id": "...", "payment_token": "..." }
// 201 with the booking when confirmed, 202 with the waitlist entry when queued
// GET    /api/v1/bookings/:id                   - Get a booking
// DELETE /api/v1/bookings/:id                   - Cancel a booking (frees the seat)
//
// WAITLIST
// GET    /api/v1/sessions/:id/waitlist          - Ordered waitlist
// POST   /api/v1/waitlist/:id/accept            - Accept an outstanding offer
// POST   /api/v1/waitlist/:id/rejoin            - Rejoin after an expired offer
// DELETE /api/v1/waitlist/:id                   - Leave the waitlist
//
// ADMIN
// POST   /api/v1/admin/waitlist/:id/promote     - Offer a seat out of order
// DELETE /api/v1/admin/waitlist/:id             - Remove an entry
