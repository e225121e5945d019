package bookings

type CreateBookingRequest struct {
	ParticipantID string  `json:"participant_id" binding:"required,uuid"`
	GuardianID    *string `json:"guardian_id" binding:"omitempty,uuid"`
	PaymentToken  string  `json:"payment_token" binding:"omitempty,max=255"`
}

type AcceptOfferRequest struct {
	PaymentToken string `json:"payment_token" binding:"omitempty,max=255"`
}
