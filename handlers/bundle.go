package handlers

// HandlerBundle groups the endpoint handlers the router mounts.
type HandlerBundle struct {
	Availability *AvailabilityHandler
	Booking      *BookingHandler
	Tokens       *TokenHandler
}
