package server

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	svc Integration
	hub *EventHub
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(svc Integration, hub *EventHub) *Handlers {
	return &Handlers{svc: svc, hub: hub}
}
