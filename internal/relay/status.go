package relay

// Status is a point-in-time snapshot of the service.
type Status struct {
	Running     bool   `json:"running"`
	Connected   bool   `json:"connected"`
	Port        string `json:"port"`
	QueuedCount int    `json:"queued_count"`
	Phase       Phase  `json:"phase"`
}
