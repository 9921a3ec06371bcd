package domain

// SyncRequest is the body the agent posts to the aggregator's /sync endpoint.
type SyncRequest struct {
	TrackingSessions map[string]*TrackingSession `json:"trackingSessions"`
	Timestamp        int64                       `json:"timestamp"`
}

// SyncResponse is the aggregator's reply. On success UpdatedSessions holds
// the aggregator's entire mapping after the merge.
type SyncResponse struct {
	Success         bool                        `json:"success"`
	UpdatedSessions map[string]*TrackingSession `json:"updatedSessions"`
	Error           string                      `json:"error,omitempty"`
}
