package domain

// Participant is one live editing session shown in a page's presence roster.
type Participant struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	SessionID  string   `json:"session_id"`
	SessionIDs []string `json:"sessionIds"`
}
