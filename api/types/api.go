package types

// TrackRequest asks the worker to start tracking a username.
type TrackRequest struct {
	Username string `json:"username"`
}

// TrackResponse reports the resolved profile and how many scan tasks the
// request queued. TasksCreated is zero when the profile was already tracked
// and fully scheduled.
type TrackResponse struct {
	Profile      Profile `json:"profile"`
	TasksCreated int     `json:"tasks_created"`
}

// RescanResponse reports how many rescan tasks a manual rescan queued.
type RescanResponse struct {
	Profile      Profile `json:"profile"`
	TasksCreated int     `json:"tasks_created"`
}

// APIError is the uniform error body of the HTTP API.
type APIError struct {
	Error string `json:"error"`
}
