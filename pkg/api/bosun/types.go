package bosun

// URLPayload is one pending URL routed to its per-domain queue. The same
// shape is used on publish and as the frame pushed to subscribers.
type URLPayload struct {
	Queue   string `json:"queue"`
	Message string `json:"message"`
}

// PublishRequest submits a batch of discovered URLs to the frontier.
type PublishRequest struct {
	Payloads []URLPayload `json:"payloads"`
}

// PublishResponse acknowledges how many URLs were queued.
type PublishResponse struct {
	Accepted int `json:"accepted"`
}
