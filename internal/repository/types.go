package repository

// Profile is a named engine configuration blob. Content holds the raw engine
// config JSON; RemoteURL, when set, is the subscription source the content
// was fetched from.
type Profile struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Content     string `json:"content,omitempty"`
	RemoteURL   string `json:"remote_url,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Setting is a persisted key/value runtime flag.
type Setting struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt int64  `json:"updated_at"`
}
