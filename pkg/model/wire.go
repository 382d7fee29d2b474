package model

import "encoding/json"

// Envelope wraps every admin API response. Code 0 is success; any other code
// is an application error even though the HTTP status is 200.
type Envelope struct {
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message"`
}

// UpdateRequest replaces the rule identified by Method+URL (or ID) with Info.
type UpdateRequest struct {
	Info   RouteRule `json:"info"`
	Method string    `json:"method"`
	URL    string    `json:"url"`
	ID     string    `json:"id,omitempty"`
}

func (u UpdateRequest) Key() Key { return Key{ID: u.ID, Method: u.Method, URL: u.URL} }

type DeleteRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
	ID     string `json:"id,omitempty"`
}

func (d DeleteRequest) Key() Key { return Key{ID: d.ID, Method: d.Method, URL: d.URL} }

// Change event types pushed over the websocket feed.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
	EventRefresh = "refresh"
)

// ChangeEvent tells subscribers the route table changed.
type ChangeEvent struct {
	Type string `json:"type"`
	Key  Key    `json:"key"`
}
