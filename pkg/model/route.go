package model

import (
	"strings"

	"gate-console/pkg/errcode"
)

// Methods lists the HTTP methods a route rule may match on.
var Methods = []string{"GET", "POST", "PUT", "DELETE"}

// RouteRule maps an inbound method+url(+domain) to an ordered list of dispatch nodes.
type RouteRule struct {
	ID        string   `json:"id,omitempty"`
	Name      string   `json:"name"`
	Method    string   `json:"method"`
	URL       string   `json:"url"`
	Domain    string   `json:"domain,omitempty"`
	Handlers  []string `json:"handlers"`
	NodeGroup []Node   `json:"nodeGroup"`
}

// Key identifies a route rule for update/delete matching.
// ID wins when both sides carry one; otherwise method+url is compared.
type Key struct {
	ID     string `json:"id,omitempty"`
	Method string `json:"method"`
	URL    string `json:"url"`
}

// KeyOf returns the match key of r.
func KeyOf(r RouteRule) Key {
	return Key{ID: r.ID, Method: r.Method, URL: r.URL}
}

// Matches reports whether r is the rule identified by k.
func (k Key) Matches(r RouteRule) bool {
	if k.ID != "" && r.ID != "" {
		return k.ID == r.ID
	}
	return k.Method == r.Method && k.URL == r.URL
}

// SameRoute reports whether a and b share the business key (method, url).
func SameRoute(a, b RouteRule) bool {
	return a.Method == b.Method && a.URL == b.URL
}

func (k Key) String() string {
	if k.ID != "" {
		return k.Method + " " + k.URL + " (" + k.ID + ")"
	}
	return k.Method + " " + k.URL
}

// ValidMethod reports whether m is one of Methods.
func ValidMethod(m string) bool {
	for _, v := range Methods {
		if v == m {
			return true
		}
	}
	return false
}

// Validate checks the invariants every persisted rule must hold.
func (r RouteRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errcode.RouteInvalid.Withf("name is required")
	}
	if !ValidMethod(r.Method) {
		return errcode.UnknownMethod.Withf("unknown method %q", r.Method)
	}
	if strings.TrimSpace(r.URL) == "" {
		return errcode.URLNotValid
	}
	for i, n := range r.NodeGroup {
		if err := n.validate(i); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy of r; no slice is shared with the receiver.
func (r RouteRule) Clone() RouteRule {
	out := r
	if r.Handlers != nil {
		out.Handlers = make([]string, len(r.Handlers))
		copy(out.Handlers, r.Handlers)
	}
	out.NodeGroup = CloneNodes(r.NodeGroup)
	return out
}
