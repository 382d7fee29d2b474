package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"gate-console/pkg/errcode"
)

// ParamLocation names where a parameter is read from or written to.
// The zero value means nothing has been selected yet.
type ParamLocation int

const (
	LocationHeader ParamLocation = iota + 1
	LocationQuery
	LocationBody
)

func (l ParamLocation) String() string {
	switch l {
	case LocationHeader:
		return "Header"
	case LocationQuery:
		return "Query"
	case LocationBody:
		return "Body"
	}
	return "Unknown"
}

// Valid reports whether l is a selected location.
func (l ParamLocation) Valid() bool {
	return l >= LocationHeader && l <= LocationBody
}

// UnmarshalJSON accepts the wire number or a location name such as "Query".
func (l *ParamLocation) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*l = ParamLocation(n)
		return nil
	}
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return fmt.Errorf("param location: %s", b)
	}
	for _, c := range []ParamLocation{LocationHeader, LocationQuery, LocationBody} {
		if strings.EqualFold(name, c.String()) {
			*l = c
			return nil
		}
	}
	return fmt.Errorf("param location: unknown name %q", name)
}

// Node is one backend dispatch target within a route rule.
type Node struct {
	Cluster    string  `json:"cluster"`
	Attr       string  `json:"attr,omitempty"` // local name for the dispatch result
	Rewrite    string  `json:"rewrite"`
	ParamGroup []Param `json:"paramGroup"`
}

// Param maps and validates one request parameter for a node.
type Param struct {
	Attr       string        `json:"attr"`
	Required   bool          `json:"required"`
	From       ParamLocation `json:"from"`
	To         ParamLocation `json:"to"`
	ToName     string        `json:"toName,omitempty"`
	Validation string        `json:"validation,omitempty"` // regexp checked by the gateway
}

// CloneNodes deep-copies a node group, param groups included.
func CloneNodes(nodes []Node) []Node {
	if nodes == nil {
		return nil
	}
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n
		if n.ParamGroup != nil {
			out[i].ParamGroup = make([]Param, len(n.ParamGroup))
			copy(out[i].ParamGroup, n.ParamGroup)
		}
	}
	return out
}

func (n Node) validate(index int) error {
	if strings.TrimSpace(n.Cluster) == "" {
		return errcode.RouteInvalid.Withf("nodeGroup[%d].cluster is required", index)
	}
	if strings.TrimSpace(n.Rewrite) == "" {
		return errcode.RouteInvalid.Withf("nodeGroup[%d].rewrite is required", index)
	}
	for p, param := range n.ParamGroup {
		if strings.TrimSpace(param.Attr) == "" {
			return errcode.RouteInvalid.Withf("nodeGroup[%d].paramGroup[%d].attr is required", index, p)
		}
		if !param.From.Valid() {
			return errcode.RouteInvalid.Withf("nodeGroup[%d].paramGroup[%d].from is required", index, p)
		}
		if !param.To.Valid() {
			return errcode.RouteInvalid.Withf("nodeGroup[%d].paramGroup[%d].to is required", index, p)
		}
		if param.Validation != "" {
			if _, err := regexp.Compile(param.Validation); err != nil {
				return errcode.ValidationRuleInvalid.Withf("nodeGroup[%d].paramGroup[%d].validation: %v", index, p, err)
			}
		}
	}
	return nil
}
