// Package editor implements the add/remove/set operations over a route rule's
// node group and each node's param group.
//
// Every operation takes the current group and returns a new one. The input is
// never modified, so callers can keep earlier values for undo or comparison.
package editor

import (
	"errors"
	"fmt"

	"gate-console/pkg/model"
)

var (
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrUnknownField    = errors.New("unknown field")
	ErrFieldType       = errors.New("wrong value type for field")
)

// NodeField names an editable scalar field of a node.
type NodeField string

const (
	NodeCluster NodeField = "cluster"
	NodeAttr    NodeField = "attr"
	NodeRewrite NodeField = "rewrite"
)

// ParamField names an editable field of a param.
type ParamField string

const (
	ParamAttr       ParamField = "attr"
	ParamRequired   ParamField = "required"
	ParamFrom       ParamField = "from"
	ParamTo         ParamField = "to"
	ParamToName     ParamField = "toName"
	ParamValidation ParamField = "validation"
)

// NewNode allocates an empty node with an empty param group.
func NewNode() model.Node {
	return model.Node{ParamGroup: []model.Param{}}
}

// NewParam allocates a param reading from and writing to the header.
func NewParam() model.Param {
	return model.Param{From: model.LocationHeader, To: model.LocationHeader}
}

func AddNode(nodes []model.Node) []model.Node {
	return append(model.CloneNodes(nodes), NewNode())
}

func RemoveNode(nodes []model.Node, index int) ([]model.Node, error) {
	if err := checkIndex("node", index, len(nodes)); err != nil {
		return nodes, err
	}
	out := make([]model.Node, 0, len(nodes)-1)
	out = append(out, model.CloneNodes(nodes[:index])...)
	out = append(out, model.CloneNodes(nodes[index+1:])...)
	return out, nil
}

func SetNodeField(nodes []model.Node, index int, key NodeField, value interface{}) ([]model.Node, error) {
	if err := checkIndex("node", index, len(nodes)); err != nil {
		return nodes, err
	}
	s, ok := value.(string)
	if !ok {
		return nodes, fmt.Errorf("node %s: %w (%T)", key, ErrFieldType, value)
	}
	out := model.CloneNodes(nodes)
	switch key {
	case NodeCluster:
		out[index].Cluster = s
	case NodeAttr:
		out[index].Attr = s
	case NodeRewrite:
		out[index].Rewrite = s
	default:
		return nodes, fmt.Errorf("node %q: %w", key, ErrUnknownField)
	}
	return out, nil
}

func AddParam(nodes []model.Node, nodeIndex int) ([]model.Node, error) {
	if err := checkIndex("node", nodeIndex, len(nodes)); err != nil {
		return nodes, err
	}
	out := model.CloneNodes(nodes)
	out[nodeIndex].ParamGroup = append(out[nodeIndex].ParamGroup, NewParam())
	return out, nil
}

func RemoveParam(nodes []model.Node, nodeIndex, paramIndex int) ([]model.Node, error) {
	if err := checkIndex("node", nodeIndex, len(nodes)); err != nil {
		return nodes, err
	}
	params := nodes[nodeIndex].ParamGroup
	if err := checkIndex("param", paramIndex, len(params)); err != nil {
		return nodes, err
	}
	out := model.CloneNodes(nodes)
	kept := make([]model.Param, 0, len(params)-1)
	kept = append(kept, params[:paramIndex]...)
	kept = append(kept, params[paramIndex+1:]...)
	out[nodeIndex].ParamGroup = kept
	return out, nil
}

func SetParamField(nodes []model.Node, nodeIndex, paramIndex int, key ParamField, value interface{}) ([]model.Node, error) {
	if err := checkIndex("node", nodeIndex, len(nodes)); err != nil {
		return nodes, err
	}
	if err := checkIndex("param", paramIndex, len(nodes[nodeIndex].ParamGroup)); err != nil {
		return nodes, err
	}
	out := model.CloneNodes(nodes)
	p := &out[nodeIndex].ParamGroup[paramIndex]
	var ok bool
	switch key {
	case ParamAttr:
		p.Attr, ok = value.(string)
	case ParamToName:
		p.ToName, ok = value.(string)
	case ParamValidation:
		p.Validation, ok = value.(string)
	case ParamRequired:
		p.Required, ok = value.(bool)
	case ParamFrom:
		p.From, ok = location(value)
	case ParamTo:
		p.To, ok = location(value)
	default:
		return nodes, fmt.Errorf("param %q: %w", key, ErrUnknownField)
	}
	if !ok {
		return nodes, fmt.Errorf("param %s: %w (%T)", key, ErrFieldType, value)
	}
	return out, nil
}

// location accepts a ParamLocation or the plain int a form select yields.
func location(v interface{}) (model.ParamLocation, bool) {
	switch l := v.(type) {
	case model.ParamLocation:
		return l, true
	case int:
		return model.ParamLocation(l), true
	}
	return 0, false
}

func checkIndex(what string, i, n int) error {
	if i < 0 || i >= n {
		return fmt.Errorf("%s %d of %d: %w", what, i, n, ErrIndexOutOfRange)
	}
	return nil
}
