// Package fieldpath derives the list of node-group field paths that must pass
// validation before a route rule can be submitted, and validates exactly those.
package fieldpath

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gate-console/pkg/model"
)

// Generate lists, in node-major, param-minor order, the cluster and rewrite
// path of every node followed by the attr, from and to path of each of its
// params. The result is built from scratch on each call.
func Generate(nodes []model.Node) []string {
	n := 0
	for _, node := range nodes {
		n += 2 + 3*len(node.ParamGroup)
	}
	paths := make([]string, 0, n)
	for i, node := range nodes {
		paths = append(paths, NodePath(i, "cluster"), NodePath(i, "rewrite"))
		for p := range node.ParamGroup {
			paths = append(paths,
				ParamPath(i, p, "attr"),
				ParamPath(i, p, "from"),
				ParamPath(i, p, "to"),
			)
		}
	}
	return paths
}

func NodePath(node int, field string) string {
	return fmt.Sprintf("nodeGroup[%d].%s", node, field)
}

func ParamPath(node, param int, field string) string {
	return fmt.Sprintf("nodeGroup[%d].paramGroup[%d].%s", node, param, field)
}

// Errors maps an offending path to its message.
type Errors map[string]string

func (e Errors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e[k])
	}
	return strings.Join(parts, "; ")
}

// Options tunes the cluster rule.
type Options struct {
	// KnownClusters, when non-empty, restricts cluster to these names.
	KnownClusters []string
}

var pathRe = regexp.MustCompile(`^nodeGroup\[(\d+)\]\.(?:paramGroup\[(\d+)\]\.)?(\w+)$`)

// Validate applies the per-field rule to each named path and ignores every
// field not named. A nil result means all paths passed.
func Validate(nodes []model.Node, paths []string, opts Options) Errors {
	known := make(map[string]struct{}, len(opts.KnownClusters))
	for _, c := range opts.KnownClusters {
		known[c] = struct{}{}
	}
	errs := Errors{}
	for _, path := range paths {
		if msg := check(nodes, path, known); msg != "" {
			errs[path] = msg
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func check(nodes []model.Node, path string, known map[string]struct{}) string {
	m := pathRe.FindStringSubmatch(path)
	if m == nil {
		return "unknown field"
	}
	ni, _ := strconv.Atoi(m[1])
	if ni >= len(nodes) {
		return "no such node"
	}
	node := nodes[ni]
	if m[2] == "" {
		switch m[3] {
		case "cluster":
			return checkCluster(nodes, ni, known)
		case "rewrite":
			if strings.TrimSpace(node.Rewrite) == "" {
				return "rewrite is required"
			}
			return ""
		}
		return "unknown field"
	}
	pi, _ := strconv.Atoi(m[2])
	if pi >= len(node.ParamGroup) {
		return "no such param"
	}
	p := node.ParamGroup[pi]
	switch m[3] {
	case "attr":
		if strings.TrimSpace(p.Attr) == "" {
			return "attr is required"
		}
	case "from":
		if !p.From.Valid() {
			return "from is required"
		}
	case "to":
		if !p.To.Valid() {
			return "to is required"
		}
	default:
		return "unknown field"
	}
	return ""
}

func checkCluster(nodes []model.Node, ni int, known map[string]struct{}) string {
	c := strings.TrimSpace(nodes[ni].Cluster)
	if c == "" {
		return "cluster is required"
	}
	if c != nodes[ni].Cluster {
		return fmt.Sprintf("cluster %q has surrounding spaces", nodes[ni].Cluster)
	}
	for i := 0; i < ni; i++ {
		if strings.TrimSpace(nodes[i].Cluster) == c {
			return fmt.Sprintf("cluster %s already used by nodeGroup[%d]", c, i)
		}
	}
	if len(known) > 0 {
		if _, ok := known[c]; !ok {
			return fmt.Sprintf("cluster %s does not exist", c)
		}
	}
	return ""
}
