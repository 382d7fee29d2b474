package fieldpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gate-console/pkg/model"
)

func nodesWithParams(counts ...int) []model.Node {
	nodes := make([]model.Node, len(counts))
	for i, c := range counts {
		nodes[i].ParamGroup = make([]model.Param, c)
	}
	return nodes
}

func TestGenerateOrder(t *testing.T) {
	got := Generate(nodesWithParams(1, 0, 2))
	assert.Equal(t, []string{
		"nodeGroup[0].cluster",
		"nodeGroup[0].rewrite",
		"nodeGroup[0].paramGroup[0].attr",
		"nodeGroup[0].paramGroup[0].from",
		"nodeGroup[0].paramGroup[0].to",
		"nodeGroup[1].cluster",
		"nodeGroup[1].rewrite",
		"nodeGroup[2].cluster",
		"nodeGroup[2].rewrite",
		"nodeGroup[2].paramGroup[0].attr",
		"nodeGroup[2].paramGroup[0].from",
		"nodeGroup[2].paramGroup[0].to",
		"nodeGroup[2].paramGroup[1].attr",
		"nodeGroup[2].paramGroup[1].from",
		"nodeGroup[2].paramGroup[1].to",
	}, got)
}

func TestGenerateLength(t *testing.T) {
	shapes := [][]int{{0}, {3}, {0, 0, 0}, {1, 2, 3, 4}, {5, 0, 1}}
	for _, shape := range shapes {
		sum := 0
		for _, c := range shape {
			sum += c
		}
		assert.Len(t, Generate(nodesWithParams(shape...)), 2*len(shape)+3*sum, "shape %v", shape)
	}
	assert.Empty(t, Generate(nil))
}

func TestGenerateTracksShapeChanges(t *testing.T) {
	nodes := nodesWithParams(1)
	first := Generate(nodes)
	nodes = append(nodes, model.Node{})
	second := Generate(nodes)
	assert.Len(t, first, 5)
	assert.Len(t, second, 7)
}

func validNodes() []model.Node {
	return []model.Node{
		{Cluster: "c1", Rewrite: "/u", ParamGroup: []model.Param{{Attr: "id", From: model.LocationQuery, To: model.LocationBody}}},
		{Cluster: "c2", Rewrite: "/o"},
	}
}

func TestValidatePasses(t *testing.T) {
	nodes := validNodes()
	assert.Nil(t, Validate(nodes, Generate(nodes), Options{}))
	assert.Nil(t, Validate(nodes, Generate(nodes), Options{KnownClusters: []string{"c1", "c2"}}))
}

func TestValidateReportsPerField(t *testing.T) {
	nodes := validNodes()
	nodes[0].Rewrite = ""
	nodes[0].ParamGroup[0].From = 0
	nodes[1].Cluster = "c1"

	errs := Validate(nodes, Generate(nodes), Options{})
	require.Len(t, errs, 3)
	assert.Equal(t, "rewrite is required", errs["nodeGroup[0].rewrite"])
	assert.Equal(t, "from is required", errs["nodeGroup[0].paramGroup[0].from"])
	assert.Contains(t, errs["nodeGroup[1].cluster"], "already used")
}

func TestValidateIgnoresUnnamedFields(t *testing.T) {
	nodes := validNodes()
	nodes[0].ParamGroup[0].Attr = ""
	nodes[0].ParamGroup[0].Validation = "("

	errs := Validate(nodes, []string{"nodeGroup[0].cluster", "nodeGroup[0].rewrite"}, Options{})
	assert.Nil(t, errs)
}

func TestValidateUnknownCluster(t *testing.T) {
	nodes := validNodes()
	errs := Validate(nodes, Generate(nodes), Options{KnownClusters: []string{"c1"}})
	assert.Equal(t, Errors{"nodeGroup[1].cluster": "cluster c2 does not exist"}, errs)
}

func TestValidateClusterSpaces(t *testing.T) {
	paths := []string{"nodeGroup[0].cluster", "nodeGroup[1].cluster"}
	nodes := validNodes()
	nodes[0].Cluster, nodes[1].Cluster = " c1", "c1"

	errs := Validate(nodes, paths, Options{KnownClusters: []string{"c1", "c2"}})
	assert.Equal(t, `cluster " c1" has surrounding spaces`, errs["nodeGroup[0].cluster"])
	assert.Equal(t, "cluster c1 already used by nodeGroup[0]", errs["nodeGroup[1].cluster"])

	nodes[0].Cluster, nodes[1].Cluster = "c1", " c1"
	errs = Validate(nodes, paths, Options{})
	require.Len(t, errs, 1)
	assert.Contains(t, errs["nodeGroup[1].cluster"], "surrounding spaces")
}

func TestValidateBadPaths(t *testing.T) {
	nodes := validNodes()
	errs := Validate(nodes, []string{"name", "nodeGroup[7].cluster", "nodeGroup[1].paramGroup[0].attr"}, Options{})
	assert.Equal(t, "unknown field", errs["name"])
	assert.Equal(t, "no such node", errs["nodeGroup[7].cluster"])
	assert.Equal(t, "no such param", errs["nodeGroup[1].paramGroup[0].attr"])
}

func TestErrorsString(t *testing.T) {
	e := Errors{"b": "second", "a": "first"}
	assert.Equal(t, "a: first; b: second", e.Error())
}
