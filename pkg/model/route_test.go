package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gate-console/pkg/errcode"
)

func loginRule() RouteRule {
	return RouteRule{
		Name:     "login api",
		Method:   "POST",
		URL:      "/user/v0.1/login",
		Handlers: []string{"auth"},
		NodeGroup: []Node{{
			Cluster: "c1",
			Rewrite: "/u",
			ParamGroup: []Param{{
				Attr: "id", From: LocationQuery, To: LocationBody, ToName: "userId",
			}},
		}},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, loginRule().Validate())

	tests := []struct {
		name   string
		mutate func(*RouteRule)
		want   *errcode.Error
	}{
		{"empty name", func(r *RouteRule) { r.Name = " " }, errcode.RouteInvalid},
		{"bad method", func(r *RouteRule) { r.Method = "PATCH" }, errcode.UnknownMethod},
		{"empty url", func(r *RouteRule) { r.URL = "" }, errcode.URLNotValid},
		{"no cluster", func(r *RouteRule) { r.NodeGroup[0].Cluster = "" }, errcode.RouteInvalid},
		{"no rewrite", func(r *RouteRule) { r.NodeGroup[0].Rewrite = "" }, errcode.RouteInvalid},
		{"no param attr", func(r *RouteRule) { r.NodeGroup[0].ParamGroup[0].Attr = "" }, errcode.RouteInvalid},
		{"no from", func(r *RouteRule) { r.NodeGroup[0].ParamGroup[0].From = 0 }, errcode.RouteInvalid},
		{"to out of range", func(r *RouteRule) { r.NodeGroup[0].ParamGroup[0].To = 9 }, errcode.RouteInvalid},
		{"bad pattern", func(r *RouteRule) { r.NodeGroup[0].ParamGroup[0].Validation = "(" }, errcode.ValidationRuleInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := loginRule()
			tt.mutate(&r)
			err := r.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestValidateAllowsEmptyNodeGroup(t *testing.T) {
	r := loginRule()
	r.NodeGroup = nil
	assert.NoError(t, r.Validate())
}

func TestCloneDoesNotAlias(t *testing.T) {
	orig := loginRule()
	c := orig.Clone()
	c.Handlers[0] = "snapshot"
	c.NodeGroup[0].Cluster = "c2"
	c.NodeGroup[0].ParamGroup[0].ToName = "uid"

	assert.Equal(t, "auth", orig.Handlers[0])
	assert.Equal(t, "c1", orig.NodeGroup[0].Cluster)
	assert.Equal(t, "userId", orig.NodeGroup[0].ParamGroup[0].ToName)
}

func TestKeyMatches(t *testing.T) {
	r := loginRule()
	assert.True(t, Key{Method: "POST", URL: "/user/v0.1/login"}.Matches(r))
	assert.False(t, Key{Method: "GET", URL: "/user/v0.1/login"}.Matches(r))

	r.ID = "a"
	assert.True(t, Key{ID: "a", Method: "GET", URL: "/other"}.Matches(r))
	assert.False(t, Key{ID: "b", Method: "POST", URL: "/user/v0.1/login"}.Matches(r))
	// a key without an id falls back to the business key
	assert.True(t, Key{Method: "POST", URL: "/user/v0.1/login"}.Matches(r))
}

func TestParamLocationString(t *testing.T) {
	assert.Equal(t, "Header", LocationHeader.String())
	assert.Equal(t, "Query", LocationQuery.String())
	assert.Equal(t, "Body", LocationBody.String())
	assert.Equal(t, "Unknown", ParamLocation(0).String())
	assert.False(t, ParamLocation(0).Valid())
}

func TestParamLocationDecoding(t *testing.T) {
	var p Param
	require.NoError(t, json.Unmarshal([]byte(`{"attr":"id","from":2,"to":"body"}`), &p))
	assert.Equal(t, LocationQuery, p.From)
	assert.Equal(t, LocationBody, p.To)

	assert.Error(t, json.Unmarshal([]byte(`{"from":"cookie"}`), &p))

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"to":3`)
}

func TestDefaultPluginsAreFresh(t *testing.T) {
	a := DefaultPlugins()
	require.NotEmpty(t, a)
	a[0].Name = "changed"
	assert.NotEqual(t, "changed", DefaultPlugins()[0].Name)

	private := map[string]bool{}
	for _, p := range DefaultPlugins() {
		private[p.Name] = p.Private
	}
	assert.True(t, private["proxy"])
	assert.False(t, private["auth"])
}
