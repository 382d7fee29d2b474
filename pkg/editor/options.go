package editor

import "gate-console/pkg/model"

// Option is one selectable choice for a form input.
type Option struct {
	Label    string `json:"label"`
	Value    string `json:"value"`
	Disabled bool   `json:"disabled"`
}

// ClusterOptions lists the cluster choices for the node at index. Clusters
// already picked by an earlier node are disabled.
func ClusterOptions(clusters []model.Cluster, nodes []model.Node, index int) []Option {
	used := make(map[string]struct{}, index)
	for i := 0; i < index && i < len(nodes); i++ {
		used[nodes[i].Cluster] = struct{}{}
	}
	out := make([]Option, 0, len(clusters))
	for _, c := range clusters {
		_, taken := used[c.Name]
		out = append(out, Option{Label: c.Name, Value: c.Name, Disabled: taken})
	}
	return out
}

// PluginOptions lists plugin choices labelled name-version; private plugins
// run on every route and cannot be toggled.
func PluginOptions(plugins []model.Plugin) []Option {
	out := make([]Option, 0, len(plugins))
	for _, p := range plugins {
		out = append(out, Option{Label: p.Name + "-" + p.Version, Value: p.Name, Disabled: p.Private})
	}
	return out
}
