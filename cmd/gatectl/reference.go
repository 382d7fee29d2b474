package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"gate-console/pkg/editor"
	"gate-console/pkg/journal"
	"gate-console/pkg/model"
)

var (
	clusterDescription string
	auditLimit         int
	draftFile          string
	historyMethod      string
	historyURL         string
)

func init() {
	clusters := &cobra.Command{
		Use:   "clusters [subcommand]",
		Short: "Backend clusters route nodes dispatch to",
	}
	listClusters := &cobra.Command{
		Use:   "list [--for FILE]",
		Short: "List clusters; with --for, show which are still free for the next node of a draft rule",
		Args:  cobra.NoArgs,
		RunE:  doListClusters,
	}
	listClusters.Flags().StringVar(&draftFile, "for", "", "draft rule file (- for stdin)")
	clusters.AddCommand(listClusters)
	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Register a cluster",
		Args:  cobra.ExactArgs(1),
		RunE:  doAddCluster,
	}
	add.Flags().StringVar(&clusterDescription, "description", "", "free text description")
	clusters.AddCommand(add)

	plugins := &cobra.Command{
		Use:   "plugins [subcommand]",
		Short: "Handler plugins rules can enable",
	}
	plugins.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List plugins; private ones are always on and cannot be selected",
		Args:  cobra.NoArgs,
		RunE:  doListPlugins,
	})

	audit := &cobra.Command{
		Use:   "audit",
		Short: "Show the server's audit log",
		Args:  cobra.NoArgs,
		RunE:  doAudit,
	}
	audit.Flags().IntVar(&auditLimit, "limit", 50, "number of entries")

	history := &cobra.Command{
		Use:   "history",
		Short: "Show the changes this machine sent, from the local journal",
		Args:  cobra.NoArgs,
		RunE:  doHistory,
	}
	history.Flags().IntVar(&auditLimit, "limit", 50, "number of entries")
	history.Flags().StringVar(&historyMethod, "method", "", "only ops against this rule (with --url)")
	history.Flags().StringVar(&historyURL, "url", "", "only ops against this rule (with --method)")

	gatectl.AddCommand(clusters, plugins, audit, history)
}

func doListClusters(cmd *cobra.Command, args []string) error {
	var draft []model.Node
	if draftFile != "" {
		r, err := readRule(draftFile)
		if err != nil {
			return err
		}
		draft = r.NodeGroup
	}
	c, done, err := session()
	if err != nil {
		return err
	}
	defer done()
	ctx, cancel := signalContext()
	defer cancel()
	if err := c.LoadReferences(ctx); err != nil {
		return err
	}
	var free []editor.Option
	if draftFile != "" {
		free = c.ClusterOptions(draft)
	}
	return printClusters(cmd.OutOrStdout(), c.Clusters(), free)
}

// printClusters renders list; free, when set, adds whether each cluster can
// still be picked by the draft's next node.
func printClusters(w io.Writer, list []model.Cluster, free []editor.Option) error {
	var v interface{} = list
	if free != nil {
		v = free
	}
	return emit(w, v, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		if free == nil {
			fmt.Fprintln(tw, "NAME\tIN USE\tBACKENDS\tDESCRIPTION")
			for _, cl := range list {
				fmt.Fprintf(tw, "%s\t%t\t%d\t%s\n", cl.Name, cl.Exist, cl.BackendNum, cl.Description)
			}
			return tw.Flush()
		}
		fmt.Fprintln(tw, "NAME\tFREE FOR NEXT NODE")
		for _, o := range free {
			fmt.Fprintf(tw, "%s\t%t\n", o.Label, !o.Disabled)
		}
		return tw.Flush()
	})
}

func doAddCluster(cmd *cobra.Command, args []string) error {
	cl, err := clientFor()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	if err := cl.AddCluster(ctx, model.Cluster{Name: args[0], Description: clusterDescription}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "added cluster %s\n", args[0])
	return nil
}

func doListPlugins(cmd *cobra.Command, args []string) error {
	c, done, err := session()
	if err != nil {
		return err
	}
	defer done()
	ctx, cancel := signalContext()
	defer cancel()
	if err := c.LoadReferences(ctx); err != nil {
		return err
	}
	list := c.Plugins()
	return emit(cmd.OutOrStdout(), list, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PLUGIN\tSELECTABLE")
		for _, o := range editor.PluginOptions(list) {
			fmt.Fprintf(tw, "%s\t%t\n", o.Label, !o.Disabled)
		}
		return tw.Flush()
	})
}

func doAudit(cmd *cobra.Command, args []string) error {
	cl, err := clientFor()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	entries, err := cl.ListAudit(ctx, auditLimit)
	if err != nil {
		return err
	}
	return emit(cmd.OutOrStdout(), entries, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tACTOR\tACTION\tTARGET\tDETAIL")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Actor, e.Action, e.Target, e.Detail)
		}
		return tw.Flush()
	})
}

func doHistory(cmd *cobra.Command, args []string) error {
	if cfg.Journal == "" {
		return fmt.Errorf("no journal configured; set --journal or GATE_JOURNAL")
	}
	c, done, err := session()
	if err != nil {
		return err
	}
	defer done()
	ctx, cancel := signalContext()
	defer cancel()
	var ops []journal.Op
	switch {
	case historyMethod != "" && historyURL != "":
		ops, err = c.HistoryOf(ctx, model.Key{Method: strings.ToUpper(historyMethod), URL: historyURL})
	case historyMethod != "" || historyURL != "":
		return fmt.Errorf("--method and --url go together")
	default:
		ops, err = c.History(ctx, auditLimit)
	}
	if err != nil {
		return err
	}
	return emit(cmd.OutOrStdout(), ops, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tACTION\tTARGET\tOUTCOME")
		for _, op := range ops {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", op.Time.Format(time.RFC3339), op.Action, op.Target, op.Outcome)
		}
		return tw.Flush()
	})
}
