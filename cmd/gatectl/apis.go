package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"gate-console/pkg/model"
	"gate-console/pkg/reconcile"
)

var apis = &cobra.Command{
	Use:   "apis [subcommand]",
	Short: "List and author route rules",
}

var (
	ruleFile  string
	keyMethod string
	keyURL    string
	keyID     string
)

func init() {
	gatectl.AddCommand(apis)

	list := &cobra.Command{
		Use:   "list",
		Short: "List route rules",
		Args:  cobra.NoArgs,
		RunE:  doListAPIs,
	}
	create := &cobra.Command{
		Use:   "create -f FILE",
		Short: "Create a rule from a JSON or YAML file (- for stdin)",
		Args:  cobra.NoArgs,
		RunE:  doCreateAPI,
	}
	create.Flags().StringVarP(&ruleFile, "file", "f", "", "rule file")
	_ = create.MarkFlagRequired("file")

	edit := &cobra.Command{
		Use:   "edit --method M --url U -f FILE",
		Short: "Replace the rule identified by method and url",
		Args:  cobra.NoArgs,
		RunE:  doEditAPI,
	}
	edit.Flags().StringVarP(&ruleFile, "file", "f", "", "rule file")
	_ = edit.MarkFlagRequired("file")
	keyFlags(edit)

	del := &cobra.Command{
		Use:   "delete --method M --url U",
		Short: "Delete the rule identified by method and url",
		Args:  cobra.NoArgs,
		RunE:  doDeleteAPI,
	}
	keyFlags(del)

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Print the rule list every time it changes",
		Args:  cobra.NoArgs,
		RunE:  doWatchAPIs,
	}
	apis.AddCommand(list, create, edit, del, watch)
}

func keyFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&keyMethod, "method", "", "method of the rule")
	cmd.Flags().StringVar(&keyURL, "url", "", "url of the rule")
	cmd.Flags().StringVar(&keyID, "id", "", "id of the rule (overrides method and url when the server knows it)")
}

func selectedKey() (model.Key, error) {
	if keyID == "" && (keyMethod == "" || keyURL == "") {
		return model.Key{}, fmt.Errorf("--method and --url (or --id) are required")
	}
	return model.Key{ID: keyID, Method: strings.ToUpper(keyMethod), URL: keyURL}, nil
}

func readRule(path string) (model.RouteRule, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return model.RouteRule{}, err
	}
	var r model.RouteRule
	if err := yaml.Unmarshal(b, &r); err != nil {
		return model.RouteRule{}, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

func doListAPIs(cmd *cobra.Command, args []string) error {
	c, done, err := session()
	if err != nil {
		return err
	}
	defer done()
	ctx, cancel := signalContext()
	defer cancel()
	if err := c.Refresh(ctx); err != nil {
		return err
	}
	return printRules(cmd.OutOrStdout(), c.Routes().Snapshot())
}

func printRules(w io.Writer, s reconcile.State) error {
	return emit(w, s.Items, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "METHOD\tURL\tNAME\tHANDLERS\tNODES\tID")
		for _, r := range s.Items {
			clusters := make([]string, len(r.NodeGroup))
			for i, n := range r.NodeGroup {
				clusters[i] = n.Cluster
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Method, r.URL, r.Name,
				strings.Join(r.Handlers, ","), strings.Join(clusters, ","), r.ID)
		}
		if s.Message != "" {
			fmt.Fprintf(tw, "# %s\n", s.Message)
		}
		return tw.Flush()
	})
}

func doCreateAPI(cmd *cobra.Command, args []string) error {
	rule, err := readRule(ruleFile)
	if err != nil {
		return err
	}
	c, done, err := session()
	if err != nil {
		return err
	}
	defer done()
	ctx, cancel := signalContext()
	defer cancel()
	if err := c.Refresh(ctx); err != nil {
		return err
	}
	if err := c.LoadReferences(ctx); err != nil {
		return err
	}
	sub, err := c.Author(ctx, rule, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", sub.Rule.Method, sub.Rule.URL, sub.Rule.ID)
	return nil
}

func doEditAPI(cmd *cobra.Command, args []string) error {
	key, err := selectedKey()
	if err != nil {
		return err
	}
	rule, err := readRule(ruleFile)
	if err != nil {
		return err
	}
	c, done, err := session()
	if err != nil {
		return err
	}
	defer done()
	ctx, cancel := signalContext()
	defer cancel()
	if err := c.Refresh(ctx); err != nil {
		return err
	}
	if err := c.LoadReferences(ctx); err != nil {
		return err
	}
	sub, err := c.Author(ctx, rule, &key)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "updated %s -> %s %s\n", sub.Original, sub.Rule.Method, sub.Rule.URL)
	return nil
}

func doDeleteAPI(cmd *cobra.Command, args []string) error {
	key, err := selectedKey()
	if err != nil {
		return err
	}
	c, done, err := session()
	if err != nil {
		return err
	}
	defer done()
	ctx, cancel := signalContext()
	defer cancel()
	if err := c.Delete(ctx, key); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", key)
	return nil
}

func doWatchAPIs(cmd *cobra.Command, args []string) error {
	c, done, err := session()
	if err != nil {
		return err
	}
	defer done()
	ctx, cancel := signalContext()
	defer cancel()

	out := cmd.OutOrStdout()
	c.Routes().OnChange(func(s reconcile.State) {
		if s.Fetching {
			return
		}
		fmt.Fprintln(out, "---")
		_ = printRules(out, s)
	})
	if err := c.Refresh(ctx); err != nil {
		return err
	}
	return c.Follow(ctx)
}
