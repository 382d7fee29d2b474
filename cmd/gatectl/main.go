package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"gate-console/pkg/client"
	"gate-console/pkg/config"
	"gate-console/pkg/console"
	"gate-console/pkg/journal"
	"gate-console/pkg/logging"
	"gate-console/pkg/version"
)

var (
	cfg    config.Config
	actor  string
	output string
)

var gatectl = &cobra.Command{
	Use:           "gatectl [command]",
	Short:         "Author and inspect gateway route rules",
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
			return err
		}
		switch output {
		case "table", "json", "yaml":
			return nil
		}
		return fmt.Errorf("--output %q: want table, json or yaml", output)
	},
}

func init() {
	loaded, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg = loaded
	cfg.LogLevel = "warn"
	if v := os.Getenv("GATE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	pf := gatectl.PersistentFlags()
	pf.StringVarP(&cfg.Server, "server", "s", cfg.Server, "gate-admin base URL")
	pf.StringVar(&cfg.Journal, "journal", cfg.Journal, "sqlite file journaling every change sent (empty disables)")
	pf.IntVar(&cfg.MaxNodes, "max-nodes", cfg.MaxNodes, "maximum nodes per rule, 0 for no limit")
	pf.StringVar(&actor, "actor", os.Getenv("USER"), "operator name recorded in the audit log")
	pf.StringVarP(&output, "output", "o", "table", "output format: table|json|yaml")
	pf.StringVar(&cfg.TLS.CA, "ca", cfg.TLS.CA, "CA bundle trusted for an https server")
	pf.StringVar(&cfg.TLS.Cert, "cert", cfg.TLS.Cert, "client certificate for mutual TLS")
	pf.StringVar(&cfg.TLS.Key, "key", cfg.TLS.Key, "client key for mutual TLS")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	pf.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text|json")
}

// clientFor builds the admin API client described by the flags.
func clientFor() (*client.Client, error) {
	opts := []client.Option{client.WithActor(actor)}
	if cfg.TLS.Enabled() {
		tcfg, err := cfg.TLS.Client()
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithTLS(tcfg))
	}
	return client.New(cfg.Server, opts...), nil
}

// session opens the console described by the flags. The returned func
// releases the journal.
func session() (*console.Console, func(), error) {
	cl, err := clientFor()
	if err != nil {
		return nil, nil, err
	}
	copts := []console.Option{console.WithMaxNodes(cfg.MaxNodes)}
	closer := func() {}
	if cfg.Journal != "" {
		j, err := journal.Open(cfg.Journal)
		if err != nil {
			return nil, nil, err
		}
		copts = append(copts, console.WithJournal(j))
		closer = func() { _ = j.Close() }
	}
	return console.New(cl, copts...), closer, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// emit writes v as JSON or YAML, or calls table for the table format.
func emit(w io.Writer, v interface{}, table func(io.Writer) error) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		b, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	}
	return table(w)
}

func main() {
	if err := gatectl.Execute(); err != nil {
		log.WithError(err).Debug("command failed")
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
