// Package cli implements the agent-recall CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-recall/internal/config"
	"github.com/rcliao/agent-recall/internal/logging"
	"github.com/rcliao/agent-recall/internal/store"
)

var (
	dbPath     string
	configPath string
	ownerFlag  string
	logLevel   string

	cfg *config.Config
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "agent-recall",
	Short: "Long-term memory and context assembly for chat agents",
	Long: "Extracts durable facts from conversation turns, keeps them in a per-owner SQLite store, " +
		"and assembles token-budgeted prompt context from them.",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $AGENT_RECALL_DB or ~/.agent-recall/recall.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default: $AGENT_RECALL_CONFIG)")
	RootCmd.PersistentFlags().StringVarP(&ownerFlag, "owner", "o", "", "Owner id (default: $AGENT_RECALL_OWNER)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// setup loads the config and applies flag overrides before any command runs.
func setup(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = os.Getenv("AGENT_RECALL_CONFIG")
	}
	c, err := config.Load(path)
	if err != nil {
		return err
	}
	if dbPath != "" {
		c.DB = dbPath
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	if err := logging.Init(c.Log.Level, c.Log.Format); err != nil {
		return err
	}
	cfg = c
	return nil
}

func owner() string {
	if ownerFlag != "" {
		return ownerFlag
	}
	if env := os.Getenv("AGENT_RECALL_OWNER"); env != "" {
		return env
	}
	exitErr("owner", fmt.Errorf("--owner or $AGENT_RECALL_OWNER is required"))
	return ""
}

func openStore() (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(cfg.DB, store.Options{
		Cap:    cfg.Store.Cap,
		Index:  cfg.Store.Index,
		Logger: logging.New("store"),
	})
}

// readInput joins args, or reads stdin when there are none and it is piped.
func readInput(args []string) string {
	if len(args) > 0 {
		return strings.TrimSpace(strings.Join(args, " "))
	}
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		return strings.TrimSpace(string(b))
	}
	return ""
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func printJSON(cmd *cobra.Command, v interface{}) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
