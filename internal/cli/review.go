package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/omjadhav9271/code-review-copilot/internal/store"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Inspect review records",
}

var reviewStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List reviews and their progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		st := store.New(database.Conn())
		states, err := st.List("")
		if err != nil {
			return err
		}

		staleAfter := time.Duration(cfg.Review.StaleAfterMinute) * time.Minute
		return writeStatusTable(os.Stdout, states, staleAfter)
	},
}

func writeStatusTable(out io.Writer, states []*store.ReviewState, staleAfter time.Duration) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REVIEW\tSTATUS\tTASKS\tUPDATED\tNOTE")
	for _, s := range states {
		note := ""
		if age, ok := recordAge(s.UpdatedAt); ok {
			if age > staleAfter && (s.Status == store.StatusPending || s.Status == store.StatusConsolidating) {
				note = "stale"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\n",
			s.ID, s.Status, s.TasksCompleted, s.TotalTasks, s.UpdatedAt, note)
	}
	return w.Flush()
}

var reviewShowCmd = &cobra.Command{
	Use:   "show <review-id>",
	Short: "Print the full review record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		s, err := store.New(database.Conn()).Get(args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

// recordAge parses the store's datetime('now') format.
func recordAge(updatedAt string) (time.Duration, bool) {
	t, err := time.Parse("2006-01-02 15:04:05", updatedAt)
	if err != nil {
		return 0, false
	}
	return time.Since(t.UTC()), true
}

func init() {
	reviewCmd.AddCommand(reviewStatusCmd)
	reviewCmd.AddCommand(reviewShowCmd)
}
