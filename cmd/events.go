package cmd

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.olrik.dev/logwarden/internal/core"
	"go.olrik.dev/logwarden/internal/db"
)

func NewEventsCommand() *cobra.Command {
	var limit int
	var category string

	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Show the daemon's event journal",
		Long: `Show recent daemon events: starts and stops, log source restarts,
subscriber attaches and supervised process terminations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := db.Open(core.GetDatabasePath())
			if err != nil {
				return fmt.Errorf("failed to open event journal: %w", err)
			}
			defer database.Close()

			events, err := database.GetRecentEvents(category, limit)
			if err != nil {
				return fmt.Errorf("failed to read events: %w", err)
			}
			printEvents(cmd.OutOrStdout(), events)
			return nil
		},
	}
	eventsCmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of events")
	eventsCmd.Flags().StringVarP(&category, "category", "c", "", "only show one category (daemon, source, subscriber, watchdog)")

	return eventsCmd
}

// printEvents writes events oldest first
func printEvents(w io.Writer, events []db.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No events recorded")
		return
	}
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		fmt.Fprintf(w, "%s  %-10s %-22s %s  (%s)\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.Category, e.EventType, e.Details, humanize.Time(e.Timestamp))
	}
}
