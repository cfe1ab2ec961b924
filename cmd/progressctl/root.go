package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"progresskit/core"
)

const version = "0.1.0"

type globalFlags struct {
	json     bool
	timezone string
	today    string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "progressctl",
		Short:         "Inspect progress journals and manage progresskit storage",
		Long:          "progressctl computes levels, streaks, achievements and analytics for exported entries and runs storage maintenance.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("{{.Name}} v{{.Version}}\n")
	root.PersistentFlags().BoolVar(&g.json, "json", false, "print JSON instead of text")
	root.PersistentFlags().StringVar(&g.timezone, "tz", "UTC", "IANA timezone used for calendar days")
	root.PersistentFlags().StringVar(&g.today, "today", "", "evaluate as of this day (YYYY-MM-DD)")

	root.AddCommand(
		newLevelCmd(g),
		newStreakCmd(g),
		newAchievementsCmd(g),
		newStatsCmd(g),
		newInsightsCmd(g),
		newMigrateCmd(),
		newExportCmd(),
		newImportCmd(),
	)
	return root
}

func (g *globalFlags) location() (*time.Location, error) {
	loc, err := time.LoadLocation(g.timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", g.timezone, err)
	}
	return loc, nil
}

func (g *globalFlags) day(loc *time.Location) (core.Date, error) {
	if g.today == "" {
		return core.Today(loc), nil
	}
	return core.ParseDate(g.today)
}

// readEntries decodes a JSON array of entries from path, or stdin when path is "-".
func readEntries(cmd *cobra.Command, path string) ([]core.ProgressEntry, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var entries []core.ProgressEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}
	return entries, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
