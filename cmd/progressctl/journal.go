package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"progresskit/analytics"
	"progresskit/core"
	"progresskit/insights"
)

func newLevelCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "level <xp>",
		Short: "Show the level derived from an XP total",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			xp, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("xp must be an integer: %w", err)
			}
			info := core.DescribeLevel(xp)
			if g.json {
				return printJSON(cmd.OutOrStdout(), info)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Level %d (%d XP)\n", info.Level, info.XP)
			fmt.Fprintf(cmd.OutOrStdout(), "Progress: %.1f%%, %d XP to level %d\n", info.Progress, info.XPForNextLevel, info.Level+1)
			return nil
		},
	}
}

func newStreakCmd(g *globalFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "streak",
		Short: "Compute current and longest streaks",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, today, _, err := loadJournal(cmd, g, file)
			if err != nil {
				return err
			}
			dates := core.EntryDates(entries)
			out := struct {
				Current int `json:"current"`
				Longest int `json:"longest"`
			}{core.CurrentStreak(dates, today), core.LongestStreak(dates)}
			if g.json {
				return printJSON(cmd.OutOrStdout(), out)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Current streak: %d\nLongest streak: %d\n", out.Current, out.Longest)
			return nil
		},
	}
	fileFlag(cmd, &file)
	return cmd
}

func newAchievementsCmd(g *globalFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "achievements",
		Short: "List achievements earned by an entries export",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, today, loc, err := loadJournal(cmd, g, file)
			if err != nil {
				return err
			}
			facts := core.BuildFacts(entries, nil, today, loc)
			earned := core.Evaluate(core.DefaultCatalog(), facts, nil)
			if g.json {
				if earned == nil {
					earned = []core.Achievement{}
				}
				return printJSON(cmd.OutOrStdout(), earned)
			}
			if len(earned) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No achievements earned yet.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tDESCRIPTION")
			for _, a := range earned {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", a.ID, a.Name, a.Description)
			}
			return tw.Flush()
		},
	}
	fileFlag(cmd, &file)
	return cmd
}

func newStatsCmd(g *globalFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize an entries export",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, today, _, err := loadJournal(cmd, g, file)
			if err != nil {
				return err
			}
			s := analytics.ComputeStats(entries, today)
			if g.json {
				return printJSON(cmd.OutOrStdout(), s)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "Total\t%d\n", s.Total)
			fmt.Fprintf(tw, "This month\t%d\n", s.ThisMonth)
			fmt.Fprintf(tw, "This week\t%d\n", s.ThisWeek)
			fmt.Fprintf(tw, "Today\t%d\n", s.Today)
			fmt.Fprintf(tw, "Words\t%d\n", s.TotalWords)
			fmt.Fprintf(tw, "Images\t%d\n", s.TotalImages)
			fmt.Fprintf(tw, "Average per day\t%.2f\n", s.AveragePerDay)
			fmt.Fprintf(tw, "Current streak\t%d\n", s.CurrentStreak)
			fmt.Fprintf(tw, "Longest streak\t%d\n", s.LongestStreak)
			return tw.Flush()
		},
	}
	fileFlag(cmd, &file)
	return cmd
}

func newInsightsCmd(g *globalFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Generate insights for an entries export",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, today, loc, err := loadJournal(cmd, g, file)
			if err != nil {
				return err
			}
			list := insights.Generate(entries, today, loc)
			if g.json {
				return printJSON(cmd.OutOrStdout(), list)
			}
			for _, in := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", in.Kind, in.Message)
				for _, s := range in.Suggestions {
					fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", s)
				}
			}
			return nil
		},
	}
	fileFlag(cmd, &file)
	return cmd
}

func fileFlag(cmd *cobra.Command, file *string) {
	cmd.Flags().StringVarP(file, "file", "f", "", "entries JSON export (\"-\" for stdin)")
	_ = cmd.MarkFlagRequired("file")
}

func loadJournal(cmd *cobra.Command, g *globalFlags, file string) ([]core.ProgressEntry, core.Date, *time.Location, error) {
	loc, err := g.location()
	if err != nil {
		return nil, core.Date{}, nil, err
	}
	today, err := g.day(loc)
	if err != nil {
		return nil, core.Date{}, nil, err
	}
	entries, err := readEntries(cmd, file)
	if err != nil {
		return nil, core.Date{}, nil, err
	}
	return entries, today, loc, nil
}
