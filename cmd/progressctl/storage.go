package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	sqlxAdapter "progresskit/adapters/sqlx"
	"progresskit/config"
	"progresskit/core"
	"progresskit/engine"
	"progresskit/gamify"
)

type storageFlags struct {
	adapter string
	file    string
	driver  string
	dsn     string
}

func (f *storageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.adapter, "adapter", "", "storage adapter (memory, file, redis, sql); defaults to PROGRESSKIT_STORAGE_ADAPTER")
	cmd.Flags().StringVar(&f.file, "path", "", "state file for the file adapter")
	cmd.Flags().StringVar(&f.driver, "driver", "", "SQL driver (postgres, mysql, sqlite)")
	cmd.Flags().StringVar(&f.dsn, "dsn", "", "SQL data source name")
}

// config loads the environment configuration and applies flag overrides.
func (f *storageFlags) config() (config.StorageConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.StorageConfig{}, err
	}
	sc := cfg.Storage
	if f.adapter != "" {
		sc.Adapter = f.adapter
	}
	if f.file != "" {
		sc.File.Path = f.file
	}
	if f.driver != "" {
		sc.SQL.Driver = sqlxAdapter.Driver(f.driver)
	}
	if f.dsn != "" {
		sc.SQL.DSN = f.dsn
	}
	return sc, sc.Validate()
}

func (f *storageFlags) open(ctx context.Context) (engine.Storage, func(), error) {
	sc, err := f.config()
	if err != nil {
		return nil, nil, err
	}
	store, err := gamify.OpenStorage(ctx, sc)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {}
	if c, ok := store.(io.Closer); ok {
		cleanup = func() { _ = c.Close() }
	}
	return store, cleanup, nil
}

func newMigrateCmd() *cobra.Command {
	f := &storageFlags{adapter: config.AdapterSQL}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the SQL schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := f.config()
			if err != nil {
				return err
			}
			if sc.Adapter != config.AdapterSQL {
				return fmt.Errorf("migrate requires the sql adapter, got %q", sc.Adapter)
			}
			sc.SQL.AutoMigrate = false
			store, err := sqlxAdapter.New(cmd.Context(), sc.SQL)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", sc.SQL.Driver)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newExportCmd() *cobra.Command {
	f := &storageFlags{}
	var user, from, to, tag string
	var limit int
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a user's entries from storage as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := core.EntryFilter{Tag: tag, Limit: limit}
			var err error
			if from != "" {
				if filter.From, err = core.ParseDate(from); err != nil {
					return err
				}
			}
			if to != "" {
				if filter.To, err = core.ParseDate(to); err != nil {
					return err
				}
			}
			store, cleanup, err := f.open(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			entries, err := store.ListEntries(cmd.Context(), core.UserID(user), filter)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []core.ProgressEntry{}
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&user, "user", "u", "", "user id")
	cmd.Flags().StringVar(&from, "from", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&tag, "tag", "", "only entries carrying this tag")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of entries")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// newImportCmd restores an export into storage. Entries whose id already
// exists are skipped; XP and achievements are not replayed.
func newImportCmd() *cobra.Command {
	f := &storageFlags{}
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load an entries export back into storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := readEntries(cmd, file)
			if err != nil {
				return err
			}
			store, cleanup, err := f.open(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			var added, skipped int
			for _, e := range entries {
				if err := validateImported(e); err != nil {
					return fmt.Errorf("entry %q: %w", e.ID, err)
				}
				switch err := store.AddEntry(cmd.Context(), e); {
				case errors.Is(err, core.ErrConflict):
					skipped++
				case err != nil:
					return fmt.Errorf("entry %s: %w", e.ID, err)
				default:
					added++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d entries, skipped %d existing\n", added, skipped)
			return nil
		},
	}
	f.register(cmd)
	fileFlag(cmd, &file)
	return cmd
}

func validateImported(e core.ProgressEntry) error {
	if e.ID == "" {
		return fmt.Errorf("%w: id is required", core.ErrInvalidInput)
	}
	if _, err := core.NormalizeUserID(e.UserID); err != nil {
		return err
	}
	return core.EntryInput{Date: e.Date, Note: e.Note, Images: e.Images, Tags: e.Tags}.Validate()
}
