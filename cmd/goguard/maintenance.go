package main

import (
	"fmt"
	"time"

	"github.com/MrEthical07/goGuard/auditlog"
	"github.com/MrEthical07/goGuard/session"
	"github.com/spf13/cobra"
)

func (a *app) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Deactivate every stored session whose deadline has passed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := a.load()
			if err != nil {
				return err
			}
			rdb := newRedis(cfg)
			defer rdb.Close()

			store := session.NewStore(rdb, cfg.Store.Prefix, cfg.Store.RecordRetention)
			total := 0
			for {
				ids, err := store.Sweep(cmd.Context(), time.Now(), cfg.Store.SweepBatch)
				if err != nil {
					return fmt.Errorf("sweep: %w", err)
				}
				total += len(ids)
				if len(ids) < cfg.Store.SweepBatch {
					break
				}
			}
			fmt.Fprintf(a.out, "deactivated %d sessions\n", total)
			return nil
		},
	}
}

func (a *app) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or revert audit-store migrations",
	}
	for _, dir := range []auditlog.Direction{auditlog.Up, auditlog.Down} {
		cmd.AddCommand(&cobra.Command{
			Use:   string(dir),
			Short: fmt.Sprintf("Migrate the audit store %s", dir),
			RunE: func(cmd *cobra.Command, _ []string) error {
				_, cfg, err := a.load()
				if err != nil {
					return err
				}
				store, err := openAuditStore(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				defer store.Close()

				if err := store.Migrate(dir); err != nil {
					return err
				}
				version, dirty, err := store.SchemaVersion()
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "schema version %d (dirty=%t)\n", version, dirty)
				return nil
			},
		})
	}
	return cmd
}
