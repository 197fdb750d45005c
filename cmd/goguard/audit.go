package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MrEthical07/goGuard/auditlog"
	"github.com/MrEthical07/goGuard/risk"
	"github.com/spf13/cobra"
)

func (a *app) auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail and security events",
	}
	cmd.AddCommand(a.auditQueryCmd(), a.auditEventsCmd(), a.auditSummaryCmd(), a.auditResolveCmd())
	return cmd
}

type auditFlags struct {
	user   string
	action string
	level  string
	failed bool
	since  time.Duration
	limit  int
	offset int
	asJSON bool
}

func (fl *auditFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&fl.user, "user", "", "filter by user ID")
	cmd.Flags().StringVar(&fl.level, "level", "", "filter by risk level (LOW, MEDIUM, HIGH, CRITICAL)")
	cmd.Flags().DurationVar(&fl.since, "since", 0, "only records newer than this, e.g. 24h")
	cmd.Flags().IntVar(&fl.limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&fl.offset, "offset", 0, "page offset")
	cmd.Flags().BoolVar(&fl.asJSON, "json", false, "print JSON lines")
}

func (fl *auditFlags) parseLevel() (risk.Level, error) {
	if fl.level == "" {
		return 0, nil
	}
	return risk.ParseLevel(fl.level)
}

func (fl *auditFlags) from() time.Time {
	if fl.since <= 0 {
		return time.Time{}
	}
	return time.Now().Add(-fl.since)
}

func (a *app) auditQueryCmd() *cobra.Command {
	var fl auditFlags
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List audit entries, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			level, err := fl.parseLevel()
			if err != nil {
				return err
			}
			_, cfg, err := a.load()
			if err != nil {
				return err
			}
			store, err := openAuditStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			filter := auditlog.Filter{
				UserID:    fl.user,
				Action:    strings.ToUpper(fl.action),
				RiskLevel: level,
				From:      fl.from(),
			}
			if fl.failed {
				ok := false
				filter.Success = &ok
			}
			res, err := store.Query(cmd.Context(), filter, auditlog.Page{Limit: fl.limit, Offset: fl.offset})
			if err != nil {
				return err
			}
			if fl.asJSON {
				return writeJSONLines(a.out, res.Entries)
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tUSER\tACTION\tRISK\tOK\tERROR")
			for _, e := range res.Entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
					e.Timestamp.UTC().Format(time.RFC3339), e.UserID, e.Action, e.RiskLevel, e.Success, e.ErrorMessage)
			}
			fmt.Fprintf(tw, "\n%d of %d\n", len(res.Entries), res.Total)
			return tw.Flush()
		},
	}
	fl.register(cmd)
	cmd.Flags().StringVar(&fl.action, "action", "", "filter by action")
	cmd.Flags().BoolVar(&fl.failed, "failed", false, "only failed operations")
	return cmd
}

func (a *app) auditEventsCmd() *cobra.Command {
	var (
		fl         auditFlags
		eventType  string
		unresolved bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List security events, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			level, err := fl.parseLevel()
			if err != nil {
				return err
			}
			_, cfg, err := a.load()
			if err != nil {
				return err
			}
			store, err := openAuditStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			filter := auditlog.SecurityFilter{
				UserID:    fl.user,
				EventType: strings.ToUpper(eventType),
				Severity:  level,
				From:      fl.from(),
			}
			if unresolved {
				no := false
				filter.Resolved = &no
			}
			res, err := store.QuerySecurityEvents(cmd.Context(), filter, auditlog.Page{Limit: fl.limit, Offset: fl.offset})
			if err != nil {
				return err
			}
			if fl.asJSON {
				return writeJSONLines(a.out, res.Events)
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTIME\tTYPE\tSEVERITY\tUSER\tRESOLVED")
			for _, e := range res.Events {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n",
					e.ID, e.Timestamp.UTC().Format(time.RFC3339), e.EventType, e.Severity, e.UserID, e.Resolved)
			}
			fmt.Fprintf(tw, "\n%d of %d\n", len(res.Events), res.Total)
			return tw.Flush()
		},
	}
	fl.register(cmd)
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type, e.g. DEVICE_MISMATCH")
	cmd.Flags().BoolVar(&unresolved, "unresolved", false, "only unresolved events")
	return cmd
}

func (a *app) auditSummaryCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Count audit entries per day and risk level",
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

			sum, err := store.Summarize(cmd.Context(), days, time.Now())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', tabwriter.AlignRight)
			fmt.Fprint(tw, "DAY\t")
			for _, l := range risk.Levels {
				fmt.Fprintf(tw, "%s\t", l)
			}
			fmt.Fprintln(tw, "TOTAL\t")
			for _, d := range sum.Days {
				fmt.Fprintf(tw, "%s\t", d.Day)
				for _, l := range risk.Levels {
					fmt.Fprintf(tw, "%d\t", d.Counts[l])
				}
				fmt.Fprintf(tw, "%d\t\n", d.Total)
			}
			fmt.Fprint(tw, "all\t")
			for _, l := range risk.Levels {
				fmt.Fprintf(tw, "%d\t", sum.Totals[l])
			}
			fmt.Fprintf(tw, "%d\t\n", sum.Total)
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "number of days, today included")
	return cmd
}

func (a *app) auditResolveCmd() *cobra.Command {
	var by, note string
	cmd := &cobra.Command{
		Use:   "resolve <event-id>",
		Short: "Mark a security event resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := a.load()
			if err != nil {
				return err
			}
			store, err := openAuditStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.ResolveSecurityEvent(cmd.Context(), args[0], by, note); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "resolved %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "user ID resolving the event")
	cmd.Flags().StringVar(&note, "note", "", "resolution note")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func writeJSONLines[T any](w io.Writer, rows []T) error {
	enc := json.NewEncoder(w)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
