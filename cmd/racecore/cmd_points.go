package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"racecore/internal/core"
	"racecore/pkg/domain"
)

func newPointsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "points",
		Short: "Score races and administer the house points ledger",
	}
	cmd.AddCommand(
		newPointsCalculateCmd(a),
		newPointsPreviewCmd(a),
		newPointsStandingsCmd(a),
		newPointsResetCmd(a),
		newPointsBackupCmd(a),
		newPointsRestoreCmd(a),
		newPointsBackupsCmd(a),
		newPointsAuditCmd(a),
	)
	return cmd
}

func printTotals(a *app, totals []core.HouseTotal) error {
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HOUSE\tPOINTS")
	for _, t := range totals {
		fmt.Fprintf(tw, "%s\t%d\n", t.House, t.Points)
	}
	return tw.Flush()
}

func newPointsCalculateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "calculate <race-id>",
		Short: "Award house points for a race (each run adds to the ledger)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			totals, err := a.svc.CalculateHousePoints(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printTotals(a, totals)
		},
	}
}

func newPointsPreviewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <race-id>",
		Short: "Show what calculate would award without writing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			totals, err := a.svc.PreviewHousePoints(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printTotals(a, totals)
		},
	}
}

func newPointsStandingsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "standings",
		Short: "Show ledger totals per house",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			totals, err := a.svc.HouseStandings(cmd.Context())
			if err != nil {
				return err
			}
			return printTotals(a, totals)
		},
	}
}

func newPointsResetCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every house points entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return domain.Validationf("reset deletes the whole ledger; pass --yes to confirm")
			}
			removed, err := a.svc.ResetHousePoints(cmd.Context(), a.actor)
			if err != nil {
				return err
			}
			a.printf("removed %d entries\n", removed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func newPointsBackupCmd(a *app) *cobra.Command {
	var show bool
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write the ledger to the latest and history backup slots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := a.svc.BackupHousePoints(cmd.Context())
			if err != nil {
				return err
			}
			if show {
				a.printf("%s\n", doc)
				return nil
			}
			a.printf("backed up to %s\n", core.BackupLatestKey)
			return nil
		},
	}
	cmd.Flags().BoolVar(&show, "print", false, "also print the backup document")
	return cmd
}

func newPointsRestoreCmd(a *app) *cobra.Command {
	var (
		latest bool
		key    string
	)
	cmd := &cobra.Command{
		Use:   "restore [file|-]",
		Short: "Replace the ledger with a backup document",
		Long: `restore replaces the whole ledger with the entries of a backup. The
document comes from a file argument ("-" for stdin), the latest backup slot
(--latest) or a history slot (--key). Points awarded after the backup was
taken are lost.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := 0
			for _, set := range []bool{latest, key != "", len(args) == 1} {
				if set {
					sources++
				}
			}
			if sources != 1 {
				return domain.Validationf("give exactly one of a file, --latest or --key")
			}
			var doc string
			var err error
			switch {
			case latest:
				doc, err = a.svc.LatestBackup(cmd.Context())
			case key != "":
				doc, err = a.svc.ReadBackup(cmd.Context(), key)
			default:
				doc, err = readDocument(a, args[0])
			}
			if err != nil {
				return err
			}
			n, err := a.svc.RestoreHousePoints(cmd.Context(), a.actor, doc)
			if err != nil {
				return err
			}
			a.printf("restored %d entries\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "restore the latest backup slot")
	cmd.Flags().StringVar(&key, "key", "", "restore this history slot (see points backups)")
	return cmd
}

func readDocument(a *app, path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(a.stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func newPointsBackupsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List history backup slots, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos, err := a.svc.ListBackups(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tENTRIES\tSIZE")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", info.Key, info.Metadata["entries"], info.Size)
			}
			return tw.Flush()
		},
	}
}

func newPointsAuditCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Show who reset or restored the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := a.svc.ListAuditEntries(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AT\tACTOR\tACTION\tDETAIL")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.At.Format("2006-01-02 15:04:05"), e.Actor, e.Action, e.Detail)
			}
			return tw.Flush()
		},
	}
}
