package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"racecore/internal/core"
	"racecore/pkg/domain"
)

func newRaceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "race",
		Short: "Create races and move them through their lifecycle",
	}
	cmd.AddCommand(newRaceCreateCmd(a), newRaceStatusCmd(a), newRaceShowCmd(a), newRaceListCmd(a))
	return cmd
}

func newRaceCreateCmd(a *app) *cobra.Command {
	var in core.RaceInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pending race and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			race, err := a.svc.CreateRace(cmd.Context(), in)
			if err != nil {
				return err
			}
			a.printf("%s\n", race.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "race name")
	cmd.Flags().StringVar(&in.Date, "date", "", "race date, e.g. 2024-05-01")
	cmd.Flags().StringVar(&in.Grade, "grade", "", "grade the race is for")
	cmd.Flags().StringVar(&in.Distance, "distance", "", "distance, e.g. 100m")
	cmd.Flags().StringVar(&in.AgeGroup, "age-group", "", "age group the race is for")
	cmd.Flags().IntVar(&in.FinishLineCount, "lanes", 1, "number of independently scored finish lines")
	return cmd
}

func newRaceStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <race-id> <pending|active|completed>",
		Short: "Move a race to its next status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			race, err := a.svc.UpdateStatus(cmd.Context(), args[0], domain.RaceStatus(args[1]))
			if err != nil {
				return err
			}
			a.printf("%s is %s\n", race.ID, race.Status)
			return nil
		},
	}
}

func newRaceShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <race-id>",
		Short: "Show a race and the finish order on every line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.svc.NewSession(cmd.Context(), args[0], domain.RunnerFilter{})
			if err != nil {
				return err
			}
			race := sess.Race()
			a.printf("%s  %s  %s  %s  lanes=%d\n", race.ID, race.Name, race.Date, race.Status, race.Lanes())
			for line := 1; line <= race.Lanes(); line++ {
				if err := printLane(a, sess, line); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func printLane(a *app, sess *core.Session, line int) error {
	a.printf("line %d:\n", line)
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	for _, rec := range sess.FinishOrder(line) {
		name, house := "", ""
		if r, ok := sess.Runner(rec.RunnerID); ok {
			name, house = r.Name, r.House
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s\n", rec.Position, rec.RunnerID, name, house, rec.FinishedAt.Format("15:04:05.000"))
	}
	return tw.Flush()
}

func newRaceListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List races",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			races, err := a.svc.ListRaces(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tDATE\tSTATUS\tLANES")
			for _, r := range races {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", r.ID, r.Name, r.Date, r.Status, r.Lanes())
			}
			return tw.Flush()
		},
	}
}
