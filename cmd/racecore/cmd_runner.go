package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"racecore/internal/core"
	"racecore/pkg/domain"
)

func newRunnerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runner",
		Short: "Manage the roster",
	}
	cmd.AddCommand(newRunnerAddCmd(a), newRunnerImportCmd(a), newRunnerListCmd(a), newRunnerCorrectCmd(a))
	return cmd
}

func newRunnerAddCmd(a *app) *cobra.Command {
	var r domain.Runner
	cmd := &cobra.Command{
		Use:   "add <identity>",
		Short: "Add a runner; the identity is what the scanner reads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r.ID = args[0]
			created, err := a.svc.AddRunner(cmd.Context(), r)
			if err != nil {
				return err
			}
			a.printf("added %s %s (%s, %s)\n", created.ID, created.Name, created.House, created.AgeGroup)
			return nil
		},
	}
	cmd.Flags().StringVar(&r.Name, "name", "", "full name")
	cmd.Flags().StringVar(&r.House, "house", "", "house the runner scores for")
	cmd.Flags().StringVar(&r.AgeGroup, "age-group", "", "age group, e.g. U12")
	cmd.Flags().StringVar(&r.Grade, "grade", "", "school grade")
	return cmd
}

// rosterColumns is the header the import command expects.
var rosterColumns = []string{"id", "name", "house", "age_group", "grade"}

func newRunnerImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv|->",
		Short: "Add runners from a CSV with columns id,name,house,age_group,grade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = a.stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				in = f
			}
			runners, err := readRoster(in)
			if err != nil {
				return err
			}
			added := 0
			var failed []error
			for _, r := range runners {
				if _, err := a.svc.AddRunner(cmd.Context(), r); err != nil {
					failed = append(failed, err)
					continue
				}
				added++
			}
			a.printf("imported %d of %d runners\n", added, len(runners))
			return errors.Join(failed...)
		},
	}
}

func readRoster(in io.Reader) ([]domain.Runner, error) {
	rd := csv.NewReader(in)
	rd.TrimLeadingSpace = true
	rd.FieldsPerRecord = -1
	rows, err := rd.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: roster csv: %v", domain.ErrValidation, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	index := make(map[string]int, len(rows[0]))
	for i, col := range rows[0] {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range rosterColumns[:4] {
		if _, ok := index[col]; !ok {
			return nil, domain.Validationf("roster csv: missing %q column", col)
		}
	}
	field := func(row []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}
	runners := make([]domain.Runner, 0, len(rows)-1)
	for _, row := range rows[1:] {
		runners = append(runners, domain.Runner{
			Base:     domain.Base{ID: field(row, "id")},
			Name:     field(row, "name"),
			House:    field(row, "house"),
			AgeGroup: field(row, "age_group"),
			Grade:    field(row, "grade"),
		})
	}
	return runners, nil
}

func newRunnerListCmd(a *app) *cobra.Command {
	var filter domain.RunnerFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runners, optionally filtered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runners, err := a.svc.LoadRunners(cmd.Context(), filter)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tHOUSE\tAGE GROUP\tGRADE")
			for _, r := range runners {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.House, r.AgeGroup, r.Grade)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&filter.House, "house", "", "only this house")
	cmd.Flags().StringVar(&filter.AgeGroup, "age-group", "", "only this age group")
	cmd.Flags().StringVar(&filter.Grade, "grade", "", "only this grade")
	return cmd
}

func newRunnerCorrectCmd(a *app) *cobra.Command {
	var house, ageGroup, grade string
	cmd := &cobra.Command{
		Use:   "correct <identity>",
		Short: "Fix a runner's house, age group or grade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fix core.RunnerCorrection
			if cmd.Flags().Changed("house") {
				fix.House = &house
			}
			if cmd.Flags().Changed("age-group") {
				fix.AgeGroup = &ageGroup
			}
			if cmd.Flags().Changed("grade") {
				fix.Grade = &grade
			}
			if fix == (core.RunnerCorrection{}) {
				return domain.Validationf("nothing to correct: pass --house, --age-group or --grade")
			}
			updated, err := a.svc.CorrectRunner(cmd.Context(), args[0], fix)
			if err != nil {
				return err
			}
			a.printf("corrected %s %s (%s, %s, %s)\n", updated.ID, updated.Name, updated.House, updated.AgeGroup, updated.Grade)
			return nil
		},
	}
	cmd.Flags().StringVar(&house, "house", "", "new house")
	cmd.Flags().StringVar(&ageGroup, "age-group", "", "new age group")
	cmd.Flags().StringVar(&grade, "grade", "", "new grade")
	return cmd
}
