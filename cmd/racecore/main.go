// Command racecore records race finish orders and scores house points from
// the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"racecore/pkg/domain"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "racecore: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps domain error families onto distinct process exit codes.
func exitCode(err error) int {
	var de *domain.Error
	if !errors.As(err, &de) {
		return 1
	}
	switch de.Kind {
	case domain.KindValidation:
		return 2
	case domain.KindNotFound:
		return 3
	case domain.KindConflict:
		return 4
	case domain.KindStoreUnavailable:
		return 5
	case domain.KindInvalidSnapshot:
		return 6
	default:
		return 1
	}
}
