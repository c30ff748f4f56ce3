package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cruciblehq/cruxship/internal"
)

// Represents the 'cruxship version' command.
type VersionCmd struct {
	Long bool `short:"l" help:"Show every build variable."`
}

// Executes the version command.
func (c *VersionCmd) Run(ctx context.Context) error {
	if !c.Long {
		fmt.Println(internal.VersionString())
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 1, ' ', 0)
	fmt.Fprintf(tw, "version:\t%s\n", internal.Version())
	fmt.Fprintf(tw, "stage:\t%s\n", internal.Stage())
	fmt.Fprintf(tw, "commit:\t%s\n", internal.GitCommit())
	fmt.Fprintf(tw, "arch:\t%s\n", internal.Arch())
	return tw.Flush()
}
