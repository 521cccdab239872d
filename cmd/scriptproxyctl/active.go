package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var activeCmd = &cobra.Command{
	Use:   "active <pool>",
	Short: "List handles currently mid-evaluate in a pool",
	Long: `Active lists every handle in the named pool that is presently running a
script, along with the script text it was given, regardless of which
session reserved it.`,
	Args: cobra.ExactArgs(1),
	RunE: runActive,
}

func runActive(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	handles, err := state.reg.Active(args[0])
	if err != nil {
		return err
	}
	if len(handles) == 0 {
		fmt.Println("no active handles")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HANDLE\tSCRIPT")
	for _, h := range handles {
		fmt.Fprintf(w, "%s\t%s\n", h.ID, h.Script)
	}
	return w.Flush()
}
