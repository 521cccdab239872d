package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var handlesCmd = &cobra.Command{
	Use:   "handles",
	Short: "List handles this process's session currently holds",
	Args:  cobra.NoArgs,
	RunE:  runHandles,
}

func runHandles(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true
	ids := state.reg.Handles(state.sess)
	if len(ids) == 0 {
		fmt.Println("no handles held")
		return nil
	}
	fmt.Println(strings.Join(ids, "\n"))
	return nil
}
