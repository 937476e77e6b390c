package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sardanioss/cloakfetch/fingerprint"
)

func getCmdProfiles(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the available fingerprint profiles",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			for _, name := range fingerprint.Available() {
				marker := " "
				if name == fingerprint.DefaultPreset {
					marker = "*"
				}
				if _, err := fmt.Fprintf(gs.stdout, "%s %s\n", marker, name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
