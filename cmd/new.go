package cmd

import (
	"github.com/spf13/cobra"

	"github.com/BioHazard786/warpmeet/internal/protocol"
	"github.com/BioHazard786/warpmeet/internal/ui"
)

var newCmd = &cobra.Command{
	Use:     "new",
	Aliases: []string{"n"},
	Short:   "Generate a meeting code to share",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := protocol.NewMeetingCode()
		if err != nil {
			return err
		}
		ui.PrintSuccessf("Meeting code: %s", ui.StatusStyle.Render(code))
		ui.PrintInfof("Share it, then run: warpmeet join %s", code)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(newCmd)
}
