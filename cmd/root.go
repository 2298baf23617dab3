package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/warpmeet/internal/ui"
	"github.com/BioHazard786/warpmeet/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "warpmeet",
	Short: "Peer-to-peer video meetings over a WebRTC mesh",
	Long: `WarpMeet connects every participant of a meeting directly to every other
participant using WebRTC. A small relay server introduces participants and
forwards their negotiation messages; media never passes through it.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
