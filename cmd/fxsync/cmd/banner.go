package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

const banner = `
   __                              
  / _|_  _____ _   _ _ __   ___ 
 | |_\ \/ / __| | | | '_ \ / __|
 |  _|>  <\__ \ |_| | | | | (__ 
 |_| /_/\_\___/\__, |_| |_|\___|
               |___/            
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Firefox Sync record crypto - Version %s\x1b[0m\n\n", Version)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the fxsync version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printBanner(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
