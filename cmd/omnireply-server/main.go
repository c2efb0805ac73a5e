package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/omnireply/omnireply/webhookservice"
)

var rootCmd = &cobra.Command{
	Use:   "omnireply-server",
	Short: "AI reply webhook service for CRM conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return webhookservice.Run()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
