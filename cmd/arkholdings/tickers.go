package main

import (
	"fmt"
	"runtime"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sawpanic/arkholdings/internal/ticker"
)

func newTickersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tickers",
		Short: "List the ticker enumeration and the sets endpoints serve",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "SET\tTICKERS\n")
			for _, name := range []string{ticker.SetETF, ticker.SetVenture} {
				set, err := ticker.Lookup(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\n", set.Name(), set)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nenumeration v%d: %d tickers\n", ticker.Version, len(ticker.All()))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s, tickers v%d)\n", appName, version, runtime.Version(), ticker.Version)
		},
	}
}
