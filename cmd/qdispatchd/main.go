// Command qdispatchd runs the connection-dispatch front end as a standalone
// UDP listener, wiring dispatch.Dispatcher to a real socket the way
// cmd/quince wires a quic.Client to one.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qdispatchd",
		Short: "QUIC connection-dispatch front end",
	}
	cmd.AddCommand(newServeCmd())
	return cmd
}
