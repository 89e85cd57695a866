// Clippy serves uploaded files and thumbnails from local disk or an
// S3-compatible object store.
//
//	clippy serve                      run the API, metrics and thumbnail queue
//	clippy storage put|cat|rm|mv|stat  inspect and repair stored objects
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "clippy",
		Short:         "File hosting server with storage backends and thumbnail generation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file (defaults to $CLIPPY_CONFIG)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newStorageCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
