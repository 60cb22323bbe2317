package main

import (
	"bettergist/pkg/client"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var getOpts struct {
	Out string
}

var getCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Fetch a snippet and print or write its files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(serverURL, nil)
		if err != nil {
			return err
		}
		files, err := c.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if getOpts.Out == "" {
			out := cmd.OutOrStdout()
			for i, f := range files {
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "==> %s <==\n%s\n", f.Name, f.Content)
			}
			return nil
		}
		if err := os.MkdirAll(getOpts.Out, 0o755); err != nil {
			return errors.Wrap(err, "create output dir")
		}
		for _, f := range files {
			// Names come from the server; never let one escape the directory.
			name := filepath.Base(filepath.Clean("/" + f.Name))
			if name == "/" || name == "." {
				continue
			}
			path := filepath.Join(getOpts.Out, name)
			if err := os.WriteFile(path, []byte(f.Content), 0o644); err != nil {
				return errors.Wrapf(err, "write %s", path)
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
		}
		return nil
	},
}

func init() {
	getCmd.Flags().StringVarP(&getOpts.Out, "out", "o", "", "write files into this directory")
}
