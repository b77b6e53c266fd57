package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jrsharp/9p4z-sub000/pkg/client"
	"github.com/jrsharp/9p4z-sub000/pkg/proto"
	"github.com/jrsharp/9p4z-sub000/pkg/transport"
)

var (
	catAddr    string
	catUser    string
	catTimeout time.Duration
)

func init() {
	flags := catCmd.Flags()
	flags.StringVarP(&catAddr, "addr", "a", "127.0.0.1:564", "server address")
	flags.StringVarP(&catUser, "user", "u", "ninep", "identity to attach as")
	flags.DurationVar(&catTimeout, "timeout", client.DefaultTimeout, "per-request timeout")
	rootCmd.AddCommand(catCmd)
}

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Read a file from a 9P server and print it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tr, err := transport.DialTCP(catAddr)
		if err != nil {
			return err
		}
		c := client.New(tr, client.WithTimeout(catTimeout))
		defer c.Close()

		if _, err := c.Version(proto.DefaultMsize); err != nil {
			return err
		}
		root, _, err := c.Attach(proto.NoFid, catUser, "")
		if err != nil {
			return err
		}
		defer c.Clunk(root)

		names := splitPath(args[0])
		fid, _, err := c.Walk(root, names...)
		if err != nil {
			return fmt.Errorf("walk %s: %w", args[0], err)
		}
		defer c.Clunk(fid)

		if _, _, err := c.Open(fid, proto.OREAD); err != nil {
			return fmt.Errorf("open %s: %w", args[0], err)
		}

		out := cmd.OutOrStdout()
		var offset uint64
		for {
			data, err := c.Read(fid, offset, proto.DefaultMsize)
			if err != nil {
				return err
			}
			if len(data) == 0 {
				return nil
			}
			if _, err := out.Write(data); err != nil {
				return err
			}
			offset += uint64(len(data))
		}
	},
}

func splitPath(p string) []string {
	var names []string
	for _, el := range strings.Split(p, "/") {
		if el != "" && el != "." {
			names = append(names, el)
		}
	}
	return names
}
