package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"novelverse/internal/cachekey"
)

func newKeyCommand(ctx *commandContext) *cobra.Command {
	var ext string

	cmd := &cobra.Command{
		Use:         "key <book-url> <chapter>",
		Short:       "Print the object store key for a chapter",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Args:        cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ext == "" {
				if cfg, err := ctx.ensureConfig(); err == nil && cfg != nil {
					ext = cfg.Store.Extension
				}
			}
			key, err := cachekey.Derive(args[0], args[1], ext)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().StringVar(&ext, "ext", "", "Asset extension (defaults to store.extension)")
	return cmd
}
