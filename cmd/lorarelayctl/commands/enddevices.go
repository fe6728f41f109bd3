package commands

import (
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

type endDevicesBody struct {
	EndDevices []string `json:"end_devices"`
}

func newEndDevicesCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "end-devices",
		Aliases: []string{"ed"},
		Short:   "Lists and edits the end devices served by the relay",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Lists registered end devices",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				var res endDevicesBody
				if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/end_devices", nil, &res); err != nil {
					return err
				}
				printIDs(cmd.OutOrStdout(), res.EndDevices)
				return nil
			},
		},
		mutateEndDevicesCmd(opts, "add", "Registers end devices", http.MethodPost),
		mutateEndDevicesCmd(opts, "remove", "Unregisters end devices", http.MethodDelete),
	)
	return cmd
}

func mutateEndDevicesCmd(opts *options, use, short, method string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res endDevicesBody
			if err := opts.client().do(cmd.Context(), method, "/api/end_devices", endDevicesBody{EndDevices: args}, &res); err != nil {
				return err
			}
			printIDs(cmd.OutOrStdout(), res.EndDevices)
			return nil
		},
	}
}

func printIDs(w io.Writer, ids []string) {
	for _, id := range ids {
		fmt.Fprintln(w, id)
	}
}
