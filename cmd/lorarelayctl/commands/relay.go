package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/lora-relay/internal/api"
	"github.com/nerrad567/lora-relay/internal/lorawan"
)

func newBundleCmd(opts *options) *cobra.Command {
	var (
		source    string
		frequency uint32
		dataRate  uint8
	)

	sendCmd := &cobra.Command{
		Use:   "send <file|->",
		Short: "Splits a payload into a bundle and queues it for flooding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			req := api.BundleRequest{Source: source, Payload: payload, Frequency: frequency}
			if cmd.Flags().Changed("data-rate") {
				dr := lorawan.DataRate(dataRate)
				req.DataRate = &dr
			}

			var res api.BundleResult
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/api/bundles", req, &res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued bundle %d from %s (%08x): %d bytes in %d fragments at %s\n",
				res.BundleID, res.Source, res.WireID, res.Size, res.Fragments, paramsString(res.Params))
			return nil
		},
	}
	sendCmd.Flags().StringVar(&source, "source", "", "originating device id (defaults to the relay node id)")
	sendCmd.Flags().Uint32Var(&frequency, "frequency", 0, "downlink frequency in Hz (defaults to the relay setting)")
	sendCmd.Flags().Uint8Var(&dataRate, "data-rate", 0, "EU868 data rate 0-6 (defaults to the relay setting)")

	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Sends bundles through the relay",
	}
	cmd.AddCommand(sendCmd)
	return cmd
}

func newDownlinkCmd(opts *options) *cobra.Command {
	var (
		prefix    uint8
		frequency uint32
		bandwidth uint32
		sf        uint8
		dataRate  uint8
	)

	sendCmd := &cobra.Command{
		Use:   "send <hex-payload>",
		Short: "Queues a raw frame on the relay queue",
		Long: "Queues a raw frame on the relay queue. The transmitted frame is the prefix\n" +
			"byte followed by the payload; the payload starts with the 4-byte source id.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := hex.DecodeString(strings.TrimPrefix(args[0], "0x"))
			if err != nil {
				return fmt.Errorf("payload must be hex: %w", err)
			}

			req := api.DownlinkRequest{
				Payload: payload,
				Request: lorawan.Request{
					Frequency:       frequency,
					Bandwidth:       bandwidth,
					SpreadingFactor: sf,
				},
			}
			if cmd.Flags().Changed("prefix") {
				req.Prefix = &prefix
			}
			if cmd.Flags().Changed("data-rate") {
				dr := lorawan.DataRate(dataRate)
				req.DataRate = &dr
			}

			var res api.DownlinkResult
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/api/downlinks", req, &res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d byte frame %s at %s\n", res.Size, res.Fingerprint, paramsString(res.Params))
			return nil
		},
	}
	sendCmd.Flags().Uint8Var(&prefix, "prefix", 0, "prefix byte (defaults to the relay prefix)")
	sendCmd.Flags().Uint32Var(&frequency, "frequency", 0, "downlink frequency in Hz")
	sendCmd.Flags().Uint32Var(&bandwidth, "bandwidth", 0, "bandwidth in Hz (125000 or 250000)")
	sendCmd.Flags().Uint8Var(&sf, "spreading-factor", 0, "spreading factor 7-12")
	sendCmd.Flags().Uint8Var(&dataRate, "data-rate", 0, "EU868 data rate 0-6, overrides bandwidth and spreading factor")

	cmd := &cobra.Command{
		Use:   "downlink",
		Short: "Sends raw downlinks through the relay",
	}
	cmd.AddCommand(sendCmd)
	return cmd
}

// readPayload reads name, or stdin when name is "-".
func readPayload(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	return data, nil
}

func paramsString(p lorawan.Params) string {
	return fmt.Sprintf("%.1f MHz SF%d BW%d", float64(p.Frequency)/1e6, p.SpreadingFactor, p.Bandwidth/1000)
}
