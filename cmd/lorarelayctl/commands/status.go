package commands

import (
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/lora-relay/internal/bridges/chirpstack"
	"github.com/nerrad567/lora-relay/internal/lorawan"
	"github.com/nerrad567/lora-relay/internal/queue"
)

func newQueuesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "Shows send queue occupancy in drain order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var res struct {
				Queues []queue.ClassStats `json:"queues"`
			}
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/queues", nil, &res); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 5, ' ', tabwriter.TabIndent)
			fmt.Fprintln(w, "class\tlength\tcapacity\tenqueued\tdropped")
			for _, q := range res.Queues {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", q.Class, q.Length, q.Capacity, q.Enqueued, q.Dropped)
			}
			return w.Flush()
		},
	}
}

type gatewayRow struct {
	chirpstack.Gateway
	DutyCycle []lorawan.SubBandUsage `json:"duty_cycle"`
}

// dutySummary renders per-sub-band airtime as "g1=1.2s/36s".
func dutySummary(usage []lorawan.SubBandUsage) string {
	if len(usage) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(usage))
	for _, u := range usage {
		parts = append(parts, fmt.Sprintf("%s=%s/%s", u.SubBand, u.Used.Round(time.Millisecond), u.Budget))
	}
	return strings.Join(parts, ",")
}

func newGatewaysCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "gateways",
		Short: "Lists the gateways frames are flooded to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var res struct {
				Gateways []gatewayRow `json:"gateways"`
			}
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/gateways", nil, &res); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 5, ' ', tabwriter.TabIndent)
			fmt.Fprintln(w, "id\tseeded\tuplinks\tdownlinks\tlast_seen\tduty_cycle")
			for _, gw := range res.Gateways {
				lastSeen := "-"
				if !gw.LastSeen.IsZero() {
					lastSeen = gw.LastSeen.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%t\t%d\t%d\t%s\t%s\n", gw.ID, gw.Seeded, gw.Uplinks, gw.Downlinks, lastSeen, dutySummary(gw.DutyCycle))
			}
			return w.Flush()
		},
	}
}
