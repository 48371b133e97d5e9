package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-cast/internal/bridges/cast"
	"github.com/nerrad567/gray-logic-cast/internal/mdns"
)

var discoverTimeout time.Duration

// scanResolver is nil in production; Scan then uses zeroconf on all interfaces.
var scanResolver mdns.Resolver

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Browse the network once and list Cast devices",
	RunE:  runDiscover,
}

func init() {
	discoverCmd.Flags().DurationVarP(&discoverTimeout, "timeout", "t", 5*time.Second, "how long to listen for answers")
	rootCmd.AddCommand(discoverCmd)
}

// discovered is one row of discover output.
type discovered struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Model    string `json:"model"`
	Address  string `json:"address"`
	Instance string `json:"instance"`
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	entries, err := mdns.Scan(ctx, scanResolver, cfg.Discovery.Service, cfg.Discovery.Domain, discoverTimeout)
	if err != nil {
		return fmt.Errorf("browsing %s: %w", cfg.Discovery.Service, err)
	}

	rows := describeEntries(entries)
	out := cmd.OutOrStdout()
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "No devices found")
		return nil
	}
	return writeTable(out, rows)
}

// describeEntries classifies each answer the way the bridge would.
// Entries without a device id are skipped.
func describeEntries(entries []mdns.Entry) []discovered {
	rows := make([]discovered, 0, len(entries))
	for _, e := range entries {
		id, err := cast.DeviceIDFromEntry(e)
		if err != nil {
			continue
		}
		info := cast.InfoFromEntry(e)
		row := discovered{
			ID:       string(id),
			Kind:     string(cast.ClassifyKind(info)),
			Name:     info.FriendlyName,
			Model:    info.Model,
			Instance: e.Instance,
		}
		if info.Host != "" {
			row.Address = net.JoinHostPort(info.Host, strconv.Itoa(info.Port))
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows
}

func writeTable(out io.Writer, rows []discovered) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tNAME\tADDRESS")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Kind, r.Name, r.Address)
	}
	return w.Flush()
}
