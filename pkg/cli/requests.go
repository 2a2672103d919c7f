package cli

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/interceptd/interceptd/pkg/record"
)

var requestsFlags struct {
	port   int
	method string
	status string
	mocked bool
	limit  int
}

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "List intercepted requests for a proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if requestsFlags.method != "" {
			q.Set("method", requestsFlags.method)
		}
		if requestsFlags.status != "" {
			q.Set("status", requestsFlags.status)
		}
		if requestsFlags.mocked {
			q.Set("mocked", "true")
		}
		if requestsFlags.limit > 0 {
			q.Set("limit", strconv.Itoa(requestsFlags.limit))
		}

		path := fmt.Sprintf("/proxies/%d/requests", requestsFlags.port)
		if encoded := q.Encode(); encoded != "" {
			path += "?" + encoded
		}

		var recs []*record.Record
		if err := newClient().get(path, &recs); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(recs)
		}
		if len(recs) == 0 {
			fmt.Println("no requests recorded")
			return nil
		}
		fmt.Printf("%-38s %-10s %-9s %-7s %-6s %s\n", "ID", "METHOD", "STATUS", "MOCKED", "MS", "PATH")
		for _, r := range recs {
			path := r.Path
			if r.Query != "" && r.Path == "" {
				path = r.Query
			}
			fmt.Printf("%-38s %-10s %-9s %-7t %-6d %s\n", r.ID, r.Method, r.Status, r.Mocked, r.DurationMs, path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(requestsCmd)
	requestsCmd.Flags().IntVarP(&requestsFlags.port, "port", "p", 0, "Proxy listen port")
	requestsCmd.Flags().StringVar(&requestsFlags.method, "method", "", "Filter by method or query kind")
	requestsCmd.Flags().StringVar(&requestsFlags.status, "status", "", "Filter by status: pending, success, failed, timeout")
	requestsCmd.Flags().BoolVar(&requestsFlags.mocked, "mocked", false, "Only mocked requests")
	requestsCmd.Flags().IntVar(&requestsFlags.limit, "limit", 0, "Maximum results")
	_ = requestsCmd.MarkFlagRequired("port")
}
