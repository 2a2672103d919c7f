package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/interceptd/interceptd/pkg/mock"
)

var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Manage mocks on a running server",
}

var mockPort int

var mockListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a proxy's mocks",
	RunE: func(cmd *cobra.Command, args []string) error {
		var mocks []*mock.Mock
		if err := newClient().get(fmt.Sprintf("/proxies/%d/mocks", mockPort), &mocks); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(mocks)
		}
		if len(mocks) == 0 {
			fmt.Println("no mocks stored")
			return nil
		}
		fmt.Printf("%-38s %-8s %-10s %s\n", "ID", "ENABLED", "KIND", "KEY")
		for _, m := range mocks {
			kind := string(m.Kind)
			if kind == "" {
				kind = m.Method
			}
			fmt.Printf("%-38s %-8t %-10s %s\n", m.ID, m.Enabled, kind, m.Key)
		}
		return nil
	},
}

var mockToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Enable or disable a mock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]bool
		if err := newClient().post(fmt.Sprintf("/proxies/%d/mocks/%s/toggle", mockPort, args[0]), nil, &out); err != nil {
			return err
		}
		fmt.Printf("mock %s enabled: %t\n", args[0], out["enabled"])
		return nil
	},
}

var mockDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a mock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().delete(fmt.Sprintf("/proxies/%d/mocks/%s", mockPort, args[0])); err != nil {
			return err
		}
		fmt.Printf("mock %s deleted\n", args[0])
		return nil
	},
}

var mockExportFlags struct {
	format string
	output string
}

var mockExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a proxy's mocks",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		resp, err := c.http.Get(fmt.Sprintf("%s/proxies/%d/mocks/export?format=%s", c.base, mockPort, mockExportFlags.format))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != 200 {
			return fmt.Errorf("export failed: %s", resp.Status)
		}

		out := os.Stdout
		if mockExportFlags.output != "" {
			f, err := os.Create(mockExportFlags.output)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		_, err = out.ReadFrom(resp.Body)
		return err
	},
}

var mockImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import mocks into a proxy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		format := "json"
		if strings.HasSuffix(args[0], ".yaml") || strings.HasSuffix(args[0], ".yml") {
			format = "yaml"
		}

		c := newClient()
		resp, err := c.http.Post(
			fmt.Sprintf("%s/proxies/%d/mocks/import?format=%s", c.base, mockPort, format),
			"application/octet-stream", bytes.NewReader(data))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("import failed: %s", resp.Status)
		}

		var result mock.ImportResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return err
		}
		fmt.Printf("imported %d mocks, skipped %d\n", result.Added, result.Skipped)
		for _, e := range result.Errors {
			fmt.Printf("  %s\n", e)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mockCmd)
	mockCmd.AddCommand(mockListCmd, mockToggleCmd, mockDeleteCmd, mockExportCmd, mockImportCmd)

	mockCmd.PersistentFlags().IntVarP(&mockPort, "port", "p", 0, "Proxy listen port")
	_ = mockCmd.MarkPersistentFlagRequired("port")

	mockExportCmd.Flags().StringVar(&mockExportFlags.format, "format", "json", "Export format: json, yaml")
	mockExportCmd.Flags().StringVarP(&mockExportFlags.output, "output", "o", "", "Write to file instead of stdout")
}
