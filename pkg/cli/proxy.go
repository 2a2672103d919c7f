package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/interceptd/interceptd/pkg/config"
	"github.com/interceptd/interceptd/pkg/manager"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Manage proxies on a running server",
}

var proxyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured proxies",
	RunE: func(cmd *cobra.Command, args []string) error {
		var proxies []*manager.ProxyStatus
		if err := newClient().get("/proxies", &proxies); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(proxies)
		}
		if len(proxies) == 0 {
			fmt.Println("no proxies configured")
			return nil
		}
		fmt.Printf("%-6s %-20s %-12s %-24s %-8s %s\n", "PORT", "NAME", "PROTOCOL", "TARGET", "RUNNING", "REQUESTS")
		for _, p := range proxies {
			target := fmt.Sprintf("%s:%d", p.Config.TargetHost, p.Config.TargetPort)
			fmt.Printf("%-6d %-20s %-12s %-24s %-8t %d\n",
				p.Config.ListenPort, p.Config.Name, p.Config.Protocol, target, p.Running, p.Stats.Total)
		}
		return nil
	},
}

var proxyAddFlags struct {
	name       string
	port       int
	targetHost string
	targetPort int
	protocol   string
	start      bool
}

var proxyAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a proxy",
	Example: `  # HTTP proxy in front of a local service
  interceptd proxy add --name api --port 8080 --target-host localhost --target-port 3000

  # PostgreSQL interceptor
  interceptd proxy add --name pg --port 15432 --target-host db.internal --target-port 5432 --protocol postgresql --start`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pc := config.ProxyConfig{
			Name:       proxyAddFlags.name,
			ListenPort: proxyAddFlags.port,
			TargetHost: proxyAddFlags.targetHost,
			TargetPort: proxyAddFlags.targetPort,
			Protocol:   config.Protocol(proxyAddFlags.protocol),
			Enabled:    proxyAddFlags.start,
		}
		var st manager.ProxyStatus
		if err := newClient().post("/proxies", pc, &st); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(st)
		}
		fmt.Printf("proxy created on port %d (running: %t)\n", st.Config.ListenPort, st.Running)
		return nil
	},
}

var proxyRemoveCmd = &cobra.Command{
	Use:   "remove <port>",
	Short: "Delete a proxy and everything it owns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid port %q", args[0])
		}
		if err := newClient().delete(fmt.Sprintf("/proxies/%d", port)); err != nil {
			return err
		}
		fmt.Printf("proxy %d deleted\n", port)
		return nil
	},
}

var proxyStartCmd = &cobra.Command{
	Use:   "start <port>",
	Short: "Start a proxy",
	Args:  cobra.ExactArgs(1),
	RunE:  proxyLifecycle("start"),
}

var proxyStopCmd = &cobra.Command{
	Use:   "stop <port>",
	Short: "Stop a proxy",
	Args:  cobra.ExactArgs(1),
	RunE:  proxyLifecycle("stop"),
}

func proxyLifecycle(action string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid port %q", args[0])
		}
		var out map[string]any
		if err := newClient().post(fmt.Sprintf("/proxies/%d/%s", port, action), nil, &out); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(out)
		}
		fmt.Printf("proxy %d: %s ok\n", port, action)
		return nil
	}
}

var proxyTestCmd = &cobra.Command{
	Use:   "test <port>",
	Short: "Probe a proxy's backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid port %q", args[0])
		}
		var result map[string]any
		if err := newClient().post(fmt.Sprintf("/proxies/%d/test", port), nil, &result); err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	rootCmd.AddCommand(proxyCmd)
	proxyCmd.AddCommand(proxyListCmd, proxyAddCmd, proxyRemoveCmd, proxyStartCmd, proxyStopCmd, proxyTestCmd)

	proxyAddCmd.Flags().StringVar(&proxyAddFlags.name, "name", "", "Proxy name")
	proxyAddCmd.Flags().IntVar(&proxyAddFlags.port, "port", 0, "Listen port")
	proxyAddCmd.Flags().StringVar(&proxyAddFlags.targetHost, "target-host", "", "Backend host")
	proxyAddCmd.Flags().IntVar(&proxyAddFlags.targetPort, "target-port", 0, "Backend port")
	proxyAddCmd.Flags().StringVar(&proxyAddFlags.protocol, "protocol", "http", "Protocol: http, postgresql, mysql, mongodb")
	proxyAddCmd.Flags().BoolVar(&proxyAddFlags.start, "start", false, "Start the proxy immediately")
	_ = proxyAddCmd.MarkFlagRequired("port")
	_ = proxyAddCmd.MarkFlagRequired("target-host")
	_ = proxyAddCmd.MarkFlagRequired("target-port")
}
