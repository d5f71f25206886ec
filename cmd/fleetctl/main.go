// Command fleetctl is the thin CLI front-end to fleetd's control plane:
// every subcommand maps 1:1 onto a control command, exits 0 on success
// and 1 on error.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arcflow/fleetd/internal/control"
)

func defaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/fleetd.sock"
	}
	return "/tmp/fleetd.sock"
}

func main() {
	var socketPath string

	root := &cobra.Command{
		Use:           "fleetctl",
		Short:         "control fleetd, the process-fleet supervisor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", defaultSocketPath(), "path to the fleetd control socket")

	root.AddCommand(
		newPingCmd(&socketPath),
		newListCmd(&socketPath),
		newStatusCmd(&socketPath),
		newStartCmd(&socketPath),
		newStopCmd(&socketPath),
		newRestartCmd(&socketPath),
		newReloadCmd(&socketPath),
		newDeleteCmd(&socketPath),
		newMetricsCmd(&socketPath),
		newLogsCmd(&socketPath),
		newDumpCmd(&socketPath),
		newKillDaemonCmd(&socketPath),
		newGroupCmd(&socketPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fleetctl:", err)
		os.Exit(1)
	}
}

func client(socketPath *string) *control.Client {
	return control.NewClient(*socketPath)
}

// send issues cmd/args and fails the process with exit code 1 if the
// daemon is unreachable or returns an error response.
func send(socketPath *string, cmd string, args any) control.Response {
	var raw json.RawMessage
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			fmt.Fprintln(os.Stderr, "fleetctl: encode args:", err)
			os.Exit(1)
		}
		raw = b
	}
	resp, err := client(socketPath).Send(control.NewRequest(cmd, raw), 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fleetctl:", err)
		os.Exit(1)
	}
	if !resp.OK {
		fmt.Fprintln(os.Stderr, "fleetctl:", resp.Error)
		os.Exit(1)
	}
	return resp
}

func printData(data any, asJSON bool) {
	if asJSON {
		b, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(b))
		return
	}
	fmt.Printf("%+v\n", data)
}

func newPingCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "check that fleetd is reachable",
		Run: func(cmd *cobra.Command, args []string) {
			resp := send(socketPath, control.CmdPing, nil)
			fmt.Println(resp.Data)
		},
	}
}

func newListCmd(socketPath *string) *cobra.Command {
	var asJSON bool
	c := &cobra.Command{
		Use:   "list",
		Short: "list every declared app and its status",
		Run: func(cmd *cobra.Command, args []string) {
			resp := send(socketPath, control.CmdList, nil)
			printData(resp.Data, asJSON)
		},
	}
	c.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return c
}

func newStatusCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <name>",
		Short: "show one app's status",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			resp := send(socketPath, control.CmdStatus, map[string]string{"name": args[0]})
			printData(resp.Data, true)
		},
	}
}

func newStartCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start <name>",
		Short: "start a declared app",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			send(socketPath, control.CmdStart, map[string]string{"name": args[0]})
		},
	}
}

// forEachTarget runs fn for name, or for every app named by a list request
// when name is the literal "all".
func forEachTarget(socketPath *string, name string, fn func(name string)) {
	if name != "all" {
		fn(name)
		return
	}
	resp := send(socketPath, control.CmdList, nil)
	b, _ := json.Marshal(resp.Data)
	var statuses []struct {
		Name string `json:"Name"`
	}
	_ = json.Unmarshal(b, &statuses)
	for _, s := range statuses {
		fn(s.Name)
	}
}

func newStopCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name|all>",
		Short: "stop an app, or every app",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			forEachTarget(socketPath, args[0], func(name string) {
				send(socketPath, control.CmdStop, map[string]string{"name": name})
			})
		},
	}
}

func newRestartCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <name>",
		Short: "restart an app's workers",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			send(socketPath, control.CmdRestart, map[string]string{"name": args[0]})
		},
	}
}

func newReloadCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reload <name|all>",
		Short: "roll an app's workers to new instances, or every app's",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			forEachTarget(socketPath, args[0], func(name string) {
				send(socketPath, control.CmdReload, map[string]string{"name": name})
			})
		},
	}
}

func newDeleteCmd(socketPath *string) *cobra.Command {
	var force bool
	c := &cobra.Command{
		Use:   "delete <name>",
		Short: "stop and forget an app",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if !force && !confirm(fmt.Sprintf("delete app %q? [y/N] ", args[0])) {
				fmt.Println("aborted")
				return
			}
			send(socketPath, control.CmdDelete, map[string]string{"name": args[0]})
		},
	}
	c.Flags().BoolVar(&force, "force", false, "skip the confirmation prompt")
	return c
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}

func newMetricsCmd(socketPath *string) *cobra.Command {
	var asJSON bool
	c := &cobra.Command{
		Use:   "metrics",
		Short: "show the fleet-wide status view",
		Run: func(cmd *cobra.Command, args []string) {
			resp := send(socketPath, control.CmdMetrics, nil)
			printData(resp.Data, asJSON)
		},
	}
	c.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return c
}

func newLogsCmd(socketPath *string) *cobra.Command {
	var lines int
	c := &cobra.Command{
		Use:   "logs <name>",
		Short: "tail one worker's recent stdout log (name is <app>-<worker id>)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			raw, _ := json.Marshal(map[string]any{"name": args[0], "lines": lines})
			var got bool
			err := client(socketPath).SendStream(control.NewRequest(control.CmdLogs, raw), func(r control.Response) {
				got = true
				if !r.OK {
					fmt.Fprintln(os.Stderr, "fleetctl:", r.Error)
					os.Exit(1)
				}
				if !r.Done {
					fmt.Println(r.Data)
				}
			})
			if err != nil {
				fmt.Fprintln(os.Stderr, "fleetctl:", err)
				os.Exit(1)
			}
			if !got {
				os.Exit(1)
			}
		},
	}
	c.Flags().IntVar(&lines, "lines", 100, "number of trailing lines to show")
	return c
}

func newDumpCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "dump full internal state (apps and cronjobs)",
		Run: func(cmd *cobra.Command, args []string) {
			resp := send(socketPath, control.CmdDump, nil)
			printData(resp.Data, true)
		},
	}
}

func newKillDaemonCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "kill-daemon",
		Short: "ask fleetd to exit",
		Run: func(cmd *cobra.Command, args []string) {
			send(socketPath, control.CmdKillDaemon, nil)
		},
	}
}

// newGroupCmd implements the SUPPLEMENTED FEATURES "App groups" CLI
// surface by driving the same start/stop/status control commands once per
// member, client-side — groups are a fleet-file concept, not a distinct
// control command. The members are taken from the command line; the group
// name argument is not looked up in the fleet file.
func newGroupCmd(socketPath *string) *cobra.Command {
	group := &cobra.Command{Use: "group", Short: "operate on a set of apps given as group members on the command line"}
	group.AddCommand(
		&cobra.Command{
			Use:   "start <group> <member...>",
			Short: "start every member of a group, rolling back on partial failure",
			Args:  cobra.MinimumNArgs(2),
			Run: func(cmd *cobra.Command, args []string) {
				started := []string{}
				for _, name := range args[1:] {
					resp, err := client(socketPath).Send(control.NewRequest(control.CmdStart, mustJSON(map[string]string{"name": name})), 0)
					if err != nil || !resp.OK {
						for i := len(started) - 1; i >= 0; i-- {
							_, _ = client(socketPath).Send(control.NewRequest(control.CmdDelete, mustJSON(map[string]string{"name": started[i]})), 0)
						}
						msg := err
						if msg == nil {
							fmt.Fprintln(os.Stderr, "fleetctl: group start failed on", name+":", resp.Error)
						} else {
							fmt.Fprintln(os.Stderr, "fleetctl:", msg)
						}
						os.Exit(1)
					}
					started = append(started, name)
				}
			},
		},
		&cobra.Command{
			Use:   "stop <group> <member...>",
			Short: "stop every member of a group, best-effort",
			Args:  cobra.MinimumNArgs(2),
			Run: func(cmd *cobra.Command, args []string) {
				for _, name := range args[1:] {
					send(socketPath, control.CmdStop, map[string]string{"name": name})
				}
			},
		},
		&cobra.Command{
			Use:   "status <group> <member...>",
			Short: "show every member's status",
			Args:  cobra.MinimumNArgs(2),
			Run: func(cmd *cobra.Command, args []string) {
				for _, name := range args[1:] {
					resp := send(socketPath, control.CmdStatus, map[string]string{"name": name})
					printData(resp.Data, true)
				}
			},
		},
	)
	return group
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
