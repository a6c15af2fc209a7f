package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fyrsmithlabs/eventforge/internal/destination"
	"github.com/spf13/cobra"
)

// tokenEnv supplies the HEC token when --token is not given.
const tokenEnv = "EVENTFORGE_HEC_TOKEN"

var (
	// destination command flags
	dstOutputJSON bool
	dstName       string
	dstURL        string
	dstToken      string
	dstTokenStdin bool
	dstIP         string
	dstPort       int
	dstProtocol   string
)

func init() {
	rootCmd.AddCommand(destinationsCmd)
	destinationsCmd.AddCommand(destinationsListCmd)
	destinationsCmd.AddCommand(destinationsAddCmd)
	destinationsCmd.AddCommand(destinationsRemoveCmd)
	destinationsAddCmd.AddCommand(addHECCmd)
	destinationsAddCmd.AddCommand(addSyslogCmd)

	destinationsListCmd.Flags().BoolVar(&dstOutputJSON, "json", false, "Output results as JSON")

	destinationsAddCmd.PersistentFlags().StringVar(&dstName, "name", "", "Destination name (required)")
	_ = destinationsAddCmd.MarkPersistentFlagRequired("name")

	addHECCmd.Flags().StringVar(&dstURL, "url", "", "HEC base URL (required)")
	addHECCmd.Flags().StringVar(&dstToken, "token", "", "HEC token (defaults to $"+tokenEnv+")")
	addHECCmd.Flags().BoolVar(&dstTokenStdin, "token-stdin", false, "Read the HEC token from stdin")
	_ = addHECCmd.MarkFlagRequired("url")

	addSyslogCmd.Flags().StringVar(&dstIP, "ip", "", "Syslog server address (required)")
	addSyslogCmd.Flags().IntVar(&dstPort, "port", 514, "Syslog server port")
	addSyslogCmd.Flags().StringVar(&dstProtocol, "protocol", "UDP", "TCP or UDP")
	_ = addSyslogCmd.MarkFlagRequired("ip")
}

var destinationsCmd = &cobra.Command{
	Use:     "destinations",
	Aliases: []string{"dest"},
	Short:   "Manage delivery destinations",
	Long: `Manage the HEC collectors and syslog listeners generated events are sent to.

HEC tokens are kept in the daemon's secret store and never shown again.

Examples:
  # List destinations
  efctl destinations list

  # Add an HEC collector, reading the token from the environment
  EVENTFORGE_HEC_TOKEN=... efctl destinations add hec --name prod --url https://hec.example.com

  # Add a syslog listener
  efctl destinations add syslog --name lab --ip 10.0.0.5 --port 514 --protocol tcp

  # Remove a destination
  efctl destinations remove syslog:1`,
}

var destinationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List destinations",
	Args:  cobra.NoArgs,
	RunE:  runDestinationsList,
}

var destinationsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or update a destination",
	Long:  "Add a destination, or update the existing one with the same name and type.",
}

var addHECCmd = &cobra.Command{
	Use:   "hec",
	Short: "Add or update an HEC collector",
	Args:  cobra.NoArgs,
	RunE:  runAddHEC,
}

var addSyslogCmd = &cobra.Command{
	Use:   "syslog",
	Short: "Add or update a syslog listener",
	Args:  cobra.NoArgs,
	RunE:  runAddSyslog,
}

var destinationsRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove a destination and its stored token",
	Args:    cobra.ExactArgs(1),
	RunE:    runDestinationsRemove,
}

// destinationsResponse matches internal/http DestinationsResponse
type destinationsResponse struct {
	Destinations []destination.Destination `json:"destinations"`
}

func runDestinationsList(cmd *cobra.Command, args []string) error {
	var resp destinationsResponse
	if err := newClient(10*time.Second).doJSON(http.MethodGet, "/api/v1/destinations", nil, &resp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if dstOutputJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp.Destinations)
	}

	if len(resp.Destinations) == 0 {
		fmt.Fprintln(out, "No destinations configured.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tNAME\tTARGET")
	for _, d := range resp.Destinations {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.Type, d.Name, target(d))
	}
	return w.Flush()
}

// target renders where a destination delivers to.
func target(d destination.Destination) string {
	switch c := d.Connection.(type) {
	case destination.HecConnection:
		return c.URL
	case destination.SyslogConnection:
		return fmt.Sprintf("%s/%s", c.Address(), strings.ToLower(string(c.Protocol)))
	}
	return ""
}

func runAddHEC(cmd *cobra.Command, args []string) error {
	token, err := resolveToken(cmd)
	if err != nil {
		return err
	}
	return saveDestination(cmd, destination.Payload{
		Type:  "hec",
		Name:  dstName,
		URL:   dstURL,
		Token: token,
	})
}

func runAddSyslog(cmd *cobra.Command, args []string) error {
	return saveDestination(cmd, destination.Payload{
		Type:     "syslog",
		Name:     dstName,
		IP:       dstIP,
		Port:     destination.PortNumber(dstPort),
		Protocol: dstProtocol,
	})
}

// resolveToken reads the HEC token from --token-stdin, --token or the
// environment, in that order.
func resolveToken(cmd *cobra.Command) (string, error) {
	if dstTokenStdin {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read token from stdin: %w", err)
		}
		return strings.TrimSpace(line), nil
	}
	if dstToken != "" {
		return dstToken, nil
	}
	if tok := os.Getenv(tokenEnv); tok != "" {
		return tok, nil
	}
	return "", fmt.Errorf("an HEC token is required (--token, --token-stdin or $%s)", tokenEnv)
}

func saveDestination(cmd *cobra.Command, p destination.Payload) error {
	var d destination.Destination
	if err := newClient(10*time.Second).doJSON(http.MethodPost, "/api/v1/destinations", p, &d); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s %s)\n", d.ID, d.Type, target(d))
	return nil
}

func runDestinationsRemove(cmd *cobra.Command, args []string) error {
	path := "/api/v1/destinations/" + url.PathEscape(args[0])
	if err := newClient(10*time.Second).doJSON(http.MethodDelete, path, nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
	return nil
}
