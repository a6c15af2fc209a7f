package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fyrsmithlabs/eventforge/internal/monitor"
	"github.com/spf13/cobra"
)

var (
	// generate command flags
	genDestination string
	genGenerator   string
	genCount       int
	genEPS         float64
	genDashboard   bool

	// execute command flags
	execCount      int
	execOutputJSON bool

	// normalize command flags
	normFormat      string
	normDestination string
)

// errRunFailed reports a run whose final status line was an ERROR.
var errRunFailed = errors.New("run failed")

func init() {
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(normalizeCmd)

	generateCmd.Flags().StringVarP(&genDestination, "destination", "d", "", "Destination id (required)")
	generateCmd.Flags().StringVarP(&genGenerator, "generator", "g", "", "Generator script (syslog) or product name (HEC) (required)")
	generateCmd.Flags().IntVarP(&genCount, "count", "n", 0, "Number of events (server default when 0)")
	generateCmd.Flags().Float64Var(&genEPS, "eps", 0, "Events per second for HEC destinations")
	generateCmd.Flags().BoolVar(&genDashboard, "dashboard", false, "Show a live terminal dashboard instead of raw progress lines")
	_ = generateCmd.MarkFlagRequired("destination")
	_ = generateCmd.MarkFlagRequired("generator")

	executeCmd.Flags().IntVarP(&execCount, "count", "n", 0, "Count argument passed to the generator")
	executeCmd.Flags().BoolVar(&execOutputJSON, "json", false, "Output the full response as JSON")

	normalizeCmd.Flags().StringVar(&normFormat, "format", "", "JSON or RAW (detected when empty)")
	normalizeCmd.Flags().StringVarP(&normDestination, "destination", "d", "", "Also send the cleaned lines to this syslog destination")
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run a generator against a destination with live output",
	Long: `Run a generator and deliver its events to a destination. Progress is
printed as the daemon streams it; the command fails when the run ends
with an ERROR line.

Examples:
  # Send 10 firewall events to a syslog listener
  efctl generate -d syslog:1 -g paloalto_firewall.py -n 10

  # Send okta events to an HEC collector at 5 events per second
  efctl generate -d hec:1 -g okta_authentication -n 50 --eps 5

  # Watch a long run on a dashboard; q stops it
  efctl generate -d syslog:1 -g paloalto_firewall.py -n 5000 --dashboard`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

var executeCmd = &cobra.Command{
	Use:   "execute <generator>",
	Short: "Run a generator and print its captured output",
	Args:  cobra.ExactArgs(1),
	RunE:  runExecute,
}

var normalizeCmd = &cobra.Command{
	Use:   "normalize [file]",
	Short: "Clean generator output from a file or stdin",
	Long: `Clean captured generator output into one record per line.

Examples:
  # Detect the format and print cleaned records
  efctl execute aws_cloudtrail.py | efctl normalize

  # Clean RAW output and send it to a syslog listener
  efctl normalize --format raw -d syslog:1 capture.log`,
	Args: cobra.MaximumNArgs(1),
	RunE: runNormalize,
}

// generationRequest matches delivery.GenerationRequest
type generationRequest struct {
	Generator       string  `json:"generator"`
	DestinationID   string  `json:"destination_id"`
	EventsPerSecond float64 `json:"eps,omitempty"`
	Count           int     `json:"count,omitempty"`
}

// executeResponse matches internal/http ExecuteResponse
type executeResponse struct {
	Output         string `json:"output"`
	DetectedFormat string `json:"detected_format"`
	ExitCode       int    `json:"exit_code"`
}

// normalizeRequest matches internal/http NormalizeRequest
type normalizeRequest struct {
	Output        string `json:"output"`
	Format        string `json:"format,omitempty"`
	DestinationID string `json:"destination_id,omitempty"`
}

// normalizeResponse matches internal/http NormalizeResponse
type normalizeResponse struct {
	Output    string `json:"output"`
	Format    string `json:"format"`
	Lines     int    `json:"lines"`
	Delivered int    `json:"delivered"`
	Message   string `json:"message"`
}

func runGenerate(cmd *cobra.Command, args []string) error {
	resp, err := newClient(0).do(http.MethodPost, "/api/v1/generate", generationRequest{
		Generator:       genGenerator,
		DestinationID:   genDestination,
		EventsPerSecond: genEPS,
		Count:           genCount,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if genDashboard {
		return watchRun(cmd, resp.Body, fmt.Sprintf("%s / %s", genDestination, genGenerator), genCount)
	}
	return copyStream(cmd.OutOrStdout(), resp.Body)
}

// watchRun shows the run on the terminal dashboard and prints a summary once
// it closes. Stopping the dashboard early closes the stream, which cancels
// the run on the daemon.
func watchRun(cmd *cobra.Command, body io.Reader, title string, target int) error {
	stats, err := monitor.Run(cmd.Context(), body, monitor.Options{
		Title:  title,
		Target: target,
		Input:  cmd.InOrStdin(),
		Output: cmd.OutOrStdout(),
	})
	out := cmd.OutOrStdout()
	if stats.Last != "" {
		fmt.Fprintln(out, stats.Last)
	}
	fmt.Fprintln(out, monitor.Summary(stats))
	if err != nil {
		return err
	}
	if stats.Failed() {
		return errRunFailed
	}
	return nil
}

// copyStream copies run output line by line as it arrives and reports
// whether the last line was an error.
func copyStream(out io.Writer, body io.Reader) error {
	var last string
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintln(out, line)
		if line != "" {
			last = line
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream interrupted: %w", err)
	}
	if strings.HasPrefix(last, "ERROR:") {
		return errRunFailed
	}
	return nil
}

func runExecute(cmd *cobra.Command, args []string) error {
	body := map[string]any{"generator": args[0]}
	if execCount > 0 {
		body["count"] = execCount
	}

	var resp executeResponse
	if err := newClient(2*time.Minute).doJSON(http.MethodPost, "/api/v1/execute", body, &resp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if execOutputJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Fprint(out, resp.Output)
	fmt.Fprintf(cmd.ErrOrStderr(), "[efctl] format=%s exit=%d\n", resp.DetectedFormat, resp.ExitCode)
	return nil
}

func runNormalize(cmd *cobra.Command, args []string) error {
	var (
		content []byte
		err     error
	)
	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
	}
	if len(content) == 0 {
		return fmt.Errorf("no content to normalize")
	}

	var resp normalizeResponse
	if err := newClient(time.Minute).doJSON(http.MethodPost, "/api/v1/normalize", normalizeRequest{
		Output:        string(content),
		Format:        normFormat,
		DestinationID: normDestination,
	}, &resp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if resp.Output != "" {
		fmt.Fprintln(out, resp.Output)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "[efctl] format=%s records=%d\n", resp.Format, resp.Lines)
	if resp.Message != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "[efctl] %s\n", resp.Message)
	}
	return nil
}
