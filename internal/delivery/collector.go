package delivery

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/eventforge/internal/destination"
	"github.com/fyrsmithlabs/eventforge/internal/executor"
)

// Environment passed to the sender subprocess.
const (
	EnvHECURL        = "S1_HEC_URL"
	EnvHECToken      = "S1_HEC_TOKEN"
	EnvHECDebug      = "S1_HEC_DEBUG"
	EnvGeneratorsDir = "EVENTFORGE_GENERATORS_DIR"
	EnvInterpreter   = "EVENTFORGE_INTERPRETER"
)

// minEPS keeps the sender delay finite.
const minEPS = 1e-6

// ackLine matches AckLine output.
var ackLine = regexp.MustCompile(`^Event \d+/\d+ -> \S+ \(\d{3}\)$`)

// AckLine is the line the sender prints for each event the collector
// accepted. It is printed when S1_HEC_DEBUG=1, which the pipeline always sets.
func AckLine(n, total int, endpoint string, status int) string {
	return fmt.Sprintf("Event %d/%d -> %s (%d)", n, total, endpoint, status)
}

// CollectorConfig describes the sender subprocess.
type CollectorConfig struct {
	Command       []string
	GeneratorsDir string
	Interpreter   string
}

// CollectorTransport delivers through the sender subprocess, which owns the
// HTTP connection to the collector. Its lines are forwarded as they are; only
// acknowledgement lines count as delivered events.
type CollectorTransport struct {
	cfg    CollectorConfig
	conn   destination.HecConnection
	secret string
}

// NewCollectorTransport binds a sender configuration to one HEC destination.
func NewCollectorTransport(cfg CollectorConfig, conn destination.HecConnection, secret []byte) *CollectorTransport {
	return &CollectorTransport{cfg: cfg, conn: conn, secret: string(secret)}
}

func (t *CollectorTransport) Name() string { return "hec" }

func (t *CollectorTransport) Connect(context.Context) error { return nil }

func (t *CollectorTransport) Send(_ context.Context, line string) (string, int, error) {
	if ackLine.MatchString(strings.TrimSpace(line)) {
		return line, 1, nil
	}
	return line, 0, nil
}

func (t *CollectorTransport) Close() error { return nil }

// SenderDelay converts events per second into the sender's fixed spacing.
func SenderDelay(eps float64) float64 {
	if eps <= 0 {
		return 1.0
	}
	return 1.0 / max(eps, minEPS)
}

// Invocation builds the sender command line for product.
func (t *CollectorTransport) Invocation(product string, count int, eps float64) executor.Invocation {
	delay := strconv.FormatFloat(SenderDelay(eps), 'f', -1, 64)

	args := append([]string(nil), t.cfg.Command[1:]...)
	args = append(args,
		"--product", product,
		"-n", strconv.Itoa(count),
		"--min-delay", delay,
		"--max-delay", delay,
		"--print-responses",
	)

	env := map[string]string{
		EnvHECURL:   t.conn.URL,
		EnvHECToken: t.secret,
		EnvHECDebug: "1",
	}
	if t.cfg.GeneratorsDir != "" {
		env[EnvGeneratorsDir] = t.cfg.GeneratorsDir
	}
	if t.cfg.Interpreter != "" {
		env[EnvInterpreter] = t.cfg.Interpreter
	}
	return executor.Invocation{Program: t.cfg.Command[0], Args: args, Env: env}
}

// ScenarioInvocation gives a scenario script the collector it sends to.
func (t *CollectorTransport) ScenarioInvocation(inv executor.Invocation) executor.Invocation {
	env := make(map[string]string, len(inv.Env)+3)
	for k, v := range inv.Env {
		env[k] = v
	}
	env[EnvHECURL] = strings.TrimRight(t.conn.URL, "/")
	env[EnvHECToken] = t.secret
	env[EnvHECDebug] = "1"
	inv.Env = env
	return inv
}

// Literals returns the values that must never reach the caller.
func (t *CollectorTransport) Literals() (secrets, urls []string) {
	urls = []string{t.conn.URL}
	if base := strings.TrimSuffix(t.conn.URL, "/services/collector"); base != t.conn.URL && base != "" {
		urls = append(urls, base)
	}
	return []string{t.secret}, urls
}
