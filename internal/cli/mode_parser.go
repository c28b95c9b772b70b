package cli

import (
	"fmt"
	"io"
	"strings"
)

const (
	ModeGateway = "gateway"
	ModeBilling = "billing"
)

// isKnownMode maps a mode name or alias to its canonical mode.
func isKnownMode(s string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ModeGateway, "api-gateway", "producer":
		return ModeGateway, true
	case ModeBilling, "billing-app", "consumer":
		return ModeBilling, true
	default:
		return "", false
	}
}

// ParseMode supports, in order of precedence:
//
//	--mode=<value>
//	<value> (positional), e.g. `order-intake billing`
//	envMode, the APP_MODE environment variable
//
// Arguments that are not a mode come back in rest.
func ParseMode(args []string, envMode string) (mode string, rest []string, err error) {
	for _, arg := range args {
		if v, ok := strings.CutPrefix(arg, "--mode="); ok {
			mode = v
			continue
		}

		if mode == "" {
			if m, ok := isKnownMode(arg); ok {
				mode = m
				continue
			}
		}
		rest = append(rest, arg)
	}

	if mode == "" {
		mode = envMode
	}
	if mode == "" {
		return "", rest, nil
	}

	m, ok := isKnownMode(mode)
	if !ok {
		return "", rest, fmt.Errorf("unknown mode %q", mode)
	}

	return m, rest, nil
}

// PrintUsage prints the usage information with examples.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, "\033[36m") // switch the color to cyan

	fmt.Fprintln(w, `Usage:
  ./order-intake <mode>
  ./order-intake --mode=<mode>
  APP_MODE=<mode> ./order-intake

Modes:
  gateway    HTTP intake: validates orders and publishes them to RabbitMQ
  billing    RabbitMQ consumer that persists orders to PostgreSQL, plus the read API

Everything else is configured through the environment (PORT, DB_*, RABBITMQ_*, LOG_LEVEL)
or config/config.yaml.

Examples:
  PORT=3000 ./order-intake gateway
  RABBITMQ_QUEUE=billing_queue DB_HOST=billing-db ./order-intake billing`)

	fmt.Fprint(w, "\033[0m") // switch back to normal
}
