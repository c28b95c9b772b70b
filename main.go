package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"git.platform.alem.school/amibragim/order-intake/cmd/billing"
	"git.platform.alem.school/amibragim/order-intake/cmd/gateway"
	"git.platform.alem.school/amibragim/order-intake/internal/cli"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/config"
)

func main() {
	// check for help flag first
	if len(os.Args) == 2 && (os.Args[1] == "--help" || os.Args[1] == "-h") {
		cli.PrintUsage(os.Stdout)
		os.Exit(0)
	}

	mode, rest, err := cli.ParseMode(os.Args[1:], os.Getenv("APP_MODE"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cli.PrintUsage(os.Stderr)
		os.Exit(2)
	}

	if mode == "" || len(rest) > 0 {
		if len(rest) > 0 {
			fmt.Fprintln(os.Stderr, "Error: unexpected arguments:", rest)
		}
		cli.PrintUsage(os.Stderr)
		os.Exit(2)
	}

	// create context cancelled on SIGINT/SIGTERM signals ensuring graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch mode {
	case cli.ModeGateway:
		err = gateway.Run(ctx, config.DefaultPath)
	case cli.ModeBilling:
		err = billing.Run(ctx, config.DefaultPath)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
