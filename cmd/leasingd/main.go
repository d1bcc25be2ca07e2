// Command leasingd contends for a lease-based leadership key and reports the
// outcome through logs and Prometheus metrics.
//
// It is useful to smoke-test a coordination cluster, and as a sidecar that
// exposes "is this replica the leader" to tooling that cannot link the library.
package main

import (
	"context"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
)

var version = "dev"

func main() {
	logger := newLogger(os.Stderr)

	app := &cli.Command{
		Name:    "leasingd",
		Usage:   "Lease-based leader election against NATS JetStream KV or etcd",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
				Value: "info",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			level, err := log.ParseLevel(cmd.String("log-level"))
			if err != nil {
				return ctx, err
			}
			logger.SetLevel(level)

			return ctx, nil
		},
		Commands: []*cli.Command{
			runCommand(logger),
			validateCommand(logger),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		logger.Fatal("leasingd failed", "error", err)
	}
}
