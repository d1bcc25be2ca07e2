package main

import (
	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
)

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a YAML or TOML configuration file",
		},
		&cli.StringFlag{
			Name:    "backend",
			Aliases: []string{"b"},
			Usage:   "Coordination backend (nats, etcd)",
		},
		&cli.StringFlag{
			Name:    "endpoint",
			Aliases: []string{"e"},
			Usage:   "Coordination service endpoint(s), comma separated",
			Sources: cli.EnvVars("LEASING_ENDPOINT"),
		},
		&cli.StringFlag{
			Name:    "key",
			Aliases: []string{"k"},
			Usage:   "Election key",
		},
		&cli.StringFlag{
			Name:  "identity",
			Usage: "Value written to the election key (default: <hostname>-<uuid>)",
		},
		&cli.DurationFlag{
			Name:  "ttl",
			Usage: "Lease TTL",
		},
		&cli.DurationFlag{
			Name:  "retry-delay",
			Usage: "Pause between election attempts after a failure",
		},
	}
}

func runCommand(logger *log.Logger) *cli.Command {
	r := &runner{logger: logger}

	return &cli.Command{
		Name:  "run",
		Usage: "Contend for leadership until interrupted",
		Flags: append(configFlags(),
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Listen address for the Prometheus /metrics endpoint (empty disables it)",
				Value: ":9090",
			},
		),
		Action: r.Run,
	}
}

func validateCommand(logger *log.Logger) *cli.Command {
	r := &runner{logger: logger}

	return &cli.Command{
		Name:   "validate",
		Usage:  "Load and validate the configuration without connecting",
		Flags:  configFlags(),
		Action: r.Validate,
	}
}
