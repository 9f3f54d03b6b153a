package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "alumnet-admin",
		Usage: "Operate the alumnet connections and messaging backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a TOML config file",
				EnvVars: []string{"ALUMNET_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			MigrateCommand(),
			TokenCommand(),
			PendingCommand(),
			HistoryCommand(),
			IndexCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
