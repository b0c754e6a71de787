package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	// embedded zoneinfo, user timezones must resolve on minimal hosts
	_ "time/tzdata"

	"github.com/2beens/repcount/internal/config"
	"github.com/2beens/repcount/internal/export"
	"github.com/2beens/repcount/internal/logging"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

type toolCtxKey struct{}

func toolFrom(c *cli.Context) *tool {
	return c.Context.Value(toolCtxKey{}).(*tool)
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func userAdd(c *cli.Context) error {
	user, err := toolFrom(c).addUser(
		c.Context,
		c.String("username"),
		c.String("password"),
		c.String("timezone"),
	)
	if err != nil {
		return err
	}
	return printJSON(c, user)
}

func userList(c *cli.Context) error {
	users, err := toolFrom(c).users.List(c.Context)
	if err != nil {
		return err
	}
	return printJSON(c, users)
}

func exportAction(c *cli.Context) error {
	format, err := export.ParseFormat(c.String("format"))
	if err != nil {
		return err
	}
	kind, err := export.ParseKind(c.String("kind"))
	if err != nil {
		return err
	}
	paths, err := toolFrom(c).exportUsers(c.Context, c.IntSlice("user-id"), format, kind, c.String("out-dir"))
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintln(c.App.Writer, p)
	}
	return nil
}

func importAction(c *cli.Context) error {
	res, err := toolFrom(c).importFile(c.Context, c.Int("user-id"), c.String("file"))
	if err != nil {
		return err
	}
	return printJSON(c, res)
}

func statsAction(c *cli.Context) error {
	stats, err := toolFrom(c).stats(c.Context, c.Int("user-id"))
	if err != nil {
		return err
	}
	return printJSON(c, stats)
}

func main() {
	app := &cli.App{
		Name:     "repcount_tool",
		HelpName: "repcount_tool",
		Usage:    "repcount admin tool",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Value: "development",
				Usage: "environment [prod | production | dev | development]",
			},
			&cli.StringFlag{
				Name:  "config",
				Value: "./config.toml",
				Usage: "path for the TOML config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "log level",
			},
		},
		Before: func(c *cli.Context) error {
			if _, err := logging.Setup(logging.LoggerSetupParams{
				LogToStdout: true,
				LogLevel:    c.String("log-level"),
			}); err != nil {
				return err
			}
			cfg, err := config.Load(c.String("env"), c.String("config"))
			if err != nil {
				return err
			}
			secrets, err := config.LoadSecrets(c.Context)
			if err != nil {
				return err
			}
			t, err := newTool(c.Context, cfg, secrets)
			if err != nil {
				return err
			}
			c.Context = context.WithValue(c.Context, toolCtxKey{}, t)
			return nil
		},
		After: func(c *cli.Context) error {
			if t, ok := c.Context.Value(toolCtxKey{}).(*tool); ok && t.close != nil {
				t.close()
			}
			return nil
		},
		ExitErrHandler: func(c *cli.Context, err error) {
			if err == nil {
				return
			}
			log.Errorf("%s: %s", c.App.Name, err)
		},
		Commands: []*cli.Command{
			{
				Name:  "user",
				Usage: "manage users",
				Subcommands: []*cli.Command{
					{
						Name:  "add",
						Usage: "add a user",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "username", Required: true},
							&cli.StringFlag{Name: "password", Required: true, EnvVars: []string{"REPCOUNT_NEW_USER_PASS"}},
							&cli.StringFlag{Name: "timezone", Value: "UTC", Usage: "IANA timezone name"},
						},
						Action: userAdd,
					},
					{
						Name:   "list",
						Usage:  "list users",
						Action: userList,
					},
				},
			},
			{
				Name:  "export",
				Usage: "export workouts of one or more users",
				Flags: []cli.Flag{
					&cli.IntSliceFlag{Name: "user-id", Required: true, Usage: "repeat for several users"},
					&cli.StringFlag{Name: "format", Value: "json", Usage: "csv | pdf | json"},
					&cli.StringFlag{Name: "kind", Value: "workouts", Usage: "csv layout: workouts | daily"},
					&cli.StringFlag{Name: "out-dir", Value: "."},
				},
				Action: exportAction,
			},
			{
				Name:  "import",
				Usage: "replace a user's workouts with a JSON export",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "user-id", Required: true},
					&cli.StringFlag{Name: "file", Required: true},
				},
				Action: importAction,
			},
			{
				Name:  "stats",
				Usage: "print lifetime stats and streak of a user",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "user-id", Required: true},
				},
				Action: statsAction,
			},
		},
	}
	if err := app.RunContext(context.Background(), os.Args); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}
