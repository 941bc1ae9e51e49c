// Package clicheck provides a cli command that checks a running supervisor
// through its service socket.
package clicheck

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli"

	"github.com/lancer-kit/taskvisor"
	"github.com/lancer-kit/taskvisor/socket"
)

const detailsFlag = "details"

// CliCheckCommand returns `cli.Command`, which allows you to check the health of a running instance **Application**
// with the service socket enabled using `(Supervisor).ServeSocket(...)`.
// Every worker returned by workerIDsProvider must exist and must not be errored.
func CliCheckCommand(app taskvisor.AppInfo, workerIDsProvider func(c *cli.Context) []string) cli.Command {
	return cli.Command{
		Name:  "check",
		Usage: "receives information about the status of a running service through an open service socket",
		Action: func(c *cli.Context) error {
			stateInfo, err := Check(app.SocketName(), workerIDsProvider(c))
			if err != nil {
				return err
			}

			if !c.Bool(detailsFlag) {
				return nil
			}

			data, err := json.MarshalIndent(stateInfo, "", "  ")
			if err != nil {
				return cli.NewExitError(err.Error(), 1)
			}
			fmt.Fprintln(c.App.Writer, string(data))
			return nil
		},

		Flags: []cli.Flag{
			cli.BoolFlag{
				Name:  detailsFlag + ", d",
				Usage: "if true, then prints the detailed json result to the stdout, otherwise the output will be empty",
			},
		},
	}
}

// Check asks the socket for the state of all workers. The returned error is
// a cli exit error.
func Check(socketName string, workerIDs []string) (*taskvisor.StateInfo, error) {
	resp, err := socket.NewClient(socketName).Send(socket.Request{Action: taskvisor.StatusAction})
	if err != nil {
		return nil, cli.NewExitError(err.Error(), 1)
	}
	if err := resp.Err(); err != nil {
		return nil, cli.NewExitError(err.Error(), 1)
	}

	stateInfo, err := taskvisor.ParseStateInfo(resp.Data)
	if err != nil {
		return nil, cli.NewExitError("invalid response:"+err.Error(), 1)
	}

	for _, id := range workerIDs {
		state, ok := stateInfo.Workers[id]
		if !ok {
			return stateInfo, cli.NewExitError(id+" does not exist", 7)
		}
		if state == taskvisor.WStateErrored {
			return stateInfo, cli.NewExitError(id+" is errored", 7)
		}
	}
	return stateInfo, nil
}
