package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v3"

	"github.com/warriorguo/flowgraph"
	"github.com/warriorguo/flowgraph/types"
)

func publishCommand() *cli.Command {
	return &cli.Command{
		Name:  "publish",
		Usage: "Publish a snapshot from a JSON file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Snapshot JSON file",
				Required: true,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			engine, cleanup, err := openEngine(ctx, command)
			defer cleanup()
			if err != nil {
				return err
			}

			snapshot, err := publishFile(ctx, engine, command.String("file"))
			if err != nil {
				return err
			}
			fmt.Fprintf(command.Root().Writer, "published %s (%s v%d, %d nodes)\n",
				snapshot.ID(), snapshot.FlowID(), snapshot.Version(), snapshot.NodeCount())
			return nil
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run a published snapshot and print the run result",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "snapshot",
				Aliases: []string{"s"},
				Usage:   "Snapshot ID, defaults to the ID in --file",
			},
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Snapshot JSON file published before running",
			},
			&cli.StringFlag{
				Name:  "input",
				Usage: "Run input as a JSON object",
				Value: "{}",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Run timeout",
				Value: 5 * time.Minute,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			input := types.Data{}
			if err := json.Unmarshal([]byte(command.String("input")), &input); err != nil {
				return errors.NewNotValid(err, "run input")
			}

			engine, cleanup, err := openEngine(ctx, command)
			defer cleanup()
			if err != nil {
				return err
			}

			snapshotID := command.String("snapshot")
			if file := command.String("file"); file != "" {
				snapshot, err := publishFile(ctx, engine, file)
				if err != nil {
					return err
				}
				if snapshotID == "" {
					snapshotID = snapshot.ID()
				}
			}
			if snapshotID == "" {
				return errors.NotValidf("one of --snapshot or --file")
			}

			ctx, cancel := context.WithTimeout(ctx, command.Duration("timeout"))
			defer cancel()

			result, err := engine.Run(ctx, snapshotID, input)
			if err != nil {
				return err
			}

			b, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return errors.Trace(err)
			}
			fmt.Fprintln(command.Root().Writer, string(b))
			if result.Status != types.RunSucceeded {
				return errors.Errorf("run %s %s: %s", result.RunID, result.Status, result.Error)
			}
			return nil
		},
	}
}

func renderCommand() *cli.Command {
	return &cli.Command{
		Name:  "render",
		Usage: "Print the Graphviz DOT graph of a snapshot",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "snapshot",
				Aliases:  []string{"s"},
				Usage:    "Snapshot ID",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "file",
				Usage: "Snapshot JSON file published before rendering",
			},
			&cli.StringFlag{
				Name:  "run",
				Usage: "Run the snapshot with this JSON input and color nodes by status",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			engine, cleanup, err := openEngine(ctx, command)
			defer cleanup()
			if err != nil {
				return err
			}

			if file := command.String("file"); file != "" {
				if _, err := publishFile(ctx, engine, file); err != nil {
					return err
				}
			}

			snapshotID := command.String("snapshot")
			var dot string
			if raw := command.String("run"); raw != "" {
				input := types.Data{}
				if err := json.Unmarshal([]byte(raw), &input); err != nil {
					return errors.NewNotValid(err, "run input")
				}
				result, err := engine.Run(ctx, snapshotID, input)
				if err != nil {
					return err
				}
				dot, err = engine.RenderRun(ctx, result.RunID)
				if err != nil {
					return err
				}
			} else {
				dot, err = engine.RenderSnapshot(ctx, snapshotID)
				if err != nil {
					return err
				}
			}
			fmt.Fprintln(command.Root().Writer, dot)
			return nil
		},
	}
}

// publishFile publishes the snapshot in file. An already published identical
// ID is reused.
func publishFile(ctx context.Context, engine *flowgraph.Engine, file string) (*types.FlowSnapshot, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Annotatef(err, "read %s", file)
	}
	snapshot, err := types.ParseFlowSnapshot(b)
	if err != nil {
		return nil, errors.Annotatef(err, "parse %s", file)
	}

	err = engine.PublishSnapshot(ctx, snapshot)
	if errors.Is(err, errors.AlreadyExists) {
		log.WithField("snapshot_id", snapshot.ID()).Info("snapshot already published")
		return snapshot, nil
	}
	return snapshot, errors.Trace(err)
}
