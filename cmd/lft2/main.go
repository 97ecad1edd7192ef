// Command lft2 runs a local multi-replica simulation of the consensus
// engine, grounded on the teacher's cmd/ cobra entrypoints and on
// original_source/lft/app/app.py's instant/record/replay split (spec §6).
package main

import (
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iconloop/LFT2/app"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lft2",
		Short: "run a local LFT2 consensus simulation",
	}
	root.AddCommand(newInstantCmd(), newRecordCmd(), newReplayCmd())
	return root
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func runUntilInterrupted(a app.App) error {
	if err := a.Start(); err != nil {
		return err
	}
	defer a.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig
	return nil
}

func newInstantCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "instant",
		Short: "run replicas in-process with live timers, no record log",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app.NewInstantApp(newLogger(), count)
			return runUntilInterrupted(a)
		},
	}
	cmd.Flags().IntVar(&count, "count", 4, "number of replicas")
	return cmd
}

func newRecordCmd() *cobra.Command {
	var count int
	var dir string
	cmd := &cobra.Command{
		Use:   "record",
		Short: "run replicas in-process, recording deterministic events for later replay",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app.NewRecordApp(newLogger(), count, dir)
			return runUntilInterrupted(a)
		},
	}
	cmd.Flags().IntVar(&count, "count", 4, "number of replicas")
	cmd.Flags().StringVar(&dir, "dir", "./records", "directory to write per-node record logs under")
	return cmd
}

func newReplayCmd() *cobra.Command {
	var dir, nodeHex, genesisPath string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "replay one node's record log from a prior record run",
		RunE: func(cmd *cobra.Command, args []string) error {
			genesis, voters, err := app.ReadGenesisJSON(genesisPath)
			if err != nil {
				return err
			}
			a := app.NewReplayApp(newLogger(), dir, nodeHex, genesis, voters)
			return runUntilInterrupted(a)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "./records", "directory the record run wrote per-node record logs under")
	cmd.Flags().StringVar(&nodeHex, "node", "", "hex-encoded node id to replay")
	cmd.Flags().StringVar(&genesisPath, "genesis", "./records/genesis.json", "path to the genesis.json written alongside the record run")
	cmd.MarkFlagRequired("node")
	return cmd
}
