package main

import (
	"log/slog"

	"jobchain/core/state"
	"jobchain/native/params"
)

func (c *cli) runPause(args []string) int {
	return c.setPaused("pause", args, true)
}

func (c *cli) runResume(args []string) int {
	return c.setPaused("resume", args, false)
}

func (c *cli) setPaused(name string, args []string, paused bool) int {
	flags := c.flagSet(name)
	module := flags.String("module", "jobs", "module to toggle")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	return c.withNode(func(n *node) int {
		if err := n.state.Update(func(tx *state.Tx) error {
			return params.NewStore(tx).SetPaused(*module, paused)
		}); err != nil {
			return c.failErr(err)
		}
		n.logger.Info("module pause toggled",
			slog.String("component", "params"),
			slog.String("module", *module),
			slog.Bool("paused", paused),
		)
		var persisted interface{}
		err := n.state.View(func(tx *state.Tx) error {
			pauses, err := params.NewStore(tx).Pauses()
			persisted = pauses
			return err
		})
		if err != nil {
			return c.failErr(err)
		}
		return c.printJSON(persisted)
	})
}

func (c *cli) runPruneQuotas(args []string) int {
	flags := c.flagSet("prune-quotas")
	epoch := flags.Uint64("epoch", 0, "finished epoch whose counters are dropped")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	return c.withNode(func(n *node) int {
		pruned, err := n.engine.PruneQuotaEpoch(*epoch)
		if err != nil {
			return c.commandFailed(err)
		}
		return c.printJSON(map[string]uint64{"epoch": *epoch, "pruned": uint64(pruned)})
	})
}
