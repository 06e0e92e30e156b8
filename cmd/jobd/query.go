package main

import (
	"context"
	"log/slog"
	"strings"

	"jobchain/core/state"
	"jobchain/crypto"
	"jobchain/native/jobs"
	"jobchain/native/reputation"
)

// withNode opens the node for a read or maintenance command.
func (c *cli) withNode(fn func(*node) int) int {
	n, err := c.openNode(context.Background())
	if err != nil {
		return c.failErr(err)
	}
	defer n.Close()
	return fn(n)
}

func (c *cli) runCredit(args []string) int {
	flags := c.flagSet("credit")
	to := flags.String("to", "", "address or key name to credit")
	amountStr := flags.String("amount", "", "amount in base units")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*amountStr) == "" {
		return c.fail("--amount is required")
	}
	amount, err := parseAmount(*amountStr)
	if err != nil {
		return c.failErr(err)
	}
	return c.withNode(func(n *node) int {
		addr, err := resolveAddress(n.cfg, *to)
		if err != nil {
			return c.failErr(err)
		}
		if err := n.state.Update(func(tx *state.Tx) error {
			return tx.Credit(addr, amount)
		}); err != nil {
			return c.failErr(err)
		}
		n.logger.Info("balance credited", slog.String("amount", amount.String()))
		return c.printBalance(n, addr)
	})
}

func (c *cli) runBalance(args []string) int {
	flags := c.flagSet("balance")
	address := flags.String("address", "", "address or key name")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	return c.withNode(func(n *node) int {
		addr, err := resolveAddress(n.cfg, *address)
		if err != nil {
			return c.failErr(err)
		}
		return c.printBalance(n, addr)
	})
}

func (c *cli) printBalance(n *node, addr [20]byte) int {
	bal, err := n.engine.Balance(addr)
	if err != nil {
		return c.failErr(err)
	}
	return c.printJSON(map[string]string{
		"address": formatAddress(addr),
		"balance": amountString(bal),
	})
}

func (c *cli) runJob(args []string) int {
	flags := c.flagSet("job")
	idStr := flags.String("id", "", "hex job id")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	id, err := parseJobID(*idStr)
	if err != nil {
		return c.failErr(err)
	}
	return c.withNode(func(n *node) int {
		job, err := n.engine.Job(id)
		if err != nil {
			return c.commandFailed(err)
		}
		return c.printJSON(job)
	})
}

func (c *cli) runJobs(args []string) int {
	flags := c.flagSet("jobs")
	employer := flags.String("employer", "", "employer address or key name")
	statusStr := flags.String("status", "", "only list jobs in this status")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	var (
		filter    jobs.Status
		filtering = strings.TrimSpace(*statusStr) != ""
	)
	if filtering {
		var err error
		if filter, err = jobs.ParseStatus(strings.TrimSpace(*statusStr)); err != nil {
			return c.failErr(err)
		}
	}
	return c.withNode(func(n *node) int {
		addr, err := resolveAddress(n.cfg, *employer)
		if err != nil {
			return c.failErr(err)
		}
		list, err := n.engine.JobsByEmployer(addr)
		if err != nil {
			return c.failErr(err)
		}
		out := make([]*jobs.JobPosting, 0, len(list))
		for _, job := range list {
			if filtering && job.Status != filter {
				continue
			}
			out = append(out, job)
		}
		return c.printJSON(out)
	})
}

func (c *cli) runEscrow(args []string) int {
	flags := c.flagSet("escrow")
	idStr := flags.String("id", "", "hex job id")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	id, err := parseJobID(*idStr)
	if err != nil {
		return c.failErr(err)
	}
	return c.withNode(func(n *node) int {
		acc, err := n.engine.Escrow(id)
		if err != nil {
			return c.commandFailed(err)
		}
		return c.printJSON(newAccountView(acc))
	})
}

func (c *cli) runReputation(args []string) int {
	flags := c.flagSet("reputation")
	address := flags.String("address", "", "freelancer address or key name")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	return c.withNode(func(n *node) int {
		addr, err := resolveAddress(n.cfg, *address)
		if err != nil {
			return c.failErr(err)
		}
		rep, err := n.engine.Reputation(addr)
		if err != nil {
			return c.failErr(err)
		}
		return c.printJSON(newReputationView(rep))
	})
}

func (c *cli) runRatings(args []string) int {
	flags := c.flagSet("ratings")
	address := flags.String("address", "", "freelancer address or key name")
	employer := flags.String("employer", "", "only ratings left by this employer")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	return c.withNode(func(n *node) int {
		addr, err := resolveAddress(n.cfg, *address)
		if err != nil {
			return c.failErr(err)
		}
		var list []*reputation.JobRating
		if strings.TrimSpace(*employer) != "" {
			var by [20]byte
			if by, err = resolveAddress(n.cfg, *employer); err != nil {
				return c.failErr(err)
			}
			list, err = n.engine.RatingsBetween(by, addr)
		} else {
			list, err = n.engine.RatingsFor(addr)
		}
		if err != nil {
			return c.failErr(err)
		}
		out := make([]ratingView, 0, len(list))
		for _, r := range list {
			out = append(out, newRatingView(r))
		}
		return c.printJSON(out)
	})
}

func formatAddress(addr [20]byte) string {
	return crypto.FromRaw(addr).String()
}
