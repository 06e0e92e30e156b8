// Command jobd operates a local job ledger: it signs lifecycle commands with
// keystore keys, applies them to the configured database and prints the
// outcome as JSON.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	defaultConfigPath = "jobd.toml"
	configEnv         = "JOBD_CONFIG"
	passphraseEnv     = "JOBD_PASSPHRASE"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("jobd", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprintln(stderr, usage()) }
	configPath := global.String("config", defaultConfigPath, "path to the TOML or YAML configuration")
	if err := global.Parse(args); err != nil {
		return 1
	}
	if env := strings.TrimSpace(os.Getenv(configEnv)); env != "" && !flagPassed(global, "config") {
		*configPath = env
	}
	rest := global.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	cli := &cli{configPath: *configPath, stdout: stdout, stderr: stderr}
	handler, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
	return handler(cli, rest[1:])
}

type cli struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer
}

var commands = map[string]func(*cli, []string) int{
	"keygen":     (*cli).runKeygen,
	"address":    (*cli).runAddress,
	"credit":     (*cli).runCredit,
	"balance":    (*cli).runBalance,
	"post":       (*cli).runPost,
	"accept":     (*cli).runAccept,
	"complete":   (*cli).runComplete,
	"confirm":    (*cli).runConfirm,
	"dispute":    (*cli).runDispute,
	"cancel":     (*cli).runCancel,
	"expire":     (*cli).runExpire,
	"rate":       (*cli).runRate,
	"job":        (*cli).runJob,
	"jobs":       (*cli).runJobs,
	"escrow":     (*cli).runEscrow,
	"reputation": (*cli).runReputation,
	"ratings":    (*cli).runRatings,
	"proof":      (*cli).runProof,

	"pause":        (*cli).runPause,
	"resume":       (*cli).runResume,
	"prune-quotas": (*cli).runPruneQuotas,
}

func flagPassed(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func (c *cli) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("jobd "+name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) fail(msg string) int {
	fmt.Fprintf(c.stderr, "Error: %s\n", msg)
	return 1
}

func (c *cli) failErr(err error) int {
	return c.fail(err.Error())
}

func usage() string {
	return strings.TrimSpace(`Usage:
  jobd [--config path] <command> [flags]

Keys:
  keygen      Create a keystore key (--name)
  address     Print the address of a keystore key (--key)

Ledger:
  credit      Credit a development balance (--to, --amount)
  balance     Show the spendable balance of an address (--address)

Lifecycle (signed with --key):
  post        Post and fund a job
  accept      Accept a posted job as freelancer
  complete    Complete and pay out one milestone
  confirm     Confirm completion and settle the remaining escrow
  dispute     Freeze a job
  cancel      Cancel a job and refund the remaining escrow
  expire      Cancel an unaccepted posting past its expiration
  rate        Rate the freelancer of a completed job

Queries:
  job         Show a job (--id)
  jobs        List the jobs of an employer (--employer, --status)
  escrow      Show the escrow account of a job (--id)
  reputation  Show the aggregate rating of a freelancer (--address)
  ratings     List the ratings received by a freelancer (--address, --employer)
  proof       Check a proof file against the configured verifier (--file)

Operations:
  pause         Pause a module for every process sharing the database (--module)
  resume        Resume a paused module (--module)
  prune-quotas  Drop the posting counters of a finished epoch (--epoch)

The keystore passphrase is read from JOBD_PASSPHRASE or prompted for.
`)
}
