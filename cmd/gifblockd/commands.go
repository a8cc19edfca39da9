package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/user1303836/x-gif-blocker/internal/phash/common/clock"
	"github.com/user1303836/x-gif-blocker/internal/phash/common/log"
	"github.com/user1303836/x-gif-blocker/internal/phash/domain"
	"github.com/user1303836/x-gif-blocker/internal/phash/gateways/transport"
	"github.com/user1303836/x-gif-blocker/internal/phash/gateways/wire"
	"github.com/user1303836/x-gif-blocker/internal/phash/repos/blocklist"
	boltstore "github.com/user1303836/x-gif-blocker/internal/phash/repos/kvstore/bolt"
)

// blocklistCommand groups the blocklist operations. They open the store
// directly. A running service sees the edits with the redis backend; a bolt
// file stays locked while the service runs.
func blocklistCommand() *cli.Command {
	return &cli.Command{
		Name:  "blocklist",
		Usage: "inspect and edit the persisted blocklist",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "print every blocked fingerprint, oldest first",
				Action: withBlocklist(listBlocklist),
			},
			{
				Name:   "export",
				Usage:  "write the blocklist as JSON",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file (default stdout)"}},
				Action: withBlocklist(exportBlocklist),
			},
			{
				Name:      "import",
				Usage:     "merge a JSON blocklist into the stored one",
				ArgsUsage: "FILE|-",
				Action:    withBlocklist(importBlocklist),
			},
			{
				Name:      "unblock",
				Usage:     "remove every entry with the given fingerprint",
				ArgsUsage: "FINGERPRINT",
				Action:    withBlocklist(unblockFingerprint),
			},
			{
				Name:   "clear",
				Usage:  "remove every blocklist entry",
				Flags:  []cli.Flag{&cli.BoolFlag{Name: "yes", Usage: "do not ask for confirmation"}},
				Action: withBlocklist(clearBlocklist),
			},
			{
				Name:      "mute-on-block",
				Usage:     "show or set whether blocking also mutes the author",
				ArgsUsage: "[on|off]",
				Action:    withBlocklist(muteOnBlock),
			},
			{
				Name:   "stats",
				Usage:  "print blocklist counters",
				Action: withBlocklist(blocklistStats),
			},
		},
	}
}

type blocklistAction func(c *cli.Context, repo *blocklist.Repository) error

// withBlocklist opens the configured store, loads the repository and closes
// both once fn returns.
func withBlocklist(fn blocklistAction) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := buildStore(cfg)
		if errors.Is(err, boltstore.ErrLocked) {
			return cli.Exit(fmt.Sprintf("%s is in use by a running service; stop it first, or use the redis backend to edit a live blocklist", cfg.StorePath), 1)
		}
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Warn(map[string]any{"error": err}, "Error closing store")
			}
		}()
		repo, err := buildBlocklist(c.Context, cfg, store, clock.RealClock{}, log.GetLogger())
		if err != nil {
			return err
		}
		defer repo.Close()
		return fn(c, repo)
	}
}

func listBlocklist(c *cli.Context, repo *blocklist.Repository) error {
	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FINGERPRINT\tADDED\tSOURCE")
	for _, item := range repo.List() {
		added := "-"
		if !item.CreatedAt.IsZero() {
			added = item.CreatedAt.UTC().Format(time.RFC3339)
		}
		source := item.SourceURL
		if source == "" {
			source = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", item.Fingerprint, added, source)
	}
	return w.Flush()
}

func exportBlocklist(c *cli.Context, repo *blocklist.Repository) error {
	data, err := repo.Export()
	if err != nil {
		return err
	}
	if out := c.String("out"); out != "" {
		return os.WriteFile(out, data, 0o644)
	}
	_, err = fmt.Fprintln(c.App.Writer, string(data))
	return err
}

func importBlocklist(c *cli.Context, repo *blocklist.Repository) error {
	if c.Args().Len() != 1 {
		return cli.Exit("import needs exactly one FILE argument (- for stdin)", 2)
	}
	data, err := readInput(c.Args().First(), c.App.Reader)
	if err != nil {
		return err
	}
	added, err := repo.Import(c.Context, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "imported %d new entries (%d total)\n", added, len(repo.List()))
	return nil
}

func unblockFingerprint(c *cli.Context, repo *blocklist.Repository) error {
	if c.Args().Len() != 1 {
		return cli.Exit("unblock needs exactly one FINGERPRINT argument", 2)
	}
	removed, err := repo.Remove(c.Context, domain.NormalizeFingerprint(c.Args().First()))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "removed %d entries\n", removed)
	return nil
}

func clearBlocklist(c *cli.Context, repo *blocklist.Repository) error {
	if !c.Bool("yes") {
		return cli.Exit("refusing to clear the blocklist without --yes", 2)
	}
	n := len(repo.List())
	if err := repo.Clear(c.Context); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "cleared %d entries\n", n)
	return nil
}

func muteOnBlock(c *cli.Context, repo *blocklist.Repository) error {
	switch c.Args().First() {
	case "":
	case "on":
		if err := repo.SetMuteOnBlock(c.Context, true); err != nil {
			return err
		}
	case "off":
		if err := repo.SetMuteOnBlock(c.Context, false); err != nil {
			return err
		}
	default:
		return cli.Exit("mute-on-block takes on or off", 2)
	}
	state := "off"
	if repo.MuteOnBlock() {
		state = "on"
	}
	fmt.Fprintf(c.App.Writer, "mute-on-block: %s\n", state)
	return nil
}

func blocklistStats(c *cli.Context, repo *blocklist.Repository) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(repo.Stats())
}

func readInput(name string, stdin io.Reader) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}

// queryCommand sends one request to a running service and prints the reply.
func queryCommand() *cli.Command {
	return &cli.Command{
		Name:      "query",
		Usage:     "send a request to a running service",
		ArgsUsage: "fingerprint|check|block URL  or  unblock FINGERPRINT",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "127.0.0.1:7878", EnvVars: []string{"GIFBLOCK_LISTEN"}, Usage: "service address"},
			&cli.StringFlag{Name: "user", Usage: "author of the media, for check and block"},
			&cli.DurationFlag{Name: "timeout", Value: transport.DefaultClientTimeout, Usage: "reply timeout"},
		},
		Action: runQuery,
	}
}

func runQuery(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return cli.Exit("query needs an op and one argument", 2)
	}
	req, err := buildQuery(c.Args().Get(0), c.Args().Get(1), c.String("user"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	client, err := transport.NewClient(transport.ClientOptions{
		Addr:    c.String("addr"),
		Codec:   wire.NewJSONCodec(log.NewNoopLogger()),
		Timeout: c.Duration("timeout"),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()
	reply, err := client.Do(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reply); err != nil {
		return err
	}
	if reply.Error != "" {
		return cli.Exit("", 1)
	}
	return nil
}

func buildQuery(op, arg, user string) (domain.ServiceRequest, error) {
	req := domain.ServiceRequest{Op: domain.Op(op), User: user}
	if !req.Op.Valid() {
		return req, fmt.Errorf("unknown op %q", op)
	}
	if req.Op == domain.OpUnblock {
		req.Fingerprint = arg
	} else {
		req.URL = arg
	}
	return req, nil
}
