package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/Mindburn-Labs/tokenledger/pkg/config"
	"github.com/Mindburn-Labs/tokenledger/pkg/contracts"
	"github.com/Mindburn-Labs/tokenledger/pkg/flow"
)

func runDemoCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("demo", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	profilePath := cmd.String("profile", "", "network profile (YAML); defaults to Alice and Bob")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	profile := defaultProfile()
	if *profilePath != "" {
		p, err := config.LoadProfile(*profilePath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		profile = p
	}
	if len(profile.Parties) < 2 {
		_, _ = fmt.Fprintln(stderr, "Error: the demo needs at least two parties")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	net, err := newNetwork(ctx, cfg, profile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = net.Close(context.WithoutCancel(ctx)) }()

	if err := runDemo(ctx, net.Node(0), net.Node(1), stdout); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := net.notary.Journal().Verify(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: notary journal: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "\nnotary journal: %d commits, head %s\n", net.notary.Journal().Len(), net.notary.Journal().Head())
	return 0
}

// runDemo walks a through every intent with b as counterparty.
func runDemo(ctx context.Context, a, b *flow.Node, w io.Writer) error {
	step := func(label string, run func() (*flow.Result, error)) (*flow.Result, error) {
		res, err := run()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", label, err)
		}
		_, _ = fmt.Fprintf(w, "%-34s tx=%s seq=%d\n", label, short(res.Tx.Tx.ID), res.Tx.Receipt.Sequence)
		return res, nil
	}

	issued, err := step(fmt.Sprintf("issue 100 RICK to %s", a.Identity()), func() (*flow.Result, error) {
		return a.Issue(ctx, a.Identity(), 100, contracts.CurrencyRick)
	})
	if err != nil {
		return err
	}
	split, err := step("split 0.4", func() (*flow.Result, error) {
		return a.Split(ctx, issued.Tx.Tx.OutputRef(0), 0.4)
	})
	if err != nil {
		return err
	}
	joined, err := step("join", func() (*flow.Result, error) {
		return a.Join(ctx, split.Tx.Tx.OutputRef(0), split.Tx.Tx.OutputRef(1))
	})
	if err != nil {
		return err
	}
	_, err = step(fmt.Sprintf("move 100 RICK to %s", b.Identity()), func() (*flow.Result, error) {
		return a.Move(ctx, joined.Tx.Tx.OutputRef(0), b.Identity())
	})
	if err != nil {
		return err
	}
	rick, err := step(fmt.Sprintf("issue 10 RICK to %s", a.Identity()), func() (*flow.Result, error) {
		return a.Issue(ctx, a.Identity(), 10, contracts.CurrencyRick)
	})
	if err != nil {
		return err
	}
	morty, err := step(fmt.Sprintf("issue 30 MORTY to %s", b.Identity()), func() (*flow.Result, error) {
		return a.Issue(ctx, b.Identity(), 30, contracts.CurrencyMorty)
	})
	if err != nil {
		return err
	}
	_, err = step("swap for 10 MORTY", func() (*flow.Result, error) {
		return a.Swap(ctx, rick.Tx.Tx.OutputRef(0), morty.Tx.Tx.OutputRef(0), 10)
	})
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PARTY\tRICK\tMORTY")
	for _, n := range []*flow.Node{a, b} {
		r, err := n.Balance(ctx, contracts.CurrencyRick)
		if err != nil {
			return err
		}
		m, err := n.Balance(ctx, contracts.CurrencyMorty)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(tw, "%s\t%.2f\t%.2f\n", n.Identity(), r, m)
	}
	return tw.Flush()
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func runProfileCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: tokenledger profile <path>")
		return 2
	}
	p, err := config.LoadProfile(args[0])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "profile ok: version %s, notary %s, %d parties\n", p.Version, p.Notary, len(p.Parties))
	return 0
}
