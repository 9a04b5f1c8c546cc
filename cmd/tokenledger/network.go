package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Mindburn-Labs/tokenledger/pkg/archive"
	"github.com/Mindburn-Labs/tokenledger/pkg/config"
	"github.com/Mindburn-Labs/tokenledger/pkg/contracts"
	"github.com/Mindburn-Labs/tokenledger/pkg/crypto"
	"github.com/Mindburn-Labs/tokenledger/pkg/flow"
	"github.com/Mindburn-Labs/tokenledger/pkg/notary"
	"github.com/Mindburn-Labs/tokenledger/pkg/observability"
	"github.com/Mindburn-Labs/tokenledger/pkg/policy"
	"github.com/Mindburn-Labs/tokenledger/pkg/session"
	"github.com/Mindburn-Labs/tokenledger/pkg/vault"
)

// defaultProfile is used when no profile file is given.
func defaultProfile() *config.Profile {
	return &config.Profile{
		Version: session.ProtocolVersion,
		Notary:  "Notary",
		Parties: []config.PartyProfile{{Name: "Alice"}, {Name: "Bob"}},
	}
}

// network is an in-process ledger: one notary and a node per party.
type network struct {
	keys      *crypto.KeyRing
	transport *session.Network
	notary    *notary.Notary
	nodes     []*flow.Node
	telemetry *observability.Provider
	closers   []func(context.Context) error
}

// newNetwork wires every subsystem from cfg and profile. The party named by
// cfg.Party uses the configured vault driver; the others keep their records
// in memory.
func newNetwork(ctx context.Context, cfg *config.Config, profile *config.Profile) (*network, error) {
	n := &network{
		keys:      crypto.NewKeyRing(),
		transport: session.NewNetwork(),
	}
	ok := false
	defer func() {
		if !ok {
			_ = n.Close(ctx)
		}
	}()

	seed, err := cfg.Seed()
	if err != nil {
		return nil, err
	}
	if seed == nil {
		if seed, err = crypto.NewSeed(); err != nil {
			return nil, err
		}
	}

	otelCfg := observability.DefaultConfig()
	otelCfg.Enabled = cfg.OTelEnabled
	otelCfg.OTLPEndpoint = cfg.OTelEndpoint
	otelCfg.ServiceVersion = Version
	if n.telemetry, err = observability.New(ctx, otelCfg); err != nil {
		return nil, err
	}
	n.closers = append(n.closers, n.telemetry.Shutdown)

	notaryID, err := n.identity(seed, profile.Notary)
	if err != nil {
		return nil, err
	}
	var opts []notary.Option
	if cfg.RedisAddr != "" {
		opts = append(opts, notary.WithUniqueness(notary.NewRedisUniqueness(cfg.RedisAddr, "", 0)))
	}
	n.notary = notary.New(notaryID, n.keys, opts...)

	// Profile rates win over SWAP_RATE.
	rates, err := cfg.Rates()
	if len(profile.Rates) > 0 {
		rates, err = profile.RateTable()
	}
	if err != nil {
		return nil, err
	}

	engine, err := policy.NewEngine()
	if err != nil {
		return nil, err
	}

	var archiver flow.Archiver
	if cfg.ArchiveBucket != "" {
		s3, err := archive.NewS3Archiver(ctx, archive.S3Config{
			Bucket:   cfg.ArchiveBucket,
			Region:   cfg.ArchiveRegion,
			Endpoint: cfg.ArchiveEndpoint,
			Prefix:   "transitions/",
		})
		if err != nil {
			return nil, err
		}
		archiver = s3
	}

	for _, pp := range profile.Parties {
		id, err := n.identity(seed, pp.Name)
		if err != nil {
			return nil, err
		}
		store, err := n.openStore(ctx, cfg, pp.Name)
		if err != nil {
			return nil, err
		}
		node, err := flow.NewNode(flow.NodeConfig{
			Identity:          id,
			Keys:              n.keys,
			Store:             store,
			Notary:            n.notary,
			NotaryIdentity:    notaryID,
			Network:           n.transport,
			Rates:             rates,
			Policy:            engine,
			PolicyRule:        pp.Policy,
			VersionConstraint: "^" + profile.Version,
			RequestsPerSecond: pp.RequestsPerSecond,
			Burst:             pp.Burst,
			Archiver:          archiver,
			Telemetry:         n.telemetry,
		})
		if err != nil {
			return nil, err
		}
		n.nodes = append(n.nodes, node)
	}
	ok = true
	return n, nil
}

func (n *network) identity(seed []byte, name string) (contracts.Party, error) {
	signer, err := crypto.DeriveSigner(seed, name)
	if err != nil {
		return contracts.Party{}, err
	}
	return n.keys.Identity(name, signer)
}

func (n *network) openStore(ctx context.Context, cfg *config.Config, party string) (vault.Store, error) {
	if party != cfg.Party || cfg.VaultDriver == config.DriverMemory {
		return vault.NewMemoryVault(), nil
	}
	driver, dialect := "sqlite", vault.DialectSQLite
	if cfg.VaultDriver == config.DriverPostgres {
		driver, dialect = "postgres", vault.DialectPostgres
	}
	db, err := sql.Open(driver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open %s vault: %w", driver, err)
	}
	n.closers = append(n.closers, func(context.Context) error { return db.Close() })
	if dialect == vault.DialectSQLite {
		db.SetMaxOpenConns(1)
	}
	store := vault.NewSQLVault(db, dialect)
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	slog.Default().InfoContext(ctx, "vault opened", "party", party, "driver", driver)
	return store, nil
}

// Node returns the node at position i of the profile.
func (n *network) Node(i int) *flow.Node {
	return n.nodes[i]
}

// Close releases databases and flushes telemetry.
func (n *network) Close(ctx context.Context) error {
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		errs = append(errs, n.closers[i](ctx))
	}
	return errors.Join(errs...)
}
