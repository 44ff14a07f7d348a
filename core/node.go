package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"magink/core/events"
	"magink/core/issuance"
	nhbstate "magink/core/state"
	"magink/crypto"
	"magink/native/magink"
	"magink/native/wizard"
	"magink/observability/metrics"
	telemetry "magink/observability/otel"
	"magink/storage"
)

// MaginkModule names the coordinator's module account.
const MaginkModule = "magink"

var (
	// ErrAborted marks an operation that was rolled back in full.
	ErrAborted = errors.New("node: operation aborted")
	// ErrNativeIssuerRequired is returned by wizard queries when the node
	// mints through an external issuer.
	ErrNativeIssuerRequired = errors.New("node: native wizard collection not enabled")
)

// Options configures a Node.
type Options struct {
	Magink magink.Config
	// Issuer mints through an external service. When nil the node hosts
	// the wizard collection itself.
	Issuer issuance.Service
	// Collection is the metadata collection id of the external issuer.
	Collection  []byte
	Logger      *slog.Logger
	Instruments *telemetry.Instruments
}

// Node hosts the magink engine. Every operation runs under one lock against
// a fresh state overlay that is committed when the operation succeeds or
// fails with a domain error, and discarded otherwise.
type Node struct {
	db          storage.Database
	cfg         magink.Config
	external    issuance.Service
	collection  []byte
	account     crypto.Address
	logger      *slog.Logger
	metrics     *metrics.MaginkMetrics
	instruments *telemetry.Instruments
	tracer      trace.Tracer

	stateMu sync.Mutex
	height  uint64

	stream eventStream
}

// NewNode opens the node on db and restores the persisted height.
func NewNode(db storage.Database, opts Options) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database required")
	}
	cfg := opts.Magink
	if cfg == (magink.Config{}) {
		cfg = magink.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	height, err := nhbstate.NewManager(db).Height()
	if err != nil {
		return nil, fmt.Errorf("node: load height: %w", err)
	}
	n := &Node{
		db:          db,
		cfg:         cfg,
		external:    opts.Issuer,
		collection:  append([]byte(nil), opts.Collection...),
		account:     crypto.ModuleAddress(MaginkModule),
		logger:      logger.With("component", "node"),
		metrics:     metrics.Magink(),
		instruments: opts.Instruments,
		tracer:      otel.Tracer("magink/core"),
		height:      height,
	}
	n.metrics.SetHeight(height)
	return n, nil
}

// MaginkAccount returns the coordinator's module account.
func (n *Node) MaginkAccount() crypto.Address { return n.account }

// Config returns the engine configuration.
func (n *Node) Config() magink.Config { return n.cfg }

// NativeIssuer reports whether the node hosts the wizard collection.
func (n *Node) NativeIssuer() bool { return n.external == nil }

// opContext is the per-operation view handed to operation bodies.
type opContext struct {
	manager    *nhbstate.Manager
	engine     *magink.Engine
	collection *wizard.Collection
	buffer     *events.Buffer
}

func (n *Node) newOpContext() *opContext {
	manager := nhbstate.NewManager(n.db)
	buffer := &events.Buffer{}

	engine := magink.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(buffer)
	engine.SetConfig(n.cfg)
	engine.SetHeightFunc(func() uint64 { return n.height })

	op := &opContext{manager: manager, engine: engine, buffer: buffer}
	if n.external != nil {
		engine.SetIssuer(n.external, n.collection)
		return op
	}
	collection := wizard.NewCollection()
	collection.SetState(manager)
	collection.SetEmitter(buffer)
	engine.SetIssuer(wizard.NewIssuer(collection, n.account), collection.ID())
	op.collection = collection
	return op
}

type execMode uint8

const (
	execWrite execMode = iota
	execRead
	execDryRun
)

// execute runs body as one atomic unit.
func (n *Node) execute(ctx context.Context, name string, mode execMode, body func(ctx context.Context, op *opContext) error) (err error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	ctx, span := n.tracer.Start(ctx, "node."+name, trace.WithAttributes(attribute.Int64("height", int64(n.height))))
	defer span.End()
	started := time.Now()
	op := n.newOpContext()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrAborted, r)
		}
		outcome, ferr := n.finish(name, mode, op, err)
		if ferr != nil {
			err = ferr
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		} else {
			span.SetStatus(codes.Ok, outcome)
		}
		n.metrics.ObserveOperation(name, outcome, time.Since(started))
		n.instruments.RecordOperation(ctx, name, outcome)
	}()

	return body(ctx, op)
}

// finish commits or discards the overlay and returns the outcome label. A
// failed commit is returned as an abort.
func (n *Node) finish(name string, mode execMode, op *opContext, err error) (string, error) {
	outcome := "ok"
	if err != nil {
		outcome = magink.ErrorName(err)
	}
	commit := err == nil || outcome != ""
	switch {
	case !commit && mode == execRead:
		op.manager.Discard()
		return "error", nil
	case !commit:
		op.manager.Discard()
		op.buffer.Reset()
		n.metrics.ObserveAbort(name)
		n.logger.Warn("operation aborted", "op", name, "error", err)
		return "aborted", nil
	case mode != execWrite:
		op.manager.Discard()
		op.buffer.Reset()
		return outcome, nil
	}
	if cerr := op.manager.Commit(); cerr != nil {
		op.buffer.Reset()
		n.metrics.ObserveAbort(name)
		n.logger.Error("commit failed", "op", name, "error", cerr)
		return "aborted", fmt.Errorf("%w: commit: %w", ErrAborted, cerr)
	}
	for _, evt := range op.buffer.Drain() {
		n.publish(evt)
	}
	return outcome, nil
}

// Start (re)starts the caller's claim era.
func (n *Node) Start(ctx context.Context, caller crypto.Address, era uint8) (*magink.Profile, error) {
	var profile *magink.Profile
	err := n.execute(ctx, "start", execWrite, func(_ context.Context, op *opContext) error {
		var err error
		profile, err = op.engine.Start(caller, era)
		return err
	})
	if err != nil {
		return nil, err
	}
	n.logger.Info("era started", "account", caller.String(), "height", profile.StartBlock)
	return profile, nil
}

// Claim awards the caller one badge.
func (n *Node) Claim(ctx context.Context, caller crypto.Address) (*magink.Profile, error) {
	var profile *magink.Profile
	err := n.execute(ctx, "claim", execWrite, func(_ context.Context, op *opContext) error {
		var err error
		profile, err = op.engine.Claim(caller)
		return err
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// MintWizard runs the mint coordinator for caller. With dryRun the outcome
// is computed and then discarded. Against an external issuer a dry run is
// refused, since the issuer side effect cannot be undone.
func (n *Node) MintWizard(ctx context.Context, caller crypto.Address, dryRun bool) (*uint256.Int, error) {
	mode := execWrite
	if dryRun {
		if n.external != nil {
			return nil, fmt.Errorf("node: dry run requires the native wizard collection")
		}
		mode = execDryRun
	}
	var id *uint256.Int
	err := n.execute(ctx, "mint_wizard", mode, func(ctx context.Context, op *opContext) error {
		var err error
		id, err = op.engine.MintWizard(ctx, caller)
		return err
	})
	if err != nil {
		if errors.Is(err, magink.ErrIssuanceAborted) {
			err = fmt.Errorf("%w: %w", ErrAborted, err)
		}
		return nil, err
	}
	if !dryRun {
		n.metrics.ObserveMint(n.cfg.Mode.String())
		n.instruments.RecordMint(ctx, n.cfg.Mode.String())
		n.logger.Info("wizard minted", "account", caller.String(), "tokenId", id.Dec())
	}
	return id, nil
}

// Remaining returns the caller's blocks until the next claim.
func (n *Node) Remaining(ctx context.Context, caller crypto.Address) (uint8, error) {
	var left uint8
	err := n.execute(ctx, "get_remaining", execRead, func(_ context.Context, op *opContext) error {
		var err error
		left, err = op.engine.Remaining(caller)
		return err
	})
	return left, err
}

// RemainingFor returns account's blocks until its next claim.
func (n *Node) RemainingFor(ctx context.Context, account crypto.Address) (uint8, error) {
	var left uint8
	err := n.execute(ctx, "get_remaining_for", execRead, func(_ context.Context, op *opContext) error {
		var err error
		left, err = op.engine.RemainingFor(account)
		return err
	})
	return left, err
}

// Badges returns the caller's badge count.
func (n *Node) Badges(ctx context.Context, caller crypto.Address) (uint8, error) {
	var badges uint8
	err := n.execute(ctx, "get_badges", execRead, func(_ context.Context, op *opContext) error {
		var err error
		badges, err = op.engine.Badges(caller)
		return err
	})
	return badges, err
}

// BadgesFor returns account's badge count.
func (n *Node) BadgesFor(ctx context.Context, account crypto.Address) (uint8, error) {
	var badges uint8
	err := n.execute(ctx, "get_badges_for", execRead, func(_ context.Context, op *opContext) error {
		var err error
		badges, err = op.engine.BadgesFor(account)
		return err
	})
	return badges, err
}

// Profile returns the caller's profile, nil when absent.
func (n *Node) Profile(ctx context.Context, caller crypto.Address) (*magink.Profile, error) {
	var profile *magink.Profile
	err := n.execute(ctx, "get_profile", execRead, func(_ context.Context, op *opContext) error {
		var err error
		profile, err = op.engine.Profile(caller)
		return err
	})
	return profile, err
}

// AccountProfile returns account's profile, nil when absent.
func (n *Node) AccountProfile(ctx context.Context, account crypto.Address) (*magink.Profile, error) {
	var profile *magink.Profile
	err := n.execute(ctx, "get_account_profile", execRead, func(_ context.Context, op *opContext) error {
		var err error
		profile, err = op.engine.AccountProfile(account)
		return err
	})
	return profile, err
}

// NextID returns the id of the next mint.
func (n *Node) NextID(ctx context.Context) (*uint256.Int, error) {
	var id *uint256.Int
	err := n.execute(ctx, "get_next_id", execRead, func(ctx context.Context, op *opContext) error {
		var err error
		id, err = op.engine.NextID(ctx)
		return err
	})
	return id, err
}

// IsAlreadyMinted reports whether account received its Wizard.
func (n *Node) IsAlreadyMinted(ctx context.Context, account crypto.Address) (bool, error) {
	var minted bool
	err := n.execute(ctx, "get_is_already_minted", execRead, func(ctx context.Context, op *opContext) error {
		var err error
		minted, err = op.engine.IsAlreadyMinted(ctx, account)
		return err
	})
	return minted, err
}

// TokenImage returns the collection image URL.
func (n *Node) TokenImage(ctx context.Context) (string, error) {
	var image string
	err := n.execute(ctx, "get_token_image", execRead, func(ctx context.Context, op *opContext) error {
		var err error
		image, err = op.engine.TokenImage(ctx)
		return err
	})
	return image, err
}

// WizardOwner returns the owner of the hosted collection.
func (n *Node) WizardOwner(ctx context.Context) (crypto.Address, error) {
	var owner crypto.Address
	err := n.execute(ctx, "wizard_owner", execRead, func(_ context.Context, op *opContext) error {
		if op.collection == nil {
			return ErrNativeIssuerRequired
		}
		var (
			ok  bool
			err error
		)
		owner, ok, err = op.collection.Owner()
		if err == nil && !ok {
			err = wizard.ErrNotInstantiated
		}
		return err
	})
	return owner, err
}

// WizardOwnerOf returns the holder of token id in the hosted collection.
func (n *Node) WizardOwnerOf(ctx context.Context, id *uint256.Int) (crypto.Address, error) {
	var holder crypto.Address
	err := n.execute(ctx, "wizard_owner_of", execRead, func(_ context.Context, op *opContext) error {
		if op.collection == nil {
			return ErrNativeIssuerRequired
		}
		var err error
		holder, err = op.collection.OwnerOf(id)
		return err
	})
	return holder, err
}

// Bootstrap deploys the hosted wizard collection: deployer instantiates it
// with the image attribute and hands ownership to the magink account. A
// collection already instantiated must be owned by deployer. Once the magink
// account owns the collection only a changed image is written.
func (n *Node) Bootstrap(ctx context.Context, deployer crypto.Address, image string) error {
	if n.external != nil {
		return nil
	}
	err := n.execute(ctx, "bootstrap", execWrite, func(_ context.Context, op *opContext) error {
		owner, ok, err := op.collection.Owner()
		if err != nil {
			return err
		}
		if ok && owner.Equal(n.account) {
			if image == "" {
				return nil
			}
			current, _, err := op.collection.Attribute(op.collection.ID(), "image")
			if err != nil || current == image {
				return err
			}
			return op.collection.SetAttribute(n.account, "image", image)
		}
		if !ok {
			if err := op.collection.Instantiate(deployer, image); err != nil {
				return err
			}
		}
		if err := op.collection.TransferOwnership(deployer, n.account); err != nil {
			return err
		}
		current, _, err := op.collection.Owner()
		if err != nil {
			return err
		}
		if !current.Equal(n.account) {
			return fmt.Errorf("node: wizard owner is %s, want %s", current, n.account)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("node: bootstrap wizard: %w", err)
	}
	n.logger.Info("wizard collection ready", "owner", n.account.String())
	return nil
}
