package magink

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"magink/core/issuance"
	"magink/crypto"
)

type fakeIssuer struct {
	owners    map[uint64]crypto.Address
	balances  map[crypto.Address]uint32
	attrs     map[string]string
	mintErr   error
	mintCalls []uint64
}

func newFakeIssuer() *fakeIssuer {
	return &fakeIssuer{
		owners:   make(map[uint64]crypto.Address),
		balances: make(map[crypto.Address]uint32),
		attrs:    make(map[string]string),
	}
}

func (f *fakeIssuer) Mint(_ context.Context, to crypto.Address, id *uint256.Int) error {
	f.mintCalls = append(f.mintCalls, id.Uint64())
	if f.mintErr != nil {
		return f.mintErr
	}
	if _, exists := f.owners[id.Uint64()]; exists {
		return issuance.Rejected("token exists", nil)
	}
	f.owners[id.Uint64()] = to
	f.balances[to]++
	return nil
}

func (f *fakeIssuer) TotalSupply(context.Context) (*uint256.Int, error) {
	return uint256.NewInt(uint64(len(f.owners))), nil
}

func (f *fakeIssuer) BalanceOf(_ context.Context, owner crypto.Address) (uint32, error) {
	return f.balances[owner], nil
}

func (f *fakeIssuer) Attribute(_ context.Context, collection []byte, key string) (string, bool, error) {
	value, ok := f.attrs[string(collection)+"/"+key]
	return value, ok, nil
}

var testCollection = []byte("wizard-collection")

func newMintEngine(t *testing.T, cfg Config) (*Engine, *mockState, *chain, *fakeIssuer) {
	t.Helper()
	engine, st, c := newTestEngine(t)
	issuer := newFakeIssuer()
	engine.SetIssuer(issuer, testCollection)
	engine.SetConfig(cfg)
	return engine, st, c, issuer
}

// collectBadges runs start(0) followed by n claims, advancing one block
// after each claim.
func collectBadges(t *testing.T, e *Engine, c *chain, account crypto.Address, n int) {
	t.Helper()
	_, err := e.Start(account, 0)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err := e.Claim(account)
		require.NoError(t, err)
		c.advance(1)
	}
}

func TestMintWizardScenario(t *testing.T) {
	ctx := context.Background()
	engine, _, c, issuer := newMintEngine(t, DefaultConfig())
	bob := testAccount(2)

	_, err := engine.Start(bob, 0)
	require.NoError(t, err)
	for i := 0; i < 9; i++ {
		badges, err := engine.Badges(bob)
		require.NoError(t, err)
		require.Equal(t, uint8(i), badges)

		_, err = engine.MintWizard(ctx, bob)
		require.ErrorIs(t, err, ErrNotEnoughBadges)

		_, err = engine.Claim(bob)
		require.NoError(t, err)
		c.advance(1)
	}
	badges, err := engine.Badges(bob)
	require.NoError(t, err)
	require.Equal(t, uint8(9), badges)

	next, err := engine.NextID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(0), next.Uint64())

	id, err := engine.MintWizard(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, uint64(0), id.Uint64())
	require.Equal(t, bob, issuer.owners[0])

	next, err = engine.NextID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), next.Uint64())

	_, err = engine.MintWizard(ctx, bob)
	require.ErrorIs(t, err, ErrNftAlreadyClaimed)

	next, err = engine.NextID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), next.Uint64())
	require.Len(t, issuer.mintCalls, 1)

	minted, err := engine.IsAlreadyMinted(ctx, bob)
	require.NoError(t, err)
	require.True(t, minted)

	profile, err := engine.Profile(bob)
	require.NoError(t, err)
	require.True(t, profile.NftClaimed)
}

func TestMintWizardWithoutProfile(t *testing.T) {
	engine, _, _, issuer := newMintEngine(t, DefaultConfig())
	_, err := engine.MintWizard(context.Background(), testAccount(9))
	require.ErrorIs(t, err, ErrUserNotFound)
	require.Empty(t, issuer.mintCalls)
}

func TestQuotaPolicies(t *testing.T) {
	cases := []struct {
		name   string
		policy QuotaPolicy
		badges uint8
		ok     bool
	}{
		{"at least below", QuotaPolicy{QuotaAtLeast, 9}, 8, false},
		{"at least equal", QuotaPolicy{QuotaAtLeast, 9}, 9, true},
		{"at least above", QuotaPolicy{QuotaAtLeast, 9}, 10, true},
		{"exact below", QuotaPolicy{QuotaExact, 9}, 8, false},
		{"exact equal", QuotaPolicy{QuotaExact, 9}, 9, true},
		{"exact above", QuotaPolicy{QuotaExact, 9}, 10, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.ok, tc.policy.Satisfied(tc.badges))

			engine, _, c, _ := newMintEngine(t, Config{Quota: tc.policy, Mode: ModeLocal})
			account := testAccount(4)
			collectBadges(t, engine, c, account, int(tc.badges))
			_, err := engine.MintWizard(context.Background(), account)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrNotEnoughBadges)
			}
		})
	}
}

func TestQuotaPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultQuotaPolicy().Validate())
	require.Error(t, QuotaPolicy{Comparison: QuotaExact}.Validate())
	require.Error(t, QuotaPolicy{Comparison: 7, Threshold: 9}.Validate())

	cmp, err := ParseQuotaComparison("exact")
	require.NoError(t, err)
	require.Equal(t, QuotaExact, cmp)
	_, err = ParseQuotaComparison("most")
	require.Error(t, err)
}

func TestMintApplicationErrorLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	engine, st, c, issuer := newMintEngine(t, DefaultConfig())
	alice := testAccount(1)
	collectBadges(t, engine, c, alice, 9)

	issuer.mintErr = issuance.Rejected("caller is not owner", nil)
	_, err := engine.MintWizard(ctx, alice)
	require.ErrorIs(t, err, ErrMintError)
	require.True(t, IsDomainError(err))
	require.False(t, st.minted[alice.Array()])
	require.Nil(t, st.nextID)
	require.False(t, st.profiles[alice.Array()].NftClaimed)

	issuer.mintErr = nil
	id, err := engine.MintWizard(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(0), id.Uint64())
}

func TestMintAbortIsNotMintError(t *testing.T) {
	engine, st, c, issuer := newMintEngine(t, DefaultConfig())
	alice := testAccount(1)
	collectBadges(t, engine, c, alice, 9)

	issuer.mintErr = errors.New("connection reset")
	_, err := engine.MintWizard(context.Background(), alice)
	require.ErrorIs(t, err, ErrIssuanceAborted)
	require.False(t, errors.Is(err, ErrMintError))
	require.False(t, IsDomainError(err))
	require.False(t, st.minted[alice.Array()])
}

func TestRestartAfterMintKeepsFlag(t *testing.T) {
	ctx := context.Background()
	engine, _, c, _ := newMintEngine(t, DefaultConfig())
	alice := testAccount(1)
	collectBadges(t, engine, c, alice, 9)
	_, err := engine.MintWizard(ctx, alice)
	require.NoError(t, err)

	collectBadges(t, engine, c, alice, 9)
	profile, err := engine.Profile(alice)
	require.NoError(t, err)
	require.True(t, profile.NftClaimed)
	require.Equal(t, uint8(9), profile.BadgesClaimed)

	_, err = engine.MintWizard(ctx, alice)
	require.ErrorIs(t, err, ErrNftAlreadyClaimed)
}

func TestAlreadyMintedCheckedBeforeQuota(t *testing.T) {
	engine, st, _, _ := newMintEngine(t, DefaultConfig())
	alice := testAccount(1)
	st.profiles[alice.Array()] = &Profile{BadgesClaimed: 2}
	st.minted[alice.Array()] = true
	_, err := engine.MintWizard(context.Background(), alice)
	require.ErrorIs(t, err, ErrNftAlreadyClaimed)
}

func TestDistinctIDsAcrossAccounts(t *testing.T) {
	for _, mode := range []IDMode{ModeLocal, ModeQueried} {
		t.Run(mode.String(), func(t *testing.T) {
			ctx := context.Background()
			engine, _, c, issuer := newMintEngine(t, Config{Quota: DefaultQuotaPolicy(), Mode: mode})
			seen := make(map[uint64]bool)
			for i := byte(1); i <= 5; i++ {
				account := testAccount(i)
				collectBadges(t, engine, c, account, 9)
				id, err := engine.MintWizard(ctx, account)
				require.NoError(t, err)
				require.False(t, seen[id.Uint64()], "id %d reused", id.Uint64())
				seen[id.Uint64()] = true
				require.Equal(t, uint64(i-1), id.Uint64())
			}
			require.Len(t, issuer.owners, 5)
			next, err := engine.NextID(ctx)
			require.NoError(t, err)
			require.Equal(t, uint64(5), next.Uint64())
		})
	}
}

func TestQueriedModeUsesIssuerBalance(t *testing.T) {
	ctx := context.Background()
	engine, st, c, issuer := newMintEngine(t, Config{Quota: DefaultQuotaPolicy(), Mode: ModeQueried})
	alice := testAccount(1)
	collectBadges(t, engine, c, alice, 9)

	// A token minted to alice outside of the coordinator.
	issuer.owners[40] = alice
	issuer.balances[alice] = 1

	minted, err := engine.IsAlreadyMinted(ctx, alice)
	require.NoError(t, err)
	require.True(t, minted)
	require.False(t, st.minted[alice.Array()])

	_, err = engine.MintWizard(ctx, alice)
	require.ErrorIs(t, err, ErrNftAlreadyClaimed)

	next, err := engine.NextID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), next.Uint64())
	require.Nil(t, st.nextID)
}

func TestTokenImage(t *testing.T) {
	ctx := context.Background()
	engine, _, _, issuer := newMintEngine(t, DefaultConfig())

	_, err := engine.TokenImage(ctx)
	require.ErrorIs(t, err, ErrNoMetadata)

	issuer.attrs[string(testCollection)+"/image"] = "ipfs://wizard"
	image, err := engine.TokenImage(ctx)
	require.NoError(t, err)
	require.Equal(t, "ipfs://wizard", image)
}

func TestMintEmitsEventOnlyOnSuccess(t *testing.T) {
	ctx := context.Background()
	engine, _, c, issuer := newMintEngine(t, DefaultConfig())
	alice := testAccount(1)
	collectBadges(t, engine, c, alice, 9)

	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)
	issuer.mintErr = issuance.Rejected("paused", nil)
	_, err := engine.MintWizard(ctx, alice)
	require.Error(t, err)
	require.Empty(t, emitter.events)

	issuer.mintErr = nil
	_, err = engine.MintWizard(ctx, alice)
	require.NoError(t, err)
	require.Len(t, emitter.events, 1)
	require.Equal(t, EventTypeWizardMinted, emitter.events[0].EventType())
}

// trackingIssuer reports token holders and can lose the acknowledgement of
// a mint it has already performed.
type trackingIssuer struct {
	*fakeIssuer
	lostAcks int
}

func (f *trackingIssuer) Mint(ctx context.Context, to crypto.Address, id *uint256.Int) error {
	if err := f.fakeIssuer.Mint(ctx, to, id); err != nil {
		return err
	}
	if f.lostAcks > 0 {
		f.lostAcks--
		return context.DeadlineExceeded
	}
	return nil
}

func (f *trackingIssuer) OwnerOf(_ context.Context, id *uint256.Int) (crypto.Address, bool, error) {
	owner, ok := f.owners[id.Uint64()]
	return owner, ok, nil
}

func TestMintRecoversTokenIssuedBeforeAbort(t *testing.T) {
	ctx := context.Background()
	engine, st, c := newTestEngine(t)
	issuer := &trackingIssuer{fakeIssuer: newFakeIssuer(), lostAcks: 1}
	engine.SetIssuer(issuer, testCollection)
	engine.SetConfig(DefaultConfig())
	alice, bob := testAccount(1), testAccount(2)
	collectBadges(t, engine, c, alice, 9)
	collectBadges(t, engine, c, bob, 9)

	_, err := engine.MintWizard(ctx, alice)
	require.ErrorIs(t, err, ErrIssuanceAborted)
	require.Equal(t, alice, issuer.owners[0])
	require.False(t, st.minted[alice.Array()])

	id, err := engine.MintWizard(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(0), id.Uint64())
	require.True(t, st.minted[alice.Array()])
	require.Equal(t, []uint64{0}, issuer.mintCalls)

	id, err = engine.MintWizard(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id.Uint64())
	require.Equal(t, bob, issuer.owners[1])

	next, err := engine.NextID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), next.Uint64())
}

func TestMintRefusesIDHeldByAnotherAccount(t *testing.T) {
	ctx := context.Background()
	engine, st, c := newTestEngine(t)
	issuer := &trackingIssuer{fakeIssuer: newFakeIssuer()}
	engine.SetIssuer(issuer, testCollection)
	engine.SetConfig(DefaultConfig())
	alice := testAccount(1)
	collectBadges(t, engine, c, alice, 9)
	issuer.owners[0] = testAccount(7)

	_, err := engine.MintWizard(ctx, alice)
	require.ErrorIs(t, err, ErrMintError)
	require.Empty(t, issuer.mintCalls)
	require.False(t, st.minted[alice.Array()])
	require.Nil(t, st.nextID)
}
