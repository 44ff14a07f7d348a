package magink

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"magink/core/events"
	"magink/crypto"
)

type mockState struct {
	profiles map[[20]byte]*Profile
	minted   map[[20]byte]bool
	nextID   *uint256.Int
}

func newMockState() *mockState {
	return &mockState{
		profiles: make(map[[20]byte]*Profile),
		minted:   make(map[[20]byte]bool),
	}
}

func (m *mockState) MaginkProfileGet(addr [20]byte) (*Profile, bool, error) {
	profile, ok := m.profiles[addr]
	if !ok {
		return nil, false, nil
	}
	return profile.Clone(), true, nil
}

func (m *mockState) MaginkProfilePut(addr [20]byte, profile *Profile) error {
	m.profiles[addr] = profile.Clone()
	return nil
}

func (m *mockState) MaginkMinted(addr [20]byte) (bool, error) {
	return m.minted[addr], nil
}

func (m *mockState) MaginkSetMinted(addr [20]byte) error {
	m.minted[addr] = true
	return nil
}

func (m *mockState) MaginkNextID() (*uint256.Int, error) {
	if m.nextID == nil {
		return uint256.NewInt(0), nil
	}
	return m.nextID.Clone(), nil
}

func (m *mockState) MaginkSetNextID(id *uint256.Int) error {
	m.nextID = id.Clone()
	return nil
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) { r.events = append(r.events, evt) }

type chain struct {
	height uint64
}

func (c *chain) advance(n uint64) { c.height += n }

func testAccount(b byte) crypto.Address {
	var raw [20]byte
	raw[19] = b
	return crypto.NewAddress(crypto.AccountPrefix, raw[:])
}

func newTestEngine(t *testing.T) (*Engine, *mockState, *chain) {
	t.Helper()
	st := newMockState()
	c := &chain{}
	engine := NewEngine()
	engine.SetState(st)
	engine.SetHeightFunc(func() uint64 { return c.height })
	return engine, st, c
}

func mustRemaining(t *testing.T, e *Engine, account crypto.Address) uint8 {
	t.Helper()
	left, err := e.RemainingFor(account)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	return left
}

func mustBadges(t *testing.T, e *Engine, account crypto.Address) uint8 {
	t.Helper()
	badges, err := e.BadgesFor(account)
	if err != nil {
		t.Fatalf("badges: %v", err)
	}
	return badges
}

func TestUnknownAccountDefaults(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	stranger := testAccount(7)

	if left := mustRemaining(t, engine, stranger); left != 0 {
		t.Fatalf("expected 0 remaining, got %d", left)
	}
	if badges := mustBadges(t, engine, stranger); badges != 0 {
		t.Fatalf("expected 0 badges, got %d", badges)
	}
	profile, err := engine.AccountProfile(stranger)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile != nil {
		t.Fatalf("expected no profile, got %+v", profile)
	}
}

func TestStartWorks(t *testing.T) {
	engine, _, c := newTestEngine(t)
	alice := testAccount(1)
	c.height = 42

	profile, err := engine.Start(alice, 10)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if profile.ClaimEra != 10 || profile.StartBlock != 42 || profile.BadgesClaimed != 0 || profile.NftClaimed {
		t.Fatalf("unexpected profile %+v", profile)
	}
	if left := mustRemaining(t, engine, alice); left != 10 {
		t.Fatalf("expected 10 remaining, got %d", left)
	}
	c.advance(1)
	if left := mustRemaining(t, engine, alice); left != 9 {
		t.Fatalf("expected 9 remaining, got %d", left)
	}
	c.advance(9)
	if left := mustRemaining(t, engine, alice); left != 0 {
		t.Fatalf("expected 0 remaining after full era, got %d", left)
	}
	c.advance(100)
	if left := mustRemaining(t, engine, alice); left != 0 {
		t.Fatalf("expected 0 remaining long after era, got %d", left)
	}
}

func TestClaimWorks(t *testing.T) {
	const era = 10
	engine, _, c := newTestEngine(t)
	alice := testAccount(1)

	if _, err := engine.Start(alice, era); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.advance(era - 1)
	if left := mustRemaining(t, engine, alice); left != 1 {
		t.Fatalf("expected 1 remaining, got %d", left)
	}
	if _, err := engine.Claim(alice); !errors.Is(err, ErrTooEarlyToClaim) {
		t.Fatalf("expected ErrTooEarlyToClaim, got %v", err)
	}

	c.advance(1)
	if _, err := engine.Claim(alice); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if badges := mustBadges(t, engine, alice); badges != 1 {
		t.Fatalf("expected 1 badge, got %d", badges)
	}
	if left := mustRemaining(t, engine, alice); left != era {
		t.Fatalf("expected %d remaining after claim, got %d", era, left)
	}

	if _, err := engine.Claim(alice); !errors.Is(err, ErrTooEarlyToClaim) {
		t.Fatalf("expected ErrTooEarlyToClaim, got %v", err)
	}
	c.advance(1)
	if left := mustRemaining(t, engine, alice); left != 9 {
		t.Fatalf("expected 9 remaining, got %d", left)
	}
	if _, err := engine.Claim(alice); !errors.Is(err, ErrTooEarlyToClaim) {
		t.Fatalf("expected ErrTooEarlyToClaim, got %v", err)
	}
}

func TestClaimWithoutStartIsUserNotFound(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	bob := testAccount(2)

	if _, err := engine.Claim(bob); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if len(st.profiles) != 0 {
		t.Fatalf("claim without start must not create a profile")
	}
}

func TestBadgesStrictlyIncrease(t *testing.T) {
	engine, _, c := newTestEngine(t)
	alice := testAccount(1)
	if _, err := engine.Start(alice, 3); err != nil {
		t.Fatalf("start: %v", err)
	}
	var last uint8
	for i := 0; i < 20; i++ {
		c.advance(3)
		if _, err := engine.Claim(alice); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		badges := mustBadges(t, engine, alice)
		if badges != last+1 {
			t.Fatalf("claim %d: expected %d badges, got %d", i, last+1, badges)
		}
		last = badges
	}
}

func TestZeroEraAllowsRepeatedClaimsInSameBlock(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	alice := testAccount(1)
	if _, err := engine.Start(alice, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := engine.Claim(alice); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
	}
	if badges := mustBadges(t, engine, alice); badges != 3 {
		t.Fatalf("expected 3 badges, got %d", badges)
	}
}

func TestRestartForfeitsProgress(t *testing.T) {
	engine, _, c := newTestEngine(t)
	alice := testAccount(1)
	if _, err := engine.Start(alice, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.advance(1)
	if _, err := engine.Claim(alice); err != nil {
		t.Fatalf("claim: %v", err)
	}
	c.advance(5)
	profile, err := engine.Start(alice, 20)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if profile.BadgesClaimed != 0 || profile.ClaimEra != 20 || profile.StartBlock != c.height {
		t.Fatalf("unexpected profile after restart %+v", profile)
	}
}

func TestBadgeOverflowAborts(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	alice := testAccount(1)
	st.profiles[alice.Array()] = &Profile{BadgesClaimed: 255}

	_, err := engine.Claim(alice)
	if !errors.Is(err, ErrBadgeOverflow) {
		t.Fatalf("expected ErrBadgeOverflow, got %v", err)
	}
	if IsDomainError(err) {
		t.Fatalf("overflow must not be a domain error")
	}
	if st.profiles[alice.Array()].BadgesClaimed != 255 {
		t.Fatalf("overflow must not mutate the profile")
	}
}

func TestRemainingDoesNotUnderflow(t *testing.T) {
	engine, st, c := newTestEngine(t)
	alice := testAccount(1)
	c.height = 5
	st.profiles[alice.Array()] = &Profile{ClaimEra: 4, StartBlock: 9}
	if left := mustRemaining(t, engine, alice); left != 4 {
		t.Fatalf("expected full era when start is ahead of height, got %d", left)
	}
}

func TestClaimEmitsEvents(t *testing.T) {
	engine, _, c := newTestEngine(t)
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)
	alice := testAccount(1)

	if _, err := engine.Start(alice, 2); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.advance(2)
	if _, err := engine.Claim(alice); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(emitter.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(emitter.events))
	}
	if emitter.events[0].EventType() != EventTypeEraStarted {
		t.Fatalf("unexpected first event %s", emitter.events[0].EventType())
	}
	claimed := events.ToTypes(emitter.events[1])
	if claimed.Type != EventTypeBadgeClaimed || claimed.Attributes["badges"] != "1" || claimed.Attributes["account"] != alice.String() {
		t.Fatalf("unexpected claim event %+v", claimed)
	}
}

func TestFailedClaimEmitsNothing(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)
	if _, err := engine.Claim(testAccount(3)); err == nil {
		t.Fatalf("expected error")
	}
	if len(emitter.events) != 0 {
		t.Fatalf("expected no events, got %d", len(emitter.events))
	}
}

func TestErrorNames(t *testing.T) {
	cases := []struct {
		err  error
		name string
	}{
		{ErrTooEarlyToClaim, "TooEarlyToClaim"},
		{ErrUserNotFound, "UserNotFound"},
		{ErrNotEnoughBadges, "NotEnoughBadges"},
		{ErrNftAlreadyClaimed, "NftAlreadyClaimed"},
		{ErrMintError, "MintError"},
		{ErrBadgeOverflow, ""},
		{ErrIssuanceAborted, ""},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := ErrorName(tc.err); got != tc.name {
			t.Fatalf("ErrorName(%v) = %q, want %q", tc.err, got, tc.name)
		}
	}
}
