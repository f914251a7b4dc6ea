package application_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/viralforge/chainraise/internal/adapters/assets"
	"github.com/viralforge/chainraise/internal/adapters/cache"
	"github.com/viralforge/chainraise/internal/adapters/memory"
	"github.com/viralforge/chainraise/internal/application"
	"github.com/viralforge/chainraise/internal/contracts"
	"github.com/viralforge/chainraise/internal/domain"
	"github.com/viralforge/chainraise/internal/ports"
)

const (
	token   = "0xdac17f958d2ee523a2206206994597c13d831ec7"
	creator = "0xc0ffee0000000000000000000000000000000001"
	alice   = "0xa11ce00000000000000000000000000000000002"
	bob     = "0xb0b0000000000000000000000000000000000003"
	escrow  = "0xe5c0000000000000000000000000000000000004"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// hookGateway lets a test observe or re-enter the service from inside a transfer.
type hookGateway struct {
	inner  ports.AssetGateway
	onPull func(ctx context.Context) error
	onPush func(ctx context.Context) error
	pulls  atomic.Int32
	pushes atomic.Int32
}

func (g *hookGateway) Pull(ctx context.Context, asset, from string, amount *big.Int) error {
	if g.onPull != nil {
		if err := g.onPull(ctx); err != nil {
			return err
		}
	}
	if err := g.inner.Pull(ctx, asset, from, amount); err != nil {
		return err
	}
	g.pulls.Add(1)
	return nil
}

func (g *hookGateway) Push(ctx context.Context, asset, to string, amount *big.Int) error {
	if g.onPush != nil {
		if err := g.onPush(ctx); err != nil {
			return err
		}
	}
	if err := g.inner.Push(ctx, asset, to, amount); err != nil {
		return err
	}
	g.pushes.Add(1)
	return nil
}

// flakyTransactor fails the commit of every unit of work once armed.
type flakyTransactor struct {
	inner ports.Transactor
	armed atomic.Bool
}

var errCommit = errors.New("commit failed")

func (f *flakyTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, repos ports.TxRepositories) error) error {
	return f.inner.WithinTx(ctx, func(ctx context.Context, repos ports.TxRepositories) error {
		if err := fn(ctx, repos); err != nil {
			return err
		}
		if f.armed.Load() {
			return errCommit
		}
		return nil
	})
}

type harness struct {
	svc     *application.Service
	store   *memory.Store
	ledger  *assets.Ledger
	gateway *hookGateway
	tx      *flakyTransactor
	clock   *fakeClock
}

func newHarness(t *testing.T, policy domain.NullAssetPolicy) *harness {
	t.Helper()
	return buildHarness(t, policy, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// buildHarness lets a test wrap the idempotency store and observe service logs.
func buildHarness(t *testing.T, policy domain.NullAssetPolicy, wrapIdem func(ports.IdempotencyRepository) ports.IdempotencyRepository, logger *slog.Logger) *harness {
	t.Helper()
	store := memory.NewStore()
	var idem ports.IdempotencyRepository = store.Idempotency()
	if wrapIdem != nil {
		idem = wrapIdem(idem)
	}
	ledger := assets.NewLedger(assets.DefaultTokens)
	gw := &hookGateway{inner: assets.NewGateway(ledger, escrow)}
	tx := &flakyTransactor{inner: store}
	clock := &fakeClock{now: t0}
	svc := application.NewService(application.Dependencies{
		Config:        application.Config{NullAssetPolicy: policy},
		Campaigns:     store.Campaigns(),
		Contributions: store.Contributions(),
		Transactor:    tx,
		Idempotency:   idem,
		Gateway:       gw,
		Locker:        cache.NewLocalLocker(),
		Clock:         clock,
		Logger:        logger,
	})
	return &harness{svc: svc, store: store, ledger: ledger, gateway: gw, tx: tx, clock: clock}
}

func as(subject string) application.Actor {
	return application.Actor{SubjectID: subject, RequestID: "req-" + subject}
}

func (h *harness) create(t *testing.T, goal int64) uint64 {
	t.Helper()
	c, err := h.svc.CreateCampaign(context.Background(), as(creator), application.CreateCampaignInput{
		Asset:       token,
		Goal:        big.NewInt(goal),
		Deadline:    h.clock.Now().Add(60 * time.Second),
		Description: []byte("42"),
	})
	if err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}
	return c.ID
}

func (h *harness) fund(t *testing.T, funder string, id uint64, amount int64) domain.Transfer {
	t.Helper()
	h.give(t, funder, amount)
	tr, err := h.svc.Fund(context.Background(), as(funder), application.FundInput{CampaignID: id, Amount: big.NewInt(amount)})
	if err != nil {
		t.Fatalf("Fund: %v", err)
	}
	return tr
}

// give mints amount of token to funder and raises its allowance to the escrow by
// the same amount.
func (h *harness) give(t *testing.T, funder string, amount int64) {
	t.Helper()
	ctx := context.Background()
	v := big.NewInt(amount)
	if err := h.ledger.Mint(ctx, token, funder, v); err != nil {
		t.Fatalf("mint: %v", err)
	}
	allowed, err := h.ledger.Allowance(ctx, token, funder, escrow)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if err := h.ledger.Approve(ctx, token, funder, escrow, allowed.Add(allowed, v)); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func (h *harness) balance(t *testing.T, asset, account string) string {
	t.Helper()
	v, err := h.ledger.BalanceOf(context.Background(), asset, account)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	return v.String()
}

func (h *harness) campaign(t *testing.T, id uint64) domain.Campaign {
	t.Helper()
	c, err := h.svc.GetCampaign(context.Background(), id)
	if err != nil {
		t.Fatalf("GetCampaign: %v", err)
	}
	return c
}

func (h *harness) stake(t *testing.T, id uint64, funder string) string {
	t.Helper()
	v, err := h.svc.GetContribution(context.Background(), id, funder)
	if err != nil {
		t.Fatalf("GetContribution: %v", err)
	}
	return v.String()
}

func (h *harness) events(t *testing.T) []contracts.EventEnvelope {
	t.Helper()
	records, err := h.store.Outbox().FetchUnpublished(context.Background(), 0)
	if err != nil {
		t.Fatalf("FetchUnpublished: %v", err)
	}
	out := make([]contracts.EventEnvelope, 0, len(records))
	for _, rec := range records {
		var env contracts.EventEnvelope
		if err := json.Unmarshal(rec.Payload, &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		out = append(out, env)
	}
	return out
}

func TestCreateCampaignAssignsDenseIDs(t *testing.T) {
	t.Parallel()
	h := newHarness(t, domain.NullAssetReject)
	for want := uint64(1); want <= 3; want++ {
		if got := h.create(t, 10); got != want {
			t.Fatalf("expected id %d, got %d", want, got)
		}
	}
	last, err := h.svc.LastCampaignID(context.Background())
	if err != nil || last != 3 {
		t.Fatalf("expected last id 3, got %d (%v)", last, err)
	}
	c := h.campaign(t, 2)
	if c.Creator != creator || c.Raised.Sign() != 0 || c.Closed || string(c.Description) != "42" {
		t.Fatalf("unexpected campaign: %+v", c)
	}
}

func TestCreateCampaignZeroGoalAlwaysInvalidAmount(t *testing.T) {
	t.Parallel()
	h := newHarness(t, domain.NullAssetReject)
	inputs := []application.CreateCampaignInput{
		{Asset: token, Goal: big.NewInt(0), Deadline: t0.Add(time.Minute)},
		{Asset: domain.NullAsset, Goal: big.NewInt(0), Deadline: t0.Add(time.Minute)},
		{Asset: token, Goal: nil, Deadline: t0.Add(-time.Minute)},
	}
	for i, in := range inputs {
		if _, err := h.svc.CreateCampaign(context.Background(), as(creator), in); !errors.Is(err, domain.ErrInvalidAmount) {
			t.Fatalf("case %d: expected InvalidAmount, got %v", i, err)
		}
	}
	if last, _ := h.svc.LastCampaignID(context.Background()); last != 0 {
		t.Fatalf("rejected creations must not allocate ids, last=%d", last)
	}
}

func TestCreateCampaignDeadlineInThePast(t *testing.T) {
	t.Parallel()
	h := newHarness(t, domain.NullAssetReject)
	for _, deadline := range []time.Time{t0, t0.Add(-time.Second), {}} {
		_, err := h.svc.CreateCampaign(context.Background(), as(creator), application.CreateCampaignInput{
			Asset: token, Goal: big.NewInt(10), Deadline: deadline,
		})
		if !errors.Is(err, domain.ErrDeadlineInThePast) {
			t.Fatalf("deadline %v: expected DeadlineInThePast, got %v", deadline, err)
		}
	}
}

func TestCreateCampaignChecksDeadlineBeforeAssetPolicy(t *testing.T) {
	t.Parallel()
	h := newHarness(t, domain.NullAssetReject)
	ctx := context.Background()

	_, err := h.svc.CreateCampaign(ctx, as(creator), application.CreateCampaignInput{
		Asset: domain.NullAsset, Goal: big.NewInt(10), Deadline: t0.Add(-time.Second),
	})
	if !errors.Is(err, domain.ErrDeadlineInThePast) {
		t.Fatalf("expected DeadlineInThePast ahead of InvalidToken, got %v", err)
	}

	_, err = h.svc.CreateCampaign(ctx, as(creator), application.CreateCampaignInput{
		Asset: token, Goal: big.NewInt(10), Deadline: t0.Add(900 * time.Millisecond),
	})
	if !errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrDeadlineInThePast) {
		t.Fatalf("expected sub-second deadline rejected as invalid input, got %v", err)
	}
	if last, _ := h.svc.LastCampaignID(ctx); last != 0 {
		t.Fatalf("rejected creations must not allocate ids, last=%d", last)
	}
}

func TestCreateCampaignNullAssetPolicy(t *testing.T) {
	t.Parallel()
	reject := newHarness(t, domain.NullAssetReject)
	for _, asset := range []string{"", domain.NullAsset} {
		_, err := reject.svc.CreateCampaign(context.Background(), as(creator), application.CreateCampaignInput{
			Asset: asset, Goal: big.NewInt(10), Deadline: t0.Add(time.Minute),
		})
		if !errors.Is(err, domain.ErrInvalidToken) {
			t.Fatalf("asset %q: expected InvalidToken, got %v", asset, err)
		}
	}

	native := newHarness(t, domain.NullAssetNative)
	c, err := native.svc.CreateCampaign(context.Background(), as(creator), application.CreateCampaignInput{
		Asset: "", Goal: big.NewInt(5), Deadline: t0.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("native create: %v", err)
	}
	if !c.IsNative() || c.Asset != domain.NullAsset {
		t.Fatalf("expected native campaign, got asset %q", c.Asset)
	}
	if err := native.ledger.Mint(context.Background(), domain.NullAsset, alice, big.NewInt(5)); err != nil {
		t.Fatalf("mint native: %v", err)
	}
	if _, err := native.svc.Fund(context.Background(), as(alice), application.FundInput{CampaignID: c.ID, Amount: big.NewInt(5)}); err != nil {
		t.Fatalf("native fund: %v", err)
	}
	if _, err := native.svc.Withdraw(context.Background(), as(creator), c.ID); err != nil {
		t.Fatalf("native withdraw: %v", err)
	}
	if got := native.balance(t, domain.NullAsset, creator); got != "5" {
		t.Fatalf("expected creator native balance 5, got %s", got)
	}
}

func TestFundAccumulatesPerFunder(t *testing.T) {
	t.Parallel()
	h := newHarness(t, domain.NullAssetReject)
	id := h.create(t, 100)
	h.fund(t, alice, id, 3)
	h.fund(t, bob, id, 4)
	tr := h.fund(t, alice, id, 5)
	if !tr.IsDeposit || tr.Account != alice || tr.Amount.String() != "5" {
		t.Fatalf("unexpected transfer: %+v", tr)
	}
	if got := h.campaign(t, id).Raised.String(); got != "12" {
		t.Fatalf("expected raised 12, got %s", got)
	}
	if got := h.stake(t, id, alice); got != "8" {
		t.Fatalf("expected alice stake 8, got %s", got)
	}
	if got := h.stake(t, id, bob); got != "4" {
		t.Fatalf("expected bob stake 4, got %s", got)
	}
	if got := h.balance(t, token, escrow); got != "12" {
		t.Fatalf("expected escrow balance 12, got %s", got)
	}
}

func TestFundGuards(t *testing.T) {
	t.Parallel()
	h := newHarness(t, domain.NullAssetReject)
	id := h.create(t, 10)
	ctx := context.Background()

	for _, bad := range []uint64{0, id + 1} {
		_, err := h.svc.Fund(ctx, as(alice), application.FundInput{CampaignID: bad, Amount: big.NewInt(1)})
		if !errors.Is(err, domain.ErrInvalidCampaign) {
			t.Fatalf("campaign %d: expected InvalidCampaign, got %v", bad, err)
		}
	}
	if _, err := h.svc.Fund(ctx, as(alice), application.FundInput{CampaignID: id, Amount: big.NewInt(0)}); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected InvalidAmount, got %v", err)
	}
	if _, err := h.svc.Fund(ctx, application.Actor{}, application.FundInput{CampaignID: id, Amount: big.NewInt(1)}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}

	h.clock.Advance(60 * time.Second)
	_, err := h.svc.Fund(ctx, as(alice), application.FundInput{CampaignID: id, Amount: big.NewInt(1)})
	var reached *domain.DeadlineReachedError
	if !errors.As(err, &reached) || !errors.Is(err, domain.ErrDeadlineReached) {
		t.Fatalf("expected DeadlineReached, got %v", err)
	}
	if !reached.Now.Equal(t0.Add(60 * time.Second)) {
		t.Fatalf("expected observed time %v, got %v", t0.Add(60*time.Second), reached.Now)
	}
	if h.gateway.pulls.Load() != 0 {
		t.Fatalf("guards must fail before any pull")
	}
}

func TestFundAfterCloseIsRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t, domain.NullAssetReject)
	id := h.create(t, 10)
	h.fund(t, alice, id, 10)
	if _, err := h.svc.Withdraw(context.Background(), as(creator), id); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	h.give(t, bob, 1)
	_, err := h.svc.Fund(context.Background(), as(bob), application.FundInput{CampaignID: id, Amount: big.NewInt(1)})
	if !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Fatalf("expected AlreadyClosed, got %v", err)
	}
	if got := h.campaign(t, id).Raised.String(); got != "10" {
		t.Fatalf("closed campaign must not change, raised=%s", got)
	}
}

func TestFundPropagatesGatewayErrorsVerbatim(t *testing.T) {
	t.Parallel()
	h := newHarness(t, domain.NullAssetReject)
	id := h.create(t, 10)
	ctx := context.Background()
	amount := big.NewInt(10)

	_, err := h.svc.Fund(ctx, as(alice), application.FundInput{CampaignID: id, Amount: amount})
	if !errors.Is(err, ports.ErrInsufficientAllowance) || err.Error() != "ERC20: insufficient allowance" {
		t.Fatalf("expected allowance error verbatim, got %v", err)
	}
	_ = h.ledger.Approve(ctx, token, alice, escrow, amount)
	_, err = h.svc.Fund(ctx, as(alice), application.FundInput{CampaignID: id, Amount: amount})
	if !errors.Is(err, ports.ErrInsufficientBalance) || err.Error() != "ERC20: transfer amount exceeds balance" {
		t.Fatalf("expected balance error verbatim, got %v", err)
	}
	if got := h.campaign(t, id).Raised.String(); got != "0" {
		t.Fatalf("failed pulls must not credit raised, got %s", got)
	}
	if got := h.stake(t, id, alice); got != "0" {
		t.Fatalf("failed pulls must not credit stake, got %s", got)
	}
	if n := len(h.events(t)); n != 1 {
		t.Fatalf("expected only the creation event, got %d", n)
	}
}

func TestWithdrawScenario(t *testing.T) {
	t.Parallel()
	h := newHarness(t, domain.NullAssetReject)
	id := h.create(t, 10)
	h.fund(t, alice, id, 10)

	tr, err := h.svc.Withdraw(context.Background(), as(creator), id)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if tr.IsDeposit || tr.Account != creator || tr.Amount.String() != "10" {
		t.Fatalf("unexpected transfer: %+v", tr)
	}
	if got := h.balance(t, token, creator); got != "10" {
		t.Fatalf("expected creator balance 10, got %s", got)
	}
	if !h.campaign(t, id).Closed {
		t.Fatalf("expected campaign closed")
	}
	if _, err := h.svc.Withdraw(context.Background(), as(creator), id); !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Fatalf("expected AlreadyClosed on second withdraw, got %v", err)
	}
	if h.gateway.pushes.Load() != 1 {
		t.Fatalf("expected exactly one push, got %d", h.gateway.pushes.Load())
	}
}

func TestWithdrawGuards(t *testing.T) {
	t.Parallel()
	h := newHarness(t, domain.NullAssetReject)
	id := h.create(t, 10)
	h.fund(t, alice, id, 9)
	ctx := context.Background()

	if _, err := h.svc.Withdraw(ctx, as(creator), 42); !errors.Is(err, domain.ErrInvalidCampaign) {
		t.Fatalf("expected InvalidCampaign, got %v", err)
	}
	_, err := h.svc.Withdraw(ctx, as(alice), id)
	var caller *domain.InvalidCallerError
	if !errors.As(err, &caller) || caller.Expected != creator {
		t.Fatalf("expected InvalidCaller(expected=%s), got %v", creator, err)
	}
	_, err = h.svc.Withdraw(ctx, as(creator), id)
	var goal *domain.GoalNotReachedError
	if !errors.As(err, &goal) || goal.Raised.String() != "9" {
		t.Fatalf("expected GoalNotReached(9), got %v", err)
	}

	h.fund(t, bob, id, 1)
	h.clock.Advance(time.Hour)
	if _, err := h.svc.Withdraw(ctx, as(creator), id); err != nil {
		t.Fatalf("withdraw is not deadline gated: %v", err)
	}
}

func TestReimburseScenario(t *testing.T) {
	t.Parallel()
	h := newHarness(t, domain.NullAssetReject)
	id := h.create(t, 10)
	h.fund(t, alice, id, 10)

	tr, err := h.svc.Reimburse(context.Background(), as(alice), id)
	if err != nil {
		t.Fatalf("Reimburse: %v", err)
	}
	if tr.IsDeposit || tr.Account != alice || tr.Amount.String() != "10" {
		t.Fatalf("unexpected transfer: %+v", tr)
	}
	if got := h.balance(t, token, alice); got != "10" {
		t.Fatalf("expected alice refunded 10, got %s", got)
	}
	if got := h.campaign(t, id).Raised.String(); got != "0" {
		t.Fatalf("expected raised 0, got %s", got)
	}
	if _, err := h.svc.Reimburse(context.Background(), as(alice), id); !errors.Is(err, domain.ErrNotFunder) {
		t.Fatalf("expected NotFunder on second reimburse, got %v", err)
	}
	_, err = h.svc.Withdraw(context.Background(), as(creator), id)
	var goal *domain.GoalNotReachedError
	if !errors.As(err, &goal) || goal.Raised.Sign() != 0 {
		t.Fatalf("expected GoalNotReached(0), got %v", err)
	}
}

func TestReimburseGuards(t *testing.T) {
	t.Parallel()
	h := newHarness(t, domain.NullAssetReject)
	id := h.create(t, 10)
	ctx := context.Background()

	if _, err := h.svc.Reimburse(ctx, as(bob), id); !errors.Is(err, domain.ErrNotFunder) {
		t.Fatalf("expected NotFunder, got %v", err)
	}
	if _, err := h.svc.Reimburse(ctx, as(bob), id+7); !errors.Is(err, domain.ErrInvalidCampaign) {
		t.Fatalf("expected InvalidCampaign, got %v", err)
	}

	h.fund(t, alice, id, 10)
	h.fund(t, bob, id, 4)
	h.clock.Advance(2 * time.Minute)
	if _, err := h.svc.Reimburse(ctx, as(bob), id); err != nil {
		t.Fatalf("reimburse after deadline and goal: %v", err)
	}
	if _, err := h.svc.Withdraw(ctx, as(creator), id); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if _, err := h.svc.Reimburse(ctx, as(alice), id); !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Fatalf("expected AlreadyClosed for unreimbursed funder, got %v", err)
	}
	if got := h.balance(t, token, creator); got != "10" {
		t.Fatalf("expected creator paid 10, got %s", got)
	}
}

func TestReentrantWithdrawIsRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t, domain.NullAssetReject)
	id := h.create(t, 10)
	h.fund(t, alice, id, 10)

	var inner error
	h.gateway.onPush = func(ctx context.Context) error {
		_, inner = h.svc.Withdraw(ctx, as(creator), id)
		return nil
	}
	if _, err := h.svc.Withdraw(context.Background(), as(creator), id); err != nil {
		t.Fatalf("outer Withdraw: %v", err)
	}
	if !errors.Is(inner, domain.ErrReentrantCall) {
		t.Fatalf("expected ReentrantCall from nested withdraw, got %v", inner)
	}
	if got := h.balance(t, token, creator); got != "10" {
		t.Fatalf("creator must be paid once, got %s", got)
	}
}

func TestReentrantReimburseIsRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t, domain.NullAssetReject)
	id := h.create(t, 10)
	h.fund(t, alice, id, 3)

	var inner error
	h.gateway.onPush = func(ctx context.Context) error {
		_, inner = h.svc.Reimburse(ctx, as(alice), id)
		return nil
	}
	if _, err := h.svc.Reimburse(context.Background(), as(alice), id); err != nil {
		t.Fatalf("outer Reimburse: %v", err)
	}
	if !errors.Is(inner, domain.ErrReentrantCall) {
		t.Fatalf("expected ReentrantCall, got %v", inner)
	}
	if got := h.balance(t, token, alice); got != "3" {
		t.Fatalf("alice must be refunded once, got %s", got)
	}
}

func TestFailedPushLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	h := newHarness(t, domain.NullAssetReject)
	id := h.create(t, 10)
	h.fund(t, alice, id, 10)
	if err := h.ledger.Transfer(context.Background(), token, escrow, "0xdrain", big.NewInt(10)); err != nil {
		t.Fatalf("drain escrow: %v", err)
	}

	if _, err := h.svc.Withdraw(context.Background(), as(creator), id); !errors.Is(err, ports.ErrInsufficientBalance) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	c := h.campaign(t, id)
	if c.Closed || c.Raised.String() != "10" {
		t.Fatalf("failed withdraw must not commit: %+v", c)
	}
	if _, err := h.svc.Reimburse(context.Background(), as(alice), id); !errors.Is(err, ports.ErrInsufficientBalance) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	if got := h.stake(t, id, alice); got != "10" {
		t.Fatalf("failed reimburse must keep stake, got %s", got)
	}
	if n := len(h.events(t)); n != 2 {
		t.Fatalf("expected create and fund events only, got %d", n)
	}
}

func TestFundCompensatesWhenCommitFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t, domain.NullAssetReject)
	id := h.create(t, 10)
	h.give(t, alice, 7)

	h.tx.armed.Store(true)
	_, err := h.svc.Fund(context.Background(), as(alice), application.FundInput{CampaignID: id, Amount: big.NewInt(7)})
	if !errors.Is(err, errCommit) {
		t.Fatalf("expected commit error, got %v", err)
	}
	h.tx.armed.Store(false)
	if got := h.balance(t, token, alice); got != "7" {
		t.Fatalf("pulled value must be returned, alice has %s", got)
	}
	if got := h.stake(t, id, alice); got != "0" {
		t.Fatalf("stake must stay zero, got %s", got)
	}
}

func TestConcurrentReimburseHasSingleWinner(t *testing.T) {
	t.Parallel()
	h := newHarness(t, domain.NullAssetReject)
	id := h.create(t, 100)
	h.fund(t, alice, id, 10)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		notFunder atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Reimburse(context.Background(), as(alice), id)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, domain.ErrNotFunder):
				notFunder.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes.Load() != 1 || notFunder.Load() != 7 {
		t.Fatalf("expected 1 success and 7 NotFunder, got %d/%d", successes.Load(), notFunder.Load())
	}
	if got := h.balance(t, token, alice); got != "10" {
		t.Fatalf("alice must be refunded exactly once, got %s", got)
	}
}

func TestConcurrentFundsKeepLedgerConsistent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, domain.NullAssetReject)
	id := h.create(t, 1000)
	funders := []string{alice, bob, "0xcarol", "0xdave"}
	for _, f := range funders {
		h.give(t, f, 50)
	}

	var wg sync.WaitGroup
	for _, f := range funders {
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(funder string) {
				defer wg.Done()
				if _, err := h.svc.Fund(context.Background(), as(funder), application.FundInput{CampaignID: id, Amount: big.NewInt(2)}); err != nil {
					t.Errorf("Fund: %v", err)
				}
			}(f)
		}
	}
	wg.Wait()

	total := new(big.Int)
	for _, f := range funders {
		v, _ := new(big.Int).SetString(h.stake(t, id, f), 10)
		if v.String() != "10" {
			t.Fatalf("expected stake 10 for %s, got %s", f, v)
		}
		total.Add(total, v)
	}
	if got := h.campaign(t, id).Raised; got.Cmp(total) != 0 {
		t.Fatalf("raised %s does not match sum of stakes %s", got, total)
	}
}

func TestIdempotentFundReplay(t *testing.T) {
	t.Parallel()
	h := newHarness(t, domain.NullAssetReject)
	id := h.create(t, 100)
	h.give(t, alice, 10)

	actor := as(alice)
	actor.IdempotencyKey = "fund-1"
	first, err := h.svc.Fund(context.Background(), actor, application.FundInput{CampaignID: id, Amount: big.NewInt(5)})
	if err != nil {
		t.Fatalf("first Fund: %v", err)
	}
	second, err := h.svc.Fund(context.Background(), actor, application.FundInput{CampaignID: id, Amount: big.NewInt(5)})
	if err != nil {
		t.Fatalf("replayed Fund: %v", err)
	}
	if first.Amount.Cmp(second.Amount) != 0 || first.Account != second.Account {
		t.Fatalf("replay mismatch: %+v vs %+v", first, second)
	}
	if h.gateway.pulls.Load() != 1 {
		t.Fatalf("replay must not pull again, pulls=%d", h.gateway.pulls.Load())
	}
	if _, err := h.svc.Fund(context.Background(), actor, application.FundInput{CampaignID: id, Amount: big.NewInt(3)}); !errors.Is(err, domain.ErrIdempotencyConflict) {
		t.Fatalf("expected IdempotencyConflict, got %v", err)
	}

	retry := as(bob)
	retry.IdempotencyKey = "fund-2"
	if _, err := h.svc.Fund(context.Background(), retry, application.FundInput{CampaignID: id, Amount: big.NewInt(1)}); !errors.Is(err, ports.ErrInsufficientAllowance) {
		t.Fatalf("expected allowance error, got %v", err)
	}
	h.give(t, bob, 1)
	if _, err := h.svc.Fund(context.Background(), retry, application.FundInput{CampaignID: id, Amount: big.NewInt(1)}); err != nil {
		t.Fatalf("failed attempts must release the key: %v", err)
	}
}

// brokenIdempotency fails Complete and, when releaseErr is set, Release.
type brokenIdempotency struct {
	ports.IdempotencyRepository
	releaseErr error
}

func (b *brokenIdempotency) Complete(context.Context, string, int, []byte, time.Time) error {
	return errors.New("idempotency store unavailable")
}

func (b *brokenIdempotency) Release(ctx context.Context, key string) error {
	if b.releaseErr != nil {
		return b.releaseErr
	}
	return b.IdempotencyRepository.Release(ctx, key)
}

func TestIdempotencyBookkeepingFailuresAreLogged(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	broken := &brokenIdempotency{}
	h := buildHarness(t, domain.NullAssetReject, func(inner ports.IdempotencyRepository) ports.IdempotencyRepository {
		broken.IdempotencyRepository = inner
		return broken
	}, slog.New(slog.NewJSONHandler(&logs, nil)))
	id := h.create(t, 100)
	h.give(t, alice, 5)

	actor := as(alice)
	actor.IdempotencyKey = "fund-1"
	if _, err := h.svc.Fund(context.Background(), actor, application.FundInput{CampaignID: id, Amount: big.NewInt(5)}); err != nil {
		t.Fatalf("Fund must succeed even when its response cannot be recorded: %v", err)
	}
	if !strings.Contains(logs.String(), "idempotent response not recorded") || !strings.Contains(logs.String(), "idempotency store unavailable") {
		t.Fatalf("expected the recording failure to be logged, got %s", logs.String())
	}
	if _, err := h.svc.Fund(context.Background(), actor, application.FundInput{CampaignID: id, Amount: big.NewInt(5)}); !errors.Is(err, domain.ErrIdempotencyConflict) {
		t.Fatalf("an unrecorded key must stay reserved, got %v", err)
	}
	if h.gateway.pulls.Load() != 1 {
		t.Fatalf("the operation must run once per key, pulls=%d", h.gateway.pulls.Load())
	}

	broken.releaseErr = errors.New("release refused")
	retry := as(bob)
	retry.IdempotencyKey = "fund-2"
	if _, err := h.svc.Fund(context.Background(), retry, application.FundInput{CampaignID: id, Amount: big.NewInt(1)}); !errors.Is(err, ports.ErrInsufficientAllowance) {
		t.Fatalf("expected allowance error, got %v", err)
	}
	if !strings.Contains(logs.String(), "idempotency reservation not released") || !strings.Contains(logs.String(), "release refused") {
		t.Fatalf("expected the release failure to be logged, got %s", logs.String())
	}
}

func TestEventsAreRecordedWithTheirStateChange(t *testing.T) {
	t.Parallel()
	h := newHarness(t, domain.NullAssetReject)
	id := h.create(t, 10)
	h.fund(t, alice, id, 10)
	if _, err := h.svc.Withdraw(context.Background(), as(creator), id); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}

	events := h.events(t)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	var created contracts.CampaignCreatedPayload
	if err := json.Unmarshal(events[0].Data, &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if events[0].EventType != domain.EventCampaignCreated || created.CampaignID != id || created.Creator != creator ||
		created.Asset != token || created.Goal != "10" || created.Deadline != t0.Add(time.Minute).Unix() || string(created.Description) != "42" {
		t.Fatalf("unexpected created payload: %+v", created)
	}

	wantDeposit := []bool{true, false}
	wantAccount := []string{alice, creator}
	for i, env := range events[1:] {
		var p contracts.FundTransferPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			t.Fatalf("decode transfer: %v", err)
		}
		if env.EventType != domain.EventFundTransfer || env.PartitionKey != "1" || p.IsDeposit != wantDeposit[i] || p.Account != wantAccount[i] || p.Amount != "10" {
			t.Fatalf("unexpected transfer event %d: %+v %+v", i, env, p)
		}
	}
}

func TestQueries(t *testing.T) {
	t.Parallel()
	h := newHarness(t, domain.NullAssetReject)
	ctx := context.Background()
	if _, err := h.svc.GetCampaign(ctx, 0); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected NotFound for id 0, got %v", err)
	}
	if _, err := h.svc.GetCampaign(ctx, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	id := h.create(t, 10)
	if got := h.stake(t, id, bob); got != "0" {
		t.Fatalf("unknown funder must read zero, got %s", got)
	}
	if _, err := h.svc.GetContribution(ctx, id+1, bob); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, err := h.svc.GetContribution(ctx, id, " "); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}
