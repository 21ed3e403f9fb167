package vault

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/boltfi/protocol-v1/internal/event"
	"github.com/boltfi/protocol-v1/internal/fixedpoint"
	"github.com/boltfi/protocol-v1/internal/guard"
	"github.com/boltfi/protocol-v1/internal/token"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	clock    *fakeClock
	operator uuid.UUID
	account  uuid.UUID
	asset    *token.Ledger
	shares   *token.Ledger
	engine   *Engine
	persist  chan event.Envelope
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clock:    &fakeClock{t: time.Unix(1_700_000_000, 0).UTC()},
		operator: uuid.New(),
		account:  uuid.New(),
		asset:    token.NewLedger("USDC"),
		shares:   token.NewLedger("vUSDC"),
		persist:  make(chan event.Envelope, 256),
	}
	g, err := guard.New(f.operator)
	if err != nil {
		t.Fatalf("guard.New: %v", err)
	}
	f.engine = NewEngine(Config{
		Guard:       g,
		Asset:       f.asset,
		Shares:      f.shares,
		Account:     f.account,
		Clock:       f.clock.now,
		Logger:      zerolog.Nop(),
		PersistChan: f.persist,
	})
	return f
}

// fund mints assets to a holder and approves the vault to spend them.
func (f *fixture) fund(t *testing.T, holder uuid.UUID, assets int64) {
	t.Helper()
	if err := f.asset.Mint(holder, assets); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.asset.Approve(holder, f.account, assets); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func (f *fixture) deposit(t *testing.T, holder uuid.UUID, assets int64) {
	t.Helper()
	f.fund(t, holder, assets)
	if err := f.engine.Deposit(holder, holder, assets); err != nil {
		t.Fatalf("deposit %d: %v", assets, err)
	}
}

// setPrice advances the clock and publishes a price so that every
// request already queued is settleable against it.
func (f *fixture) setPrice(t *testing.T, price int64) {
	t.Helper()
	f.clock.advance(time.Second)
	if err := f.engine.UpdatePrice(f.operator, price); err != nil {
		t.Fatalf("update price: %v", err)
	}
}

func TestNewEngine_StartsAtPar(t *testing.T) {
	f := newFixture(t)

	if got := f.engine.Price(); got != fixedpoint.PriceScale {
		t.Fatalf("price = %d, want %d", got, fixedpoint.PriceScale)
	}
	if got := f.engine.WithdrawalFee(); got != 0 {
		t.Fatalf("fee = %d, want 0", got)
	}
	if got := f.engine.PriceUpdatedAt(); !got.Equal(f.clock.now()) {
		t.Fatalf("priceUpdatedAt = %v, want %v", got, f.clock.now())
	}
}

func TestDeposit_AtPar(t *testing.T) {
	f := newFixture(t)
	holder := uuid.New()

	f.deposit(t, holder, 10_000)
	if got := f.asset.BalanceOf(f.operator); got != 10_000 {
		t.Fatalf("operator assets = %d, want 10000", got)
	}
	if got := len(f.engine.PendingDeposits()); got != 1 {
		t.Fatalf("pending deposits = %d, want 1", got)
	}

	if err := f.engine.ProcessDeposits(f.operator, 1); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := f.engine.TotalAssets(); got != 10_000 {
		t.Fatalf("totalAssets = %d, want 10000", got)
	}
	if got := f.engine.TotalSupply(); got != 10_000 {
		t.Fatalf("totalSupply = %d, want 10000", got)
	}
	if got := f.shares.BalanceOf(holder); got != 10_000 {
		t.Fatalf("holder shares = %d, want 10000", got)
	}
	if got := len(f.engine.PendingDeposits()); got != 0 {
		t.Fatalf("pending deposits = %d, want 0", got)
	}
}

func TestDeposit_AtPremiumPrice(t *testing.T) {
	f := newFixture(t)
	holder := uuid.New()

	f.deposit(t, holder, 10_000)
	f.setPrice(t, 1_250_000_000_000_000_000) // 1.25

	if err := f.engine.ProcessDeposits(f.operator, 1); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := f.engine.TotalSupply(); got != 8_000 {
		t.Fatalf("totalSupply = %d, want 8000", got)
	}
	if got := f.shares.BalanceOf(holder); got != 8_000 {
		t.Fatalf("holder shares = %d, want 8000", got)
	}
}

func TestDeposit_Validation(t *testing.T) {
	f := newFixture(t)
	holder := uuid.New()

	if err := f.engine.Deposit(holder, holder, 0); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("zero deposit: %v, want ErrZeroAmount", err)
	}
	if err := f.engine.Deposit(holder, holder, -5); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("negative deposit: %v, want ErrZeroAmount", err)
	}

	// No approval, no balance.
	if err := f.engine.Deposit(holder, holder, 100); !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("unfunded deposit: %v, want ErrInsufficientBalance", err)
	}

	if err := f.engine.Guard().Pause(f.operator); err != nil {
		t.Fatalf("pause: %v", err)
	}
	f.fund(t, holder, 100)
	if err := f.engine.Deposit(holder, holder, 100); !errors.Is(err, guard.ErrPaused) {
		t.Fatalf("paused deposit: %v, want ErrPaused", err)
	}
	if err := f.engine.Guard().Unpause(f.operator); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := f.engine.Deposit(holder, holder, 100); err != nil {
		t.Fatalf("deposit after unpause: %v", err)
	}
}

func TestProcessDeposits_PartialBatchFIFO(t *testing.T) {
	f := newFixture(t)

	amounts := []int64{1_000, 2_000, 3_000, 4_000, 5_000}
	holders := make([]uuid.UUID, len(amounts))
	for i, a := range amounts {
		holders[i] = uuid.New()
		f.deposit(t, holders[i], a)
	}
	f.setPrice(t, 1_250_000_000_000_000_000)

	if err := f.engine.ProcessDeposits(f.operator, 2); err != nil {
		t.Fatalf("process: %v", err)
	}

	// 1,000 and 2,000 settle at 1.25: 800 and 1,600 shares.
	if got := f.engine.TotalAssets(); got != 3_000 {
		t.Fatalf("totalAssets = %d, want 3000", got)
	}
	if got := f.engine.TotalSupply(); got != 2_400 {
		t.Fatalf("totalSupply = %d, want 2400", got)
	}
	if got := f.shares.BalanceOf(holders[0]); got != 800 {
		t.Fatalf("holder0 shares = %d, want 800", got)
	}
	if got := f.shares.BalanceOf(holders[1]); got != 1_600 {
		t.Fatalf("holder1 shares = %d, want 1600", got)
	}

	pending := f.engine.PendingDeposits()
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}
	for i, want := range []int64{3_000, 4_000, 5_000} {
		if pending[i].Assets != want {
			t.Fatalf("pending[%d].Assets = %d, want %d", i, pending[i].Assets, want)
		}
	}
}

func TestProcessDeposits_OverCountSettlesAll(t *testing.T) {
	f := newFixture(t)
	holder := uuid.New()
	f.deposit(t, holder, 1_000)
	f.deposit(t, holder, 2_000)

	if err := f.engine.ProcessDeposits(f.operator, 10); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := f.engine.TotalAssets(); got != 3_000 {
		t.Fatalf("totalAssets = %d, want 3000", got)
	}
	if got := len(f.engine.PendingDeposits()); got != 0 {
		t.Fatalf("pending = %d, want 0", got)
	}
}

func TestProcessDeposits_StalePrice(t *testing.T) {
	f := newFixture(t)
	holder := uuid.New()

	f.setPrice(t, 1_100_000_000_000_000_000)
	f.clock.advance(time.Second)
	f.deposit(t, holder, 1_000)

	err := f.engine.ProcessDeposits(f.operator, 1)
	if !errors.Is(err, ErrStalePrice) {
		t.Fatalf("process: %v, want ErrStalePrice", err)
	}
	if got := f.engine.TotalSupply(); got != 0 {
		t.Fatalf("totalSupply = %d, want 0", got)
	}
	if got := len(f.engine.PendingDeposits()); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}

	// A fresh price unblocks the same request.
	f.setPrice(t, 1_100_000_000_000_000_000)
	if err := f.engine.ProcessDeposits(f.operator, 1); err != nil {
		t.Fatalf("process after reprice: %v", err)
	}
}

func TestProcessDeposits_ConversionOverflowAborts(t *testing.T) {
	f := newFixture(t)
	holder := uuid.New()

	// At a price of 1 (1e-18 assets per share) this deposit is worth
	// 1e28 shares, outside int64. Settlement must fail before minting.
	f.deposit(t, holder, 10_000_000_000)
	f.setPrice(t, 1)

	err := f.engine.ProcessDeposits(f.operator, 1)
	if !errors.Is(err, fixedpoint.ErrOverflow) {
		t.Fatalf("process: %v, want ErrOverflow", err)
	}
	if got := f.engine.TotalSupply(); got != 0 {
		t.Fatalf("totalSupply = %d, want 0", got)
	}
	if got := f.shares.BalanceOf(holder); got != 0 {
		t.Fatalf("holder shares = %d, want 0", got)
	}
	if got := len(f.engine.PendingDeposits()); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}
}

func TestProcessDeposits_Unauthorized(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.ProcessDeposits(uuid.New(), 1); !errors.Is(err, guard.ErrUnauthorized) {
		t.Fatalf("process: %v, want ErrUnauthorized", err)
	}
}

func TestProcessDeposits_EmptyQueueNoOp(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.ProcessDeposits(f.operator, 5); err != nil {
		t.Fatalf("process empty queue: %v", err)
	}
	if got := f.engine.TotalSupply(); got != 0 {
		t.Fatalf("totalSupply = %d, want 0", got)
	}
}

// seedRedeems gives five holders 100..500 shares at price 1.25 and
// queues a full redemption from each, FIFO in holder order.
func seedRedeems(t *testing.T, f *fixture) []uuid.UUID {
	t.Helper()

	shares := []int64{100, 200, 300, 400, 500}
	holders := make([]uuid.UUID, len(shares))
	for i, s := range shares {
		holders[i] = uuid.New()
		f.deposit(t, holders[i], s*125/100)
	}
	f.setPrice(t, 1_250_000_000_000_000_000)
	if err := f.engine.ProcessDeposits(f.operator, len(shares)); err != nil {
		t.Fatalf("seed process: %v", err)
	}
	for i, s := range shares {
		if err := f.engine.Redeem(holders[i], holders[i], holders[i], s); err != nil {
			t.Fatalf("redeem %d: %v", s, err)
		}
	}
	return holders
}

func TestProcessRedeems_ExactSupply(t *testing.T) {
	f := newFixture(t)
	holders := seedRedeems(t, f)

	// 100+200+300 shares at 1.25 pay out exactly 750 assets.
	if err := f.asset.Approve(f.operator, f.account, 750); err != nil {
		t.Fatalf("approve: %v", err)
	}
	opBefore := f.asset.BalanceOf(f.operator)

	if err := f.engine.ProcessRedeems(f.operator, 3, 750); err != nil {
		t.Fatalf("process: %v", err)
	}

	for i, want := range []int64{125, 250, 375} {
		if got := f.asset.BalanceOf(holders[i]); got != want {
			t.Fatalf("holder%d assets = %d, want %d", i, got, want)
		}
	}
	if got := f.asset.BalanceOf(f.account); got != 0 {
		t.Fatalf("vault assets = %d, want 0", got)
	}
	if got := f.asset.BalanceOf(f.operator); got != opBefore-750 {
		t.Fatalf("operator assets = %d, want %d", got, opBefore-750)
	}
	if got := f.engine.TotalAssets(); got != 1_125 {
		t.Fatalf("totalAssets = %d, want 1125", got)
	}
	if got := f.engine.TotalSupply(); got != 900 {
		t.Fatalf("totalSupply = %d, want 900", got)
	}
	if got := len(f.engine.PendingRedeems()); got != 2 {
		t.Fatalf("pending redeems = %d, want 2", got)
	}
	// Escrow only holds the two unsettled requests' shares.
	if got := f.shares.BalanceOf(f.account); got != 900 {
		t.Fatalf("escrowed shares = %d, want 900", got)
	}
}

func TestProcessRedeems_UnderSupplyRollsBack(t *testing.T) {
	f := newFixture(t)
	seedRedeems(t, f)

	if err := f.asset.Approve(f.operator, f.account, 150); err != nil {
		t.Fatalf("approve: %v", err)
	}
	opBefore := f.asset.BalanceOf(f.operator)

	// 150 covers the first payout (125) but not the second (250).
	err := f.engine.ProcessRedeems(f.operator, 3, 150)
	if !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("process: %v, want ErrInsufficientBalance", err)
	}

	if got := len(f.engine.PendingRedeems()); got != 5 {
		t.Fatalf("pending redeems = %d, want 5", got)
	}
	if got := f.engine.TotalAssets(); got != 1_875 {
		t.Fatalf("totalAssets = %d, want 1875", got)
	}
	if got := f.engine.TotalSupply(); got != 1_500 {
		t.Fatalf("totalSupply = %d, want 1500", got)
	}
	if got := f.asset.BalanceOf(f.operator); got != opBefore {
		t.Fatalf("operator assets = %d, want %d (restored)", got, opBefore)
	}
	if got := f.asset.Allowance(f.operator, f.account); got != 150 {
		t.Fatalf("operator allowance = %d, want 150 (restored)", got)
	}
	if got := f.asset.BalanceOf(f.account); got != 0 {
		t.Fatalf("vault assets = %d, want 0", got)
	}
	if got := f.shares.BalanceOf(f.account); got != 1_500 {
		t.Fatalf("escrowed shares = %d, want 1500", got)
	}
}

func TestProcessRedeems_WithFee(t *testing.T) {
	f := newFixture(t)
	holder := uuid.New()

	f.deposit(t, holder, 10_000)
	if err := f.engine.ProcessDeposits(f.operator, 1); err != nil {
		t.Fatalf("process deposits: %v", err)
	}
	// 1% withdrawal fee.
	if err := f.engine.UpdateWithdrawalFee(f.operator, 10_000); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	if err := f.engine.Redeem(holder, holder, holder, 10_000); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	if err := f.asset.Approve(f.operator, f.account, 9_900); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.engine.ProcessRedeems(f.operator, 1, 9_900); err != nil {
		t.Fatalf("process redeems: %v", err)
	}

	if got := f.asset.BalanceOf(holder); got != 9_900 {
		t.Fatalf("holder assets = %d, want 9900", got)
	}
	// Totals reflect the pre-fee value leaving the vault.
	if got := f.engine.TotalAssets(); got != 0 {
		t.Fatalf("totalAssets = %d, want 0", got)
	}
	if got := f.engine.TotalSupply(); got != 0 {
		t.Fatalf("totalSupply = %d, want 0", got)
	}
}

func TestRedeem_Delegated(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	caller := uuid.New()

	f.deposit(t, owner, 1_000)
	if err := f.engine.ProcessDeposits(f.operator, 1); err != nil {
		t.Fatalf("process: %v", err)
	}

	// Without an allowance the delegated redeem fails.
	err := f.engine.Redeem(caller, caller, owner, 400)
	if !errors.Is(err, token.ErrInsufficientAllowance) {
		t.Fatalf("redeem without allowance: %v, want ErrInsufficientAllowance", err)
	}

	if err := f.shares.Approve(owner, caller, 400); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.engine.Redeem(caller, caller, owner, 400); err != nil {
		t.Fatalf("delegated redeem: %v", err)
	}
	if got := f.shares.Allowance(owner, caller); got != 0 {
		t.Fatalf("allowance = %d, want 0 (consumed)", got)
	}
	if got := f.shares.BalanceOf(owner); got != 600 {
		t.Fatalf("owner shares = %d, want 600", got)
	}
	if got := f.shares.BalanceOf(f.account); got != 400 {
		t.Fatalf("escrowed shares = %d, want 400", got)
	}

	pending := f.engine.PendingRedeems()
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if pending[0].Caller != caller || pending[0].Owner != owner || pending[0].Receiver != caller {
		t.Fatalf("queued request parties wrong: %+v", pending[0])
	}
}

func TestRedeem_Validation(t *testing.T) {
	f := newFixture(t)
	holder := uuid.New()

	if err := f.engine.Redeem(holder, holder, holder, 0); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("zero redeem: %v, want ErrZeroAmount", err)
	}
	if err := f.engine.Redeem(holder, holder, holder, 10); !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("shareless redeem: %v, want ErrInsufficientBalance", err)
	}

	if err := f.engine.Guard().Pause(f.operator); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := f.engine.Redeem(holder, holder, holder, 10); !errors.Is(err, guard.ErrPaused) {
		t.Fatalf("paused redeem: %v, want ErrPaused", err)
	}
}

func TestRevertFrontDeposit(t *testing.T) {
	f := newFixture(t)
	holder := uuid.New()

	if err := f.engine.RevertFrontDeposit(f.operator); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("revert empty: %v, want ErrQueueEmpty", err)
	}

	f.deposit(t, holder, 1_000)
	f.deposit(t, holder, 2_000)

	if err := f.engine.RevertFrontDeposit(f.operator); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if got := f.asset.BalanceOf(holder); got != 1_000 {
		t.Fatalf("holder assets = %d, want 1000 (refunded)", got)
	}
	pending := f.engine.PendingDeposits()
	if len(pending) != 1 || pending[0].Assets != 2_000 {
		t.Fatalf("pending after revert: %+v", pending)
	}
	if got := f.engine.TotalAssets(); got != 0 {
		t.Fatalf("totalAssets = %d, want 0", got)
	}
}

func TestRevertFrontRedeem(t *testing.T) {
	f := newFixture(t)
	holder := uuid.New()

	if err := f.engine.RevertFrontRedeem(f.operator); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("revert empty: %v, want ErrQueueEmpty", err)
	}

	f.deposit(t, holder, 1_000)
	if err := f.engine.ProcessDeposits(f.operator, 1); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := f.engine.Redeem(holder, holder, holder, 1_000); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	if err := f.engine.RevertFrontRedeem(f.operator); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if got := f.shares.BalanceOf(holder); got != 1_000 {
		t.Fatalf("holder shares = %d, want 1000 (returned)", got)
	}
	if got := f.shares.BalanceOf(f.account); got != 0 {
		t.Fatalf("escrowed shares = %d, want 0", got)
	}
	if got := len(f.engine.PendingRedeems()); got != 0 {
		t.Fatalf("pending = %d, want 0", got)
	}
}

func TestUpdateWithdrawalFee_Validation(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.UpdateWithdrawalFee(uuid.New(), 100); !errors.Is(err, guard.ErrUnauthorized) {
		t.Fatalf("unauthorized: %v, want ErrUnauthorized", err)
	}
	if err := f.engine.UpdateWithdrawalFee(f.operator, -1); !errors.Is(err, ErrInvalidFeeRate) {
		t.Fatalf("negative rate: %v, want ErrInvalidFeeRate", err)
	}
	if err := f.engine.UpdateWithdrawalFee(f.operator, fixedpoint.FeeScale+1); !errors.Is(err, ErrInvalidFeeRate) {
		t.Fatalf("over 100%%: %v, want ErrInvalidFeeRate", err)
	}
	if err := f.engine.UpdateWithdrawalFee(f.operator, fixedpoint.FeeScale); err != nil {
		t.Fatalf("100%% rate: %v", err)
	}
}

func TestPreviews_DoNotMutate(t *testing.T) {
	f := newFixture(t)
	holder := uuid.New()

	f.deposit(t, holder, 1_000)
	f.deposit(t, holder, 2_000)
	f.setPrice(t, 1_250_000_000_000_000_000)

	first, err := f.engine.PreviewProcessDeposits(2)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	second, err := f.engine.PreviewProcessDeposits(2)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if first != second {
		t.Fatalf("previews differ: %+v vs %+v", first, second)
	}
	if first.Assets != 3_000 || first.Shares != 2_400 {
		t.Fatalf("preview = %+v, want {3000 2400}", first)
	}
	if got := len(f.engine.PendingDeposits()); got != 2 {
		t.Fatalf("pending = %d, want 2 (preview must not drain)", got)
	}
	if got := f.engine.TotalSupply(); got != 0 {
		t.Fatalf("totalSupply = %d, want 0", got)
	}
}

func TestPreviewRedeem_AppliesFee(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.UpdateWithdrawalFee(f.operator, 10_000); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	got, err := f.engine.PreviewRedeem(10_000)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if got != 9_900 {
		t.Fatalf("PreviewRedeem(10000) = %d, want 9900", got)
	}
}

func TestPreviewProcessRedeems_SplitsFee(t *testing.T) {
	f := newFixture(t)
	seedRedeems(t, f)

	if err := f.engine.UpdateWithdrawalFee(f.operator, 10_000); err != nil {
		t.Fatalf("set fee: %v", err)
	}

	p, err := f.engine.PreviewProcessRedeems(3)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	// Gross 125+250+375 = 750; 1% fee per request: 1+2+3 = 6.
	if p.Shares != 600 {
		t.Fatalf("preview shares = %d, want 600", p.Shares)
	}
	if p.NetAssets != 744 {
		t.Fatalf("preview net = %d, want 744", p.NetAssets)
	}
	if p.FeeAssets != 6 {
		t.Fatalf("preview fee = %d, want 6", p.FeeAssets)
	}
}

func TestWithdrawalToOwner(t *testing.T) {
	f := newFixture(t)
	stray := token.NewLedger("WETH")

	if _, err := f.engine.WithdrawalToOwner(uuid.New(), stray); !errors.Is(err, guard.ErrUnauthorized) {
		t.Fatalf("unauthorized sweep: %v, want ErrUnauthorized", err)
	}

	// Zero balance sweep is a no-op, not an error.
	if amt, err := f.engine.WithdrawalToOwner(f.operator, stray); err != nil || amt != 0 {
		t.Fatalf("empty sweep: amt=%d err=%v", amt, err)
	}

	if err := stray.Mint(f.account, 77); err != nil {
		t.Fatalf("mint: %v", err)
	}
	amt, err := f.engine.WithdrawalToOwner(f.operator, stray)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if amt != 77 {
		t.Fatalf("swept = %d, want 77", amt)
	}
	if got := stray.BalanceOf(f.operator); got != 77 {
		t.Fatalf("operator stray balance = %d, want 77", got)
	}
}

func TestUpdatePrice_Authorization(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.UpdatePrice(uuid.New(), 2*fixedpoint.PriceScale); !errors.Is(err, guard.ErrUnauthorized) {
		t.Fatalf("unauthorized: %v, want ErrUnauthorized", err)
	}

	before := f.engine.PriceUpdatedAt()
	f.clock.advance(time.Minute)
	if err := f.engine.UpdatePrice(f.operator, 2*fixedpoint.PriceScale); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := f.engine.Price(); got != 2*fixedpoint.PriceScale {
		t.Fatalf("price = %d, want %d", got, 2*fixedpoint.PriceScale)
	}
	if !f.engine.PriceUpdatedAt().After(before) {
		t.Fatalf("priceUpdatedAt did not advance")
	}
}

func TestEngine_EventSequence(t *testing.T) {
	f := newFixture(t)
	holder := uuid.New()

	f.deposit(t, holder, 1_000)
	f.setPrice(t, fixedpoint.PriceScale)
	if err := f.engine.ProcessDeposits(f.operator, 1); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := f.engine.Redeem(holder, holder, holder, 1_000); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	wantTypes := []event.EventType{
		event.EventTypeDepositQueued,
		event.EventTypePriceUpdated,
		event.EventTypeDepositSettled,
		event.EventTypeRedeemQueued,
	}
	for i, want := range wantTypes {
		select {
		case env := <-f.persist:
			if env.Type != want {
				t.Fatalf("event[%d].Type = %v, want %v", i, env.Type, want)
			}
			if env.Sequence != int64(i+1) {
				t.Fatalf("event[%d].Sequence = %d, want %d", i, env.Sequence, i+1)
			}
		default:
			t.Fatalf("missing event %d (%v)", i, want)
		}
	}
}
