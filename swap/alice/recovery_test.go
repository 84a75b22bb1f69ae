package alice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/athanorlabs/xmr-btc-swap/coins"
	"github.com/athanorlabs/xmr-btc-swap/common"
	mcrypto "github.com/athanorlabs/xmr-btc-swap/crypto/monero"
	"github.com/athanorlabs/xmr-btc-swap/swap/errs"
	"github.com/athanorlabs/xmr-btc-swap/swap/setup"
	"github.com/athanorlabs/xmr-btc-swap/swap/store"
)

// newTestAliceSwap builds a fully-ceremonied Alice driver, the way
// newTestBobSwap does for Bob, so each recovery test can drop the driver
// straight into whatever state it wants to exercise.
func newTestAliceSwap(t *testing.T, seed byte) (*Swap, *fakeWallet, *setup.BobResult, *setup.KeyMaterial) {
	t.Helper()

	id := common.NewSwapID()
	params := testParams(id)

	bobKeys, err := setup.GenerateKeyMaterial()
	require.NoError(t, err)
	aliceKeys, err := setup.GenerateKeyMaterial()
	require.NoError(t, err)

	w := newFakeWallet()
	w.cancelSequence = params.CancelTimelock
	bobResult, aliceResult := runCeremony(t, params, bobKeys, aliceKeys, w,
		regtestAddr(t, seed), regtestAddr(t, seed+1), regtestAddr(t, seed+2), coins.BitcoinAmount(500))
	w.recordMined(aliceResult.Lock.Tx)

	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	xmr := newFakeMoneroClient()
	xmrRefundDestAddr := mcrypto.Address("alice's monero refund address")

	channel := &fakeChannel{bobResult: bobResult, bobKeys: bobKeys}
	s := NewSwap(id, common.Development, params, aliceResult, xmrRefundDestAddr, w, xmr, channel, st)
	channel.alice = s

	return s, w, bobResult, bobKeys
}

func TestAliceCancelRefusesBeforeExpiryThenForces(t *testing.T) {
	s, w, _, _ := newTestAliceSwap(t, 10)
	ctx := context.Background()

	s.mu.Lock()
	s.state = StateBtcLocked
	s.mu.Unlock()
	w.blocksUntilCancel = 10

	_, err := s.Cancel(ctx, false)
	require.ErrorIs(t, err, errs.ErrCancelTimelockNotExpired)

	state, err := s.Cancel(ctx, true)
	require.NoError(t, err)
	require.Equal(t, StateBtcCancelled, state)

	state, err = s.Cancel(ctx, false)
	require.NoError(t, err)
	require.Equal(t, StateBtcCancelled, state)
}

func TestAliceCancelRejectsBeforeLockFinalized(t *testing.T) {
	s, _, _, _ := newTestAliceSwap(t, 20)
	_, err := s.Cancel(context.Background(), true)
	require.ErrorIs(t, err, errs.ErrImpossibleTransition)
}

func TestAliceRefundRecoversSecretAndIsIdempotent(t *testing.T) {
	s, w, bobResult, bobKeys := newTestAliceSwap(t, 30)
	ctx := context.Background()

	s.mu.Lock()
	s.state = StateBtcCancelled
	s.mu.Unlock()

	completeBobRefund(t, bobResult, bobKeys, w)

	state, err := s.Refund(ctx)
	require.NoError(t, err)
	require.Equal(t, StateXmrRefunded, state)

	xmr := s.xmr.(*fakeMoneroClient)
	require.Len(t, xmr.sweptTo, 1)

	state, err = s.Refund(ctx)
	require.NoError(t, err)
	require.Equal(t, StateXmrRefunded, state)
	require.Len(t, xmr.sweptTo, 1, "idempotent refund must not sweep twice")
}

func TestAliceRefundRejectsBeforeBobBroadcasts(t *testing.T) {
	s, _, _, _ := newTestAliceSwap(t, 40)

	s.mu.Lock()
	s.state = StateBtcCancelled
	s.mu.Unlock()

	_, err := s.Refund(context.Background())
	require.ErrorIs(t, err, errs.ErrImpossibleTransition)
}

func TestAliceRedeemRejectsAfterCancelExpiryUnlessForced(t *testing.T) {
	s, w, bobResult, bobKeys := newTestAliceSwap(t, 50)
	ctx := context.Background()

	encSig, err := bobResult.Redeem.EncryptSign(bobKeys.Bitcoin, bobResult.Alice.SpendBitcoin)
	require.NoError(t, err)

	s.mu.Lock()
	s.bobRedeemEncSig = encSig
	s.state = StateEncSigLearned
	s.mu.Unlock()

	w.blocksUntilCancel = 0

	_, err = s.Redeem(ctx, false)
	require.ErrorIs(t, err, errs.ErrCancelTimelockExpired)

	state, err := s.Redeem(ctx, true)
	require.NoError(t, err)
	require.Equal(t, StateBtcRedeemed, state)

	state, err = s.Redeem(ctx, true)
	require.NoError(t, err)
	require.Equal(t, StateBtcRedeemed, state)
}

func TestAlicePunishRequiresTimelockExpiry(t *testing.T) {
	s, w, _, _ := newTestAliceSwap(t, 60)
	ctx := context.Background()

	s.mu.Lock()
	s.state = StateBtcCancelled
	s.mu.Unlock()
	w.blocksUntilPunish = 10

	_, err := s.Punish(ctx)
	require.ErrorIs(t, err, errs.ErrPunishTimelockNotExpired)

	w.blocksUntilPunish = 0
	state, err := s.Punish(ctx)
	require.NoError(t, err)
	require.Equal(t, StateBtcPunished, state)

	state, err = s.Punish(ctx)
	require.NoError(t, err)
	require.Equal(t, StateBtcPunished, state)
}

func TestAliceSafelyAbortOnlyPreXmrLock(t *testing.T) {
	s, _, _, _ := newTestAliceSwap(t, 70)
	state, err := s.SafelyAbort(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateSafelyAborted, state)

	s2, _, _, _ := newTestAliceSwap(t, 80)
	s2.mu.Lock()
	s2.state = StateXmrLocked
	s2.mu.Unlock()
	_, err = s2.SafelyAbort(context.Background())
	require.ErrorIs(t, err, errs.ErrImpossibleTransition)
}
