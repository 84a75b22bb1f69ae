package alice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/athanorlabs/xmr-btc-swap/coins"
	"github.com/athanorlabs/xmr-btc-swap/common"
	mcrypto "github.com/athanorlabs/xmr-btc-swap/crypto/monero"
	"github.com/athanorlabs/xmr-btc-swap/net/message"
	"github.com/athanorlabs/xmr-btc-swap/swap/bob"
	"github.com/athanorlabs/xmr-btc-swap/swap/errs"
	"github.com/athanorlabs/xmr-btc-swap/swap/setup"
	"github.com/athanorlabs/xmr-btc-swap/swap/store"
)

// earlyRefundChannel extends fakeChannel's post-ceremony behavior with a
// real RequestEarlyRefund that delegates to a live bob.Swap, exactly as the
// rpc transport will eventually do over the wire.
type earlyRefundChannel struct {
	fakeChannel
	bob *bob.Swap
}

func (c *earlyRefundChannel) RequestEarlyRefund(ctx context.Context, id common.SwapID) (*message.EarlyRefundResponse, error) {
	return c.bob.HandleEarlyRefundRequest(ctx, &message.EarlyRefundRequest{SwapID: id})
}

func TestEarlyRefundConsentAndBroadcastIsIdempotent(t *testing.T) {
	id := common.NewSwapID()
	params := testParams(id)

	bobKeys, err := setup.GenerateKeyMaterial()
	require.NoError(t, err)
	aliceKeys, err := setup.GenerateKeyMaterial()
	require.NoError(t, err)

	w := newFakeWallet()
	w.cancelSequence = params.CancelTimelock
	bobRefundAddr := regtestAddr(t, 90)
	aliceRedeemAddr := regtestAddr(t, 91)
	alicePunishAddr := regtestAddr(t, 92)

	bobResult, aliceResult := runCeremony(t, params, bobKeys, aliceKeys, w, bobRefundAddr, aliceRedeemAddr, alicePunishAddr, coins.BitcoinAmount(500))
	w.recordMined(aliceResult.Lock.Tx)

	bobSt, err := store.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bobSt.Close() })
	bobSwap := bob.NewSwap(id, common.Development, params, bobResult, bobRefundAddr,
		mcrypto.Address("bob's monero payout address"), w, newFakeMoneroClient(), nil, bobSt)

	aliceSt, err := store.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = aliceSt.Close() })

	channel := &earlyRefundChannel{bob: bobSwap}
	s := NewSwap(id, common.Development, params, aliceResult, mcrypto.Address("alice's monero refund address"), w, newFakeMoneroClient(), channel, aliceSt)
	channel.alice = s

	s.mu.Lock()
	s.state = StateBtcLockTransactionSeen
	s.mu.Unlock()

	state, err := s.EarlyRefund(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateBtcEarlyRefunded, state)

	state, err = s.EarlyRefund(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateBtcEarlyRefunded, state)
}

func TestEarlyRefundRejectsWrongState(t *testing.T) {
	id := common.NewSwapID()
	params := testParams(id)

	bobKeys, err := setup.GenerateKeyMaterial()
	require.NoError(t, err)
	aliceKeys, err := setup.GenerateKeyMaterial()
	require.NoError(t, err)

	w := newFakeWallet()
	w.cancelSequence = params.CancelTimelock
	bobResult, aliceResult := runCeremony(t, params, bobKeys, aliceKeys, w,
		regtestAddr(t, 93), regtestAddr(t, 94), regtestAddr(t, 95), coins.BitcoinAmount(500))
	w.recordMined(aliceResult.Lock.Tx)

	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	channel := &fakeChannel{bobResult: bobResult, bobKeys: bobKeys}
	s := NewSwap(id, common.Development, params, aliceResult, mcrypto.Address("alice's monero refund address"), w, newFakeMoneroClient(), channel, st)
	channel.alice = s

	_, err = s.EarlyRefund(context.Background())
	require.ErrorIs(t, err, errs.ErrImpossibleTransition)
}
