package swapfsm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atomicswap/swapd/swapdomain"
)

type scriptedWatcher struct {
	hasDeploy bool
	deployed  swapdomain.ProtocolEvent
	funded    swapdomain.ProtocolEvent
	redeemDelay, refundDelay time.Duration
	redeemed, refunded swapdomain.ProtocolEvent
	redeemErr, refundErr error
}

func (w *scriptedWatcher) HasDeploy() bool { return w.hasDeploy }

func (w *scriptedWatcher) WaitForDeployed(ctx context.Context, startOfSwap time.Time, pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {
	return w.deployed, nil
}

func (w *scriptedWatcher) WaitForFunded(ctx context.Context, params swapdomain.HtlcParams, pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {
	return w.funded, nil
}

func (w *scriptedWatcher) WaitForRedeemed(ctx context.Context, startOfSwap time.Time, pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {
	if w.redeemErr != nil {
		return swapdomain.ProtocolEvent{}, w.redeemErr
	}
	select {
	case <-time.After(w.redeemDelay):
		return w.redeemed, nil
	case <-ctx.Done():
		return swapdomain.ProtocolEvent{}, ctx.Err()
	}
}

func (w *scriptedWatcher) WaitForRefunded(ctx context.Context, startOfSwap time.Time, pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {
	if w.refundErr != nil {
		return swapdomain.ProtocolEvent{}, w.refundErr
	}
	select {
	case <-time.After(w.refundDelay):
		return w.refunded, nil
	case <-ctx.Done():
		return swapdomain.ProtocolEvent{}, ctx.Err()
	}
}

func TestRunToFundedSkipsDeployWhenNotApplicable(t *testing.T) {
	w := &scriptedWatcher{
		hasDeploy: false,
		funded:    swapdomain.ProtocolEvent{Kind: swapdomain.EventFunded},
	}

	var sunk []swapdomain.ProtocolEvent
	_, err := RunToFunded(context.Background(), w, swapdomain.HtlcParams{}, time.Millisecond,
		func(e swapdomain.ProtocolEvent) error {
			sunk = append(sunk, e)
			return nil
		})
	require.NoError(t, err)
	require.Len(t, sunk, 1)
	require.Equal(t, swapdomain.EventFunded, sunk[0].Kind)
}

func TestRunToFundedEmitsDeployThenFunded(t *testing.T) {
	w := &scriptedWatcher{
		hasDeploy: true,
		deployed:  swapdomain.ProtocolEvent{Kind: swapdomain.EventDeployed},
		funded:    swapdomain.ProtocolEvent{Kind: swapdomain.EventFunded},
	}

	var sunk []swapdomain.ProtocolEvent
	_, err := RunToFunded(context.Background(), w, swapdomain.HtlcParams{}, time.Millisecond,
		func(e swapdomain.ProtocolEvent) error {
			sunk = append(sunk, e)
			return nil
		})
	require.NoError(t, err)
	require.Len(t, sunk, 2)
	require.Equal(t, swapdomain.EventDeployed, sunk[0].Kind)
	require.Equal(t, swapdomain.EventFunded, sunk[1].Kind)
}

func TestRaceRedeemRefundReturnsFasterWinner(t *testing.T) {
	w := &scriptedWatcher{
		redeemDelay: time.Millisecond,
		redeemed:    swapdomain.ProtocolEvent{Kind: swapdomain.EventRedeemed},
		refundDelay: time.Second,
		refunded:    swapdomain.ProtocolEvent{Kind: swapdomain.EventRefunded},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	event, err := RaceRedeemRefund(ctx, w, time.Now(), time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, swapdomain.EventRedeemed, event.Kind)
}

func TestRaceRedeemRefundPropagatesLoserCancellation(t *testing.T) {
	w := &scriptedWatcher{
		redeemDelay: time.Millisecond,
		redeemed:    swapdomain.ProtocolEvent{Kind: swapdomain.EventRedeemed},
		refundDelay: time.Hour,
		refunded:    swapdomain.ProtocolEvent{Kind: swapdomain.EventRefunded},
	}

	start := time.Now()
	event, err := RaceRedeemRefund(context.Background(), w, time.Now(), time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, swapdomain.EventRedeemed, event.Kind)
	require.Less(t, time.Since(start), time.Second,
		"RaceRedeemRefund must not wait for the cancelled loser's full delay")
}
