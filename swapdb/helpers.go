package swapdb

import (
	"math/big"
	"time"

	"github.com/btcsuite/btcutil"
)

func btcAmount(sats int64) btcutil.Amount {
	return btcutil.Amount(sats)
}

func bigIntFromBytes(b []byte) *big.Int {
	if len(b) == 0 {
		return big.NewInt(0)
	}
	return new(big.Int).SetBytes(b)
}

func unixNanoToTime(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}
