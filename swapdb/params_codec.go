package swapdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg"
	wirefmt "github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/ethereum/go-ethereum/common"

	"github.com/atomicswap/swapd/swapdomain"
)

// encodeIdentity writes id field-by-field: btcutil.Address is an
// interface, so the Bitcoin leg is flattened to its string encoding and
// reconstructed against the caller-supplied network parameters at decode
// time, the same field-by-field approach codec.go uses for ProtocolEvent.
func encodeIdentity(w io.Writer, id swapdomain.Identity) error {
	if err := binary.Write(w, byteOrder, uint8(id.Ledger)); err != nil {
		return err
	}
	bitcoinAddr := ""
	if id.Bitcoin != nil {
		bitcoinAddr = id.Bitcoin.EncodeAddress()
	}
	if err := wirefmt.WriteVarString(w, 0, bitcoinAddr); err != nil {
		return err
	}
	ethereum := id.Ethereum
	_, err := w.Write(ethereum[:])
	return err
}

func decodeIdentity(r io.Reader, net *chaincfg.Params) (swapdomain.Identity, error) {
	var ledger uint8
	if err := binary.Read(r, byteOrder, &ledger); err != nil {
		return swapdomain.Identity{}, err
	}
	bitcoinAddr, err := wirefmt.ReadVarString(r, 0)
	if err != nil {
		return swapdomain.Identity{}, err
	}
	var ethereum [20]byte
	if _, err := io.ReadFull(r, ethereum[:]); err != nil {
		return swapdomain.Identity{}, err
	}

	id := swapdomain.Identity{Ledger: swapdomain.LedgerKind(ledger), Ethereum: common.Address(ethereum)}
	if bitcoinAddr != "" {
		addr, err := btcutil.DecodeAddress(bitcoinAddr, net)
		if err != nil {
			return swapdomain.Identity{}, fmt.Errorf("swapdb: decode bitcoin identity %q: %w", bitcoinAddr, err)
		}
		id.Bitcoin = addr
	}
	return id, nil
}

func encodeHtlcParams(w io.Writer, p swapdomain.HtlcParams) error {
	if err := binary.Write(w, byteOrder, uint8(p.Asset.Kind)); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, int64(p.Asset.Sats)); err != nil {
		return err
	}
	var qty []byte
	if p.Asset.Quantity != nil {
		qty = p.Asset.Quantity.Bytes()
	}
	if err := wirefmt.WriteVarBytes(w, 0, qty); err != nil {
		return err
	}
	tokenAddr := p.Asset.TokenContract
	if _, err := w.Write(tokenAddr[:]); err != nil {
		return err
	}
	if err := encodeIdentity(w, p.RedeemIdentity); err != nil {
		return err
	}
	if err := encodeIdentity(w, p.RefundIdentity); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, p.ExpiryAbsolute.UnixNano()); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, p.StartOfSwap.UnixNano()); err != nil {
		return err
	}
	_, err := w.Write(p.SecretHash[:])
	return err
}

func decodeHtlcParams(r io.Reader, net *chaincfg.Params) (swapdomain.HtlcParams, error) {
	var assetKind uint8
	if err := binary.Read(r, byteOrder, &assetKind); err != nil {
		return swapdomain.HtlcParams{}, err
	}
	var sats int64
	if err := binary.Read(r, byteOrder, &sats); err != nil {
		return swapdomain.HtlcParams{}, err
	}
	qty, err := wirefmt.ReadVarBytes(r, 0, 64, "asset quantity")
	if err != nil {
		return swapdomain.HtlcParams{}, err
	}
	var tokenAddr [20]byte
	if _, err := io.ReadFull(r, tokenAddr[:]); err != nil {
		return swapdomain.HtlcParams{}, err
	}
	redeem, err := decodeIdentity(r, net)
	if err != nil {
		return swapdomain.HtlcParams{}, err
	}
	refund, err := decodeIdentity(r, net)
	if err != nil {
		return swapdomain.HtlcParams{}, err
	}
	var expiryUnixNano, startUnixNano int64
	if err := binary.Read(r, byteOrder, &expiryUnixNano); err != nil {
		return swapdomain.HtlcParams{}, err
	}
	if err := binary.Read(r, byteOrder, &startUnixNano); err != nil {
		return swapdomain.HtlcParams{}, err
	}
	var secretHash [32]byte
	if _, err := io.ReadFull(r, secretHash[:]); err != nil {
		return swapdomain.HtlcParams{}, err
	}

	return swapdomain.HtlcParams{
		Asset: swapdomain.Asset{
			Kind:          swapdomain.AssetKind(assetKind),
			Sats:          btcAmount(sats),
			Quantity:      bigIntFromBytes(qty),
			TokenContract: common.Address(tokenAddr),
		},
		RedeemIdentity: redeem,
		RefundIdentity: refund,
		ExpiryAbsolute: unixNanoToTime(expiryUnixNano),
		StartOfSwap:    unixNanoToTime(startUnixNano),
		SecretHash:     secretHash,
	}, nil
}

func encodeParams(p swapdomain.SwapParams) ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, byteOrder, schemaVersion); err != nil {
		return nil, err
	}
	buf.Write(p.SwapId[:])
	if err := encodeHtlcParams(&buf, p.Alpha); err != nil {
		return nil, err
	}
	if err := encodeHtlcParams(&buf, p.Beta); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, byteOrder, uint8(p.Role)); err != nil {
		return nil, err
	}
	if err := wirefmt.WriteVarString(&buf, 0, p.CounterpartyPeer); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, byteOrder, p.StartOfSwap.UnixNano()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeParams(raw []byte, net *chaincfg.Params) (swapdomain.SwapParams, error) {
	r := bytes.NewReader(raw)

	var version uint32
	if err := binary.Read(r, byteOrder, &version); err != nil {
		return swapdomain.SwapParams{}, fmt.Errorf("swapdb: read params schema version: %w", err)
	}
	if version != schemaVersion {
		return swapdomain.SwapParams{}, fmt.Errorf("swapdb: unsupported params schema version %d", version)
	}

	var swapId swapdomain.SwapId
	if _, err := io.ReadFull(r, swapId[:]); err != nil {
		return swapdomain.SwapParams{}, fmt.Errorf("swapdb: read swap id: %w", err)
	}

	alpha, err := decodeHtlcParams(r, net)
	if err != nil {
		return swapdomain.SwapParams{}, fmt.Errorf("swapdb: decode alpha params: %w", err)
	}
	beta, err := decodeHtlcParams(r, net)
	if err != nil {
		return swapdomain.SwapParams{}, fmt.Errorf("swapdb: decode beta params: %w", err)
	}

	var role uint8
	if err := binary.Read(r, byteOrder, &role); err != nil {
		return swapdomain.SwapParams{}, err
	}
	counterpartyPeer, err := wirefmt.ReadVarString(r, 0)
	if err != nil {
		return swapdomain.SwapParams{}, err
	}
	var startUnixNano int64
	if err := binary.Read(r, byteOrder, &startUnixNano); err != nil {
		return swapdomain.SwapParams{}, err
	}

	return swapdomain.SwapParams{
		SwapId:           swapId,
		Alpha:            alpha,
		Beta:             beta,
		Role:             swapdomain.Role(role),
		CounterpartyPeer: counterpartyPeer,
		StartOfSwap:      unixNanoToTime(startUnixNano),
	}, nil
}
