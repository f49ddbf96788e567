package swapdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common"

	"github.com/atomicswap/swapd/swapdomain"
)

// byteOrder is the fixed-width integer encoding used throughout this
// package's wire format, matching channeldb's own graph.go convention.
var byteOrder = binary.BigEndian

// schemaVersion is written as the first 4 bytes of every encoded record so
// future formats can be distinguished and, per spec.md §6, older versions
// remain readable.
const schemaVersion uint32 = 1

// encodeRecord serializes record field-by-field with encoding/binary for
// fixed-width values and wire.WriteVarBytes/WriteVarString for
// variable-length ones, the same hand-rolled binary format channeldb's
// graph.go uses for its node and edge records (e.g. node.Alias via
// WriteVarString, node.AuthSig via WriteVarBytes) rather than a generic
// serializer.
func encodeRecord(record swapdomain.SwapRecord) ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, byteOrder, schemaVersion); err != nil {
		return nil, err
	}
	buf.Write(record.SwapId[:])

	if err := binary.Write(&buf, byteOrder, uint32(len(record.Events))); err != nil {
		return nil, err
	}
	for _, e := range record.Events {
		if err := encodeEvent(&buf, e); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func encodeEvent(w io.Writer, e swapdomain.SidedEvent) error {
	if err := binary.Write(w, byteOrder, uint8(e.Side)); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, uint8(e.Event.Kind)); err != nil {
		return err
	}
	if err := wire.WriteVarString(w, 0, e.Event.TxId); err != nil {
		return err
	}
	if err := wire.WriteVarString(w, 0, e.Event.Location); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, uint8(e.Event.Asset.Kind)); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, int64(e.Event.Asset.Sats)); err != nil {
		return err
	}
	var qty []byte
	if e.Event.Asset.Quantity != nil {
		qty = e.Event.Asset.Quantity.Bytes()
	}
	if err := wire.WriteVarBytes(w, 0, qty); err != nil {
		return err
	}
	tokenAddr := e.Event.Asset.TokenContract
	if _, err := w.Write(tokenAddr[:]); err != nil {
		return err
	}
	if _, err := w.Write(e.Event.Secret[:]); err != nil {
		return err
	}
	if err := wire.WriteVarString(w, 0, e.Event.Reason); err != nil {
		return err
	}
	return binary.Write(w, byteOrder, e.Event.Timestamp.UnixNano())
}

func decodeRecord(swapId []byte, raw []byte) (swapdomain.SwapRecord, error) {
	r := bytes.NewReader(raw)

	var version uint32
	if err := binary.Read(r, byteOrder, &version); err != nil {
		return swapdomain.SwapRecord{}, fmt.Errorf("swapdb: read schema version: %w", err)
	}
	if version != schemaVersion {
		return swapdomain.SwapRecord{}, fmt.Errorf("swapdb: unsupported schema version %d", version)
	}

	var id swapdomain.SwapId
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return swapdomain.SwapRecord{}, fmt.Errorf("swapdb: read swap id: %w", err)
	}
	copy(id[:], swapId)

	var count uint32
	if err := binary.Read(r, byteOrder, &count); err != nil {
		return swapdomain.SwapRecord{}, fmt.Errorf("swapdb: read event count: %w", err)
	}

	record := swapdomain.SwapRecord{SwapId: id}
	for i := uint32(0); i < count; i++ {
		event, err := decodeEvent(r)
		if err != nil {
			return swapdomain.SwapRecord{}, fmt.Errorf("swapdb: decode event %d: %w", i, err)
		}
		record.Events = append(record.Events, event)
	}
	return record, nil
}

func decodeEvent(r io.Reader) (swapdomain.SidedEvent, error) {
	var side, kind, assetKind uint8
	if err := binary.Read(r, byteOrder, &side); err != nil {
		return swapdomain.SidedEvent{}, err
	}
	if err := binary.Read(r, byteOrder, &kind); err != nil {
		return swapdomain.SidedEvent{}, err
	}
	txid, err := wire.ReadVarString(r, 0)
	if err != nil {
		return swapdomain.SidedEvent{}, err
	}
	location, err := wire.ReadVarString(r, 0)
	if err != nil {
		return swapdomain.SidedEvent{}, err
	}
	if err := binary.Read(r, byteOrder, &assetKind); err != nil {
		return swapdomain.SidedEvent{}, err
	}
	var sats int64
	if err := binary.Read(r, byteOrder, &sats); err != nil {
		return swapdomain.SidedEvent{}, err
	}
	qty, err := wire.ReadVarBytes(r, 0, 64, "asset quantity")
	if err != nil {
		return swapdomain.SidedEvent{}, err
	}
	var tokenAddr [20]byte
	if _, err := io.ReadFull(r, tokenAddr[:]); err != nil {
		return swapdomain.SidedEvent{}, err
	}
	var secret [32]byte
	if _, err := io.ReadFull(r, secret[:]); err != nil {
		return swapdomain.SidedEvent{}, err
	}
	reason, err := wire.ReadVarString(r, 0)
	if err != nil {
		return swapdomain.SidedEvent{}, err
	}
	var unixNano int64
	if err := binary.Read(r, byteOrder, &unixNano); err != nil {
		return swapdomain.SidedEvent{}, err
	}

	event := swapdomain.ProtocolEvent{
		Kind:     swapdomain.EventKind(kind),
		TxId:     txid,
		Location: location,
		Secret:   secret,
		Reason:   reason,
		Asset: swapdomain.Asset{
			Kind:          swapdomain.AssetKind(assetKind),
			Sats:          btcAmount(sats),
			Quantity:      bigIntFromBytes(qty),
			TokenContract: common.Address(tokenAddr),
		},
	}
	event.Timestamp = unixNanoToTime(unixNano)

	return swapdomain.SidedEvent{Side: swapdomain.Side(side), Event: event}, nil
}
