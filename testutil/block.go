package testutil

import (
	"encoding/binary"
)

// Synthetic Bitcoin block/transaction serialization for tests. The builders
// emit the consensus wire format (little-endian integers, compact-size
// counts, optional segwit marker/flag and witness section) so that parser
// tests run against byte-for-byte realistic input without network fixtures.

const coin = 100000000

// ZeroHash is the null previous-output identifier used by coinbase inputs.
var ZeroHash [32]byte

type txIn struct {
	prevID    [32]byte
	prevIndex uint32
	script    []byte
	witness   [][]byte
}

type txOut struct {
	value  int64
	script []byte
}

// TxBuilder assembles a raw transaction. The serialized form is segwit iff
// any input has witness items.
type TxBuilder struct {
	version  uint32
	locktime uint32
	inputs   []txIn
	outputs  []txOut
}

func NewTxBuilder() *TxBuilder {
	return &TxBuilder{version: 2}
}

func (b *TxBuilder) AddInput(prevID [32]byte, prevIndex uint32) *TxBuilder {
	b.inputs = append(b.inputs, txIn{prevID: prevID, prevIndex: prevIndex})
	return b
}

// AddCoinbaseInput adds the canonical null-previd/0xFFFFFFFF coinbase marker.
func (b *TxBuilder) AddCoinbaseInput() *TxBuilder {
	return b.AddInput(ZeroHash, 0xffffffff)
}

// AddOutput adds an output paying value satoshis to a placeholder p2wpkh-like
// script.
func (b *TxBuilder) AddOutput(value int64) *TxBuilder {
	script := make([]byte, 22)
	script[0] = 0x00
	script[1] = 0x14
	script[2] = byte(len(b.outputs) + 1)
	b.outputs = append(b.outputs, txOut{value: value, script: script})
	return b
}

// AddOutputBTC adds an output paying a BTC-denominated amount.
func (b *TxBuilder) AddOutputBTC(btc float64) *TxBuilder {
	return b.AddOutput(int64(btc*coin + 0.5))
}

// AddOpReturnOutput adds a zero-value OP_RETURN data output.
func (b *TxBuilder) AddOpReturnOutput(data []byte) *TxBuilder {
	script := append([]byte{0x6a, byte(len(data))}, data...)
	b.outputs = append(b.outputs, txOut{value: 0, script: script})
	return b
}

// SetWitness attaches witness items to input i, making the transaction
// serialize in segwit form.
func (b *TxBuilder) SetWitness(i int, items ...[]byte) *TxBuilder {
	b.inputs[i].witness = items
	return b
}

func (b *TxBuilder) segwit() bool {
	for _, in := range b.inputs {
		if len(in.witness) > 0 {
			return true
		}
	}
	return false
}

// Serialize emits the transaction's wire bytes.
func (b *TxBuilder) Serialize() []byte {
	return b.serialize(b.segwit())
}

// SerializeLegacy emits the pre-segwit serialization regardless of witness
// data: version, inputs, outputs, locktime. This is the form whose double
// hash defines the transaction identifier.
func (b *TxBuilder) SerializeLegacy() []byte {
	return b.serialize(false)
}

func (b *TxBuilder) serialize(segwit bool) []byte {
	var buf []byte
	buf = binary.LittleEndian.AppendUint32(buf, b.version)
	if segwit {
		buf = append(buf, 0x00, 0x01)
	}
	buf = putVarInt(buf, uint64(len(b.inputs)))
	for _, in := range b.inputs {
		buf = append(buf, in.prevID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.prevIndex)
		buf = putVarInt(buf, uint64(len(in.script)))
		buf = append(buf, in.script...)
		buf = binary.LittleEndian.AppendUint32(buf, 0xfffffffe)
	}
	buf = putVarInt(buf, uint64(len(b.outputs)))
	for _, out := range b.outputs {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(out.value))
		buf = putVarInt(buf, uint64(len(out.script)))
		buf = append(buf, out.script...)
	}
	if segwit {
		for _, in := range b.inputs {
			buf = putVarInt(buf, uint64(len(in.witness)))
			for _, item := range in.witness {
				buf = putVarInt(buf, uint64(len(item)))
				buf = append(buf, item...)
			}
		}
	}
	buf = binary.LittleEndian.AppendUint32(buf, b.locktime)
	return buf
}

// BlockBuilder assembles a raw block: an 80-byte header, a compact-size
// transaction count, and the serialized transactions.
type BlockBuilder struct {
	time uint32
	txs  [][]byte
}

func NewBlockBuilder(blockTime int64) *BlockBuilder {
	return &BlockBuilder{time: uint32(blockTime)}
}

func (b *BlockBuilder) AddTx(raw []byte) *BlockBuilder {
	b.txs = append(b.txs, raw)
	return b
}

func (b *BlockBuilder) Build() []byte {
	header := make([]byte, 80)
	binary.LittleEndian.PutUint32(header[:4], 0x20000000)
	binary.LittleEndian.PutUint32(header[68:72], b.time)

	buf := append([]byte{}, header...)
	buf = putVarInt(buf, uint64(len(b.txs)))
	for _, tx := range b.txs {
		buf = append(buf, tx...)
	}
	return buf
}

func putVarInt(buf []byte, v uint64) []byte {
	switch {
	case v < 0xfd:
		return append(buf, byte(v))
	case v <= 0xffff:
		buf = append(buf, 0xfd)
		return binary.LittleEndian.AppendUint16(buf, uint16(v))
	case v <= 0xffffffff:
		buf = append(buf, 0xfe)
		return binary.LittleEndian.AppendUint32(buf, uint32(v))
	default:
		buf = append(buf, 0xff)
		return binary.LittleEndian.AppendUint64(buf, v)
	}
}
