package oracle

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

const (
	// satsPerBTC is the number of satoshis in one bitcoin.
	satsPerBTC = 100000000

	// opReturn marks an output script as unspendable data storage.
	opReturn = 0x6a

	// witnessLimit is the size in bytes above which a witness item, or the
	// sum of all witness items in a transaction, disqualifies the
	// transaction from sampling. Large witnesses are inscriptions and other
	// data-carrying constructs, not ordinary payments.
	witnessLimit = 500
)

// parsedTx is the engine's view of one transaction within a raw block. Script
// and witness contents are discarded after classification; only the fields
// the output filter needs are retained.
type parsedTx struct {
	id             Hash
	segwit         bool
	numInputs      int
	coinbase       bool
	opReturn       bool
	witnessExceeds bool
	prevIDs        []Hash   // one per input, internal byte order
	values         []uint64 // one per output, in satoshis
}

type txInput struct {
	prevOut  []byte // 36 bytes: prev id + prev index
	script   []byte
	sequence []byte // 4 bytes
}

type txOutput struct {
	value  []byte // 8 bytes, little-endian satoshis
	script []byte
}

// parseTx decodes one transaction starting at the reader's cursor, leaving the
// cursor at the first byte past the transaction. The identifier is computed as
// it would appear on the network: segwit transactions are hashed in their
// reconstructed legacy form, excluding the marker/flag bytes and all witness
// stacks.
func parseTx(r *reader) (*parsedTx, error) {
	start := r.pos
	version, err := r.bytes(4)
	if err != nil {
		return nil, err
	}

	tx := &parsedTx{}
	if r.pos+2 <= len(r.buf) && r.buf[r.pos] == 0x00 && r.buf[r.pos+1] == 0x01 {
		tx.segwit = true
		if err := r.skip(2); err != nil {
			return nil, err
		}
	}

	numIn, err := r.varInt()
	if err != nil {
		return nil, err
	}
	if numIn == 0 || numIn > uint64(len(r.buf)-r.pos) {
		return nil, fmt.Errorf("implausible input count %d at offset %d", numIn, r.pos)
	}
	tx.numInputs = int(numIn)

	inputs := make([]txInput, numIn)
	for i := range inputs {
		prevOut, err := r.bytes(36)
		if err != nil {
			return nil, err
		}
		scriptLen, err := r.varInt()
		if err != nil {
			return nil, err
		}
		script, err := r.bytes(int(scriptLen))
		if err != nil {
			return nil, err
		}
		sequence, err := r.bytes(4)
		if err != nil {
			return nil, err
		}
		inputs[i] = txInput{prevOut: prevOut, script: script, sequence: sequence}

		var prevID Hash
		copy(prevID[:], prevOut[:32])
		tx.prevIDs = append(tx.prevIDs, prevID)
		prevIndex := binary.LittleEndian.Uint32(prevOut[32:])
		if prevID == (Hash{}) && prevIndex == 0xffffffff {
			tx.coinbase = true
		}
	}

	numOut, err := r.varInt()
	if err != nil {
		return nil, err
	}
	if numOut > uint64(len(r.buf)-r.pos) {
		return nil, fmt.Errorf("implausible output count %d at offset %d", numOut, r.pos)
	}

	outputs := make([]txOutput, numOut)
	for i := range outputs {
		value, err := r.bytes(8)
		if err != nil {
			return nil, err
		}
		scriptLen, err := r.varInt()
		if err != nil {
			return nil, err
		}
		script, err := r.bytes(int(scriptLen))
		if err != nil {
			return nil, err
		}
		outputs[i] = txOutput{value: value, script: script}

		tx.values = append(tx.values, binary.LittleEndian.Uint64(value))
		if len(script) > 0 && script[0] == opReturn {
			tx.opReturn = true
		}
	}

	if tx.segwit {
		var total int
		for i := 0; i < tx.numInputs; i++ {
			numItems, err := r.varInt()
			if err != nil {
				return nil, err
			}
			for j := uint64(0); j < numItems; j++ {
				itemLen, err := r.varInt()
				if err != nil {
					return nil, err
				}
				if err := r.skip(int(itemLen)); err != nil {
					return nil, err
				}
				total += int(itemLen)
				if itemLen > witnessLimit {
					tx.witnessExceeds = true
				}
			}
		}
		if total > witnessLimit {
			tx.witnessExceeds = true
		}
	}

	locktime, err := r.bytes(4)
	if err != nil {
		return nil, err
	}

	if tx.segwit {
		tx.id = doubleSHA256(stripWitness(version, inputs, outputs, locktime))
	} else {
		tx.id = doubleSHA256(r.buf[start:r.pos])
	}
	return tx, nil
}

// stripWitness rebuilds the legacy (pre-segwit) serialization of a
// transaction: version, inputs, outputs, locktime. The result is byte-exact
// with what a non-segwit node would have hashed, which is what defines the
// transaction identifier.
func stripWitness(version []byte, inputs []txInput, outputs []txOutput, locktime []byte) []byte {
	n := 4 + 4 // version + locktime
	for _, in := range inputs {
		n += 36 + 9 + len(in.script) + 4
	}
	for _, out := range outputs {
		n += 8 + 9 + len(out.script)
	}

	buf := make([]byte, 0, n+18)
	buf = append(buf, version...)
	buf = appendVarInt(buf, uint64(len(inputs)))
	for _, in := range inputs {
		buf = append(buf, in.prevOut...)
		buf = appendVarInt(buf, uint64(len(in.script)))
		buf = append(buf, in.script...)
		buf = append(buf, in.sequence...)
	}
	buf = appendVarInt(buf, uint64(len(outputs)))
	for _, out := range outputs {
		buf = append(buf, out.value...)
		buf = appendVarInt(buf, uint64(len(out.script)))
		buf = append(buf, out.script...)
	}
	buf = append(buf, locktime...)
	return buf
}

func doubleSHA256(b []byte) Hash {
	first := sha256.Sum256(b)
	return Hash(sha256.Sum256(first[:]))
}

// TxID computes the identifier of a single raw transaction beginning at its
// version field. The entire buffer must be consumed by the transaction.
func TxID(raw []byte) (Hash, error) {
	r := newReader(raw)
	tx, err := parseTx(r)
	if err != nil {
		return Hash{}, err
	}
	if r.pos != len(raw) {
		return Hash{}, fmt.Errorf("trailing %d bytes after transaction", len(raw)-r.pos)
	}
	return tx.id, nil
}
