package types

import (
	"errors"
	"fmt"

	"ledgerpay/crypto"
)

var errUnexpectedEOF = errors.New("types: unexpected end of message")

// MaxAccountKeys bounds the key table so every index fits in a byte.
const MaxAccountKeys = 256

// MessageHeader partitions the account key table. Keys are ordered as
// writable signers, read-only signers, writable non-signers, read-only
// non-signers.
type MessageHeader struct {
	NumRequiredSignatures       uint8 `json:"numRequiredSignatures"`
	NumReadonlySignedAccounts   uint8 `json:"numReadonlySignedAccounts"`
	NumReadonlyUnsignedAccounts uint8 `json:"numReadonlyUnsignedAccounts"`
}

// Message is the signed portion of a transaction.
type Message struct {
	Header          MessageHeader         `json:"header"`
	AccountKeys     []crypto.Address      `json:"accountKeys"`
	RecentBlockhash crypto.Hash           `json:"recentBlockhash"`
	Instructions    []CompiledInstruction `json:"instructions"`
}

type keyFlags struct {
	addr     crypto.Address
	signer   bool
	writable bool
}

// NewMessage compiles instructions into a message. When payer is provided it
// becomes the first key and therefore the first required signature.
func NewMessage(instructions []Instruction, payer *crypto.Address) (*Message, error) {
	var ordered []*keyFlags
	index := make(map[crypto.Address]*keyFlags)
	add := func(addr crypto.Address, signer, writable bool) {
		if existing, ok := index[addr]; ok {
			existing.signer = existing.signer || signer
			existing.writable = existing.writable || writable
			return
		}
		entry := &keyFlags{addr: addr, signer: signer, writable: writable}
		index[addr] = entry
		ordered = append(ordered, entry)
	}
	if payer != nil {
		add(*payer, true, true)
	}
	for _, ix := range instructions {
		for _, meta := range ix.Accounts {
			add(meta.Address, meta.IsSigner, meta.IsWritable)
		}
	}
	for _, ix := range instructions {
		add(ix.ProgramID, false, false)
	}
	if len(ordered) > MaxAccountKeys {
		return nil, fmt.Errorf("types: %d account keys exceed limit %d", len(ordered), MaxAccountKeys)
	}

	var groups [4][]crypto.Address
	for _, entry := range ordered {
		switch {
		case entry.signer && entry.writable:
			groups[0] = append(groups[0], entry.addr)
		case entry.signer:
			groups[1] = append(groups[1], entry.addr)
		case entry.writable:
			groups[2] = append(groups[2], entry.addr)
		default:
			groups[3] = append(groups[3], entry.addr)
		}
	}
	keys := make([]crypto.Address, 0, len(ordered))
	for _, group := range groups {
		keys = append(keys, group...)
	}
	position := make(map[crypto.Address]uint8, len(keys))
	for i, key := range keys {
		position[key] = uint8(i)
	}

	compiled := make([]CompiledInstruction, 0, len(instructions))
	for _, ix := range instructions {
		accounts := make([]uint8, len(ix.Accounts))
		for i, meta := range ix.Accounts {
			accounts[i] = position[meta.Address]
		}
		compiled = append(compiled, CompiledInstruction{
			ProgramIDIndex: position[ix.ProgramID],
			Accounts:       accounts,
			Data:           append([]byte(nil), ix.Data...),
		})
	}

	return &Message{
		Header: MessageHeader{
			NumRequiredSignatures:       uint8(len(groups[0]) + len(groups[1])),
			NumReadonlySignedAccounts:   uint8(len(groups[1])),
			NumReadonlyUnsignedAccounts: uint8(len(groups[3])),
		},
		AccountKeys:  keys,
		Instructions: compiled,
	}, nil
}

// SignerKeys returns the addresses whose signatures the message requires, in slot order.
func (m *Message) SignerKeys() []crypto.Address {
	n := int(m.Header.NumRequiredSignatures)
	if n > len(m.AccountKeys) {
		n = len(m.AccountKeys)
	}
	return append([]crypto.Address(nil), m.AccountKeys[:n]...)
}

// SignerIndex returns the signature slot of addr, or -1.
func (m *Message) SignerIndex(addr crypto.Address) int {
	for i := 0; i < int(m.Header.NumRequiredSignatures) && i < len(m.AccountKeys); i++ {
		if m.AccountKeys[i] == addr {
			return i
		}
	}
	return -1
}

func (m *Message) IsSigner(i int) bool {
	return i < int(m.Header.NumRequiredSignatures)
}

func (m *Message) IsWritable(i int) bool {
	numSigned := int(m.Header.NumRequiredSignatures)
	if i < numSigned {
		return i < numSigned-int(m.Header.NumReadonlySignedAccounts)
	}
	return i < len(m.AccountKeys)-int(m.Header.NumReadonlyUnsignedAccounts)
}

// ProgramID resolves the program address of a compiled instruction.
func (m *Message) ProgramID(ix CompiledInstruction) (crypto.Address, error) {
	if int(ix.ProgramIDIndex) >= len(m.AccountKeys) {
		return crypto.Address{}, fmt.Errorf("types: program index %d out of range", ix.ProgramIDIndex)
	}
	return m.AccountKeys[ix.ProgramIDIndex], nil
}

// Serialize returns the canonical bytes that signatures cover.
func (m *Message) Serialize() []byte {
	buf := make([]byte, 0, 3+1+len(m.AccountKeys)*crypto.AddressLength+crypto.HashLength+64)
	buf = append(buf,
		m.Header.NumRequiredSignatures,
		m.Header.NumReadonlySignedAccounts,
		m.Header.NumReadonlyUnsignedAccounts,
	)
	buf = appendShortVec(buf, len(m.AccountKeys))
	for _, key := range m.AccountKeys {
		buf = append(buf, key[:]...)
	}
	buf = append(buf, m.RecentBlockhash[:]...)
	buf = appendShortVec(buf, len(m.Instructions))
	for _, ix := range m.Instructions {
		buf = append(buf, ix.ProgramIDIndex)
		buf = appendShortVec(buf, len(ix.Accounts))
		buf = append(buf, ix.Accounts...)
		buf = appendShortVec(buf, len(ix.Data))
		buf = append(buf, ix.Data...)
	}
	return buf
}

// Hash returns the sha256 digest of the serialized message.
func (m *Message) Hash() crypto.Hash {
	return crypto.HashData(m.Serialize())
}

// DeserializeMessage decodes canonical message bytes and returns the number of
// bytes consumed.
func DeserializeMessage(b []byte) (*Message, int, error) {
	r := reader{buf: b}
	var m Message
	header, err := r.take(3)
	if err != nil {
		return nil, 0, err
	}
	m.Header = MessageHeader{header[0], header[1], header[2]}

	numKeys, err := r.shortVec()
	if err != nil {
		return nil, 0, err
	}
	m.AccountKeys = make([]crypto.Address, numKeys)
	for i := range m.AccountKeys {
		raw, err := r.take(crypto.AddressLength)
		if err != nil {
			return nil, 0, err
		}
		m.AccountKeys[i] = crypto.NewAddress(raw)
	}
	rawHash, err := r.take(crypto.HashLength)
	if err != nil {
		return nil, 0, err
	}
	copy(m.RecentBlockhash[:], rawHash)

	numIxs, err := r.shortVec()
	if err != nil {
		return nil, 0, err
	}
	m.Instructions = make([]CompiledInstruction, numIxs)
	for i := range m.Instructions {
		programIdx, err := r.take(1)
		if err != nil {
			return nil, 0, err
		}
		numAccounts, err := r.shortVec()
		if err != nil {
			return nil, 0, err
		}
		accounts, err := r.take(numAccounts)
		if err != nil {
			return nil, 0, err
		}
		dataLen, err := r.shortVec()
		if err != nil {
			return nil, 0, err
		}
		data, err := r.take(dataLen)
		if err != nil {
			return nil, 0, err
		}
		m.Instructions[i] = CompiledInstruction{
			ProgramIDIndex: programIdx[0],
			Accounts:       append([]uint8(nil), accounts...),
			Data:           append([]byte(nil), data...),
		}
	}
	if int(m.Header.NumRequiredSignatures) > len(m.AccountKeys) {
		return nil, 0, fmt.Errorf("types: header requires %d signatures but only %d keys", m.Header.NumRequiredSignatures, len(m.AccountKeys))
	}
	return &m, r.pos, nil
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, errUnexpectedEOF
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) shortVec() (int, error) {
	n, size, err := readShortVec(r.buf[r.pos:])
	if err != nil {
		return 0, err
	}
	r.pos += size
	return n, nil
}
