package token

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackUnpack(t *testing.T) {
	shapes := []Instruction{
		&InitializeMint{Amount: 42, Decimals: 2},
		&InitializeAccount{},
		&InitializeMultisig{M: 2},
		&Transfer{Amount: 1},
		&Approve{Amount: 2},
		&Revoke{},
		&SetOwner{},
		&MintTo{Amount: 3},
		&Burn{Amount: 4},
		&CloseAccount{},
		&FreezeAccount{},
		&ThawAccount{},
	}
	for _, ix := range shapes {
		data := ix.Pack()
		require.Equal(t, ix.Tag(), data[0])
		got, err := Unpack(data)
		require.NoError(t, err)
		require.Equal(t, ix, got)
	}
}

func TestUnpackRejectsMalformedData(t *testing.T) {
	for name, data := range map[string][]byte{
		"empty":          nil,
		"unknown tag":    {200},
		"short amount":   {TagTransfer, 1, 2},
		"trailing bytes": {TagRevoke, 0},
		"zero threshold": {TagInitializeMultisig, 0},
		"big threshold":  {TagInitializeMultisig, MaxSigners + 1},
	} {
		t.Run(name, func(t *testing.T) {
			got, err := Unpack(data)
			require.ErrorIs(t, err, ErrInvalidInstruction)
			require.Nil(t, got)
		})
	}
}

type countingVisitor struct{ visited map[string]int }

func (c *countingVisitor) hit(name string) error { c.visited[name]++; return nil }

func (c *countingVisitor) VisitInitializeMint(*InitializeMint) error { return c.hit("initializeMint") }
func (c *countingVisitor) VisitInitializeAccount(*InitializeAccount) error {
	return c.hit("initializeAccount")
}
func (c *countingVisitor) VisitInitializeMultisig(*InitializeMultisig) error {
	return c.hit("initializeMultisig")
}
func (c *countingVisitor) VisitTransfer(*Transfer) error           { return c.hit("transfer") }
func (c *countingVisitor) VisitApprove(*Approve) error             { return c.hit("approve") }
func (c *countingVisitor) VisitRevoke(*Revoke) error               { return c.hit("revoke") }
func (c *countingVisitor) VisitSetOwner(*SetOwner) error           { return c.hit("setOwner") }
func (c *countingVisitor) VisitMintTo(*MintTo) error               { return c.hit("mintTo") }
func (c *countingVisitor) VisitBurn(*Burn) error                   { return c.hit("burn") }
func (c *countingVisitor) VisitCloseAccount(*CloseAccount) error   { return c.hit("closeAccount") }
func (c *countingVisitor) VisitFreezeAccount(*FreezeAccount) error { return c.hit("freezeAccount") }
func (c *countingVisitor) VisitThawAccount(*ThawAccount) error     { return c.hit("thawAccount") }

func TestAcceptDispatchesByShape(t *testing.T) {
	v := &countingVisitor{visited: map[string]int{}}
	for tag := TagInitializeMint; tag <= TagThawAccount; tag++ {
		data := []byte{tag}
		switch tag {
		case TagInitializeMint:
			data = (&InitializeMint{}).Pack()
		case TagInitializeMultisig:
			data = []byte{tag, 1}
		case TagTransfer, TagApprove, TagMintTo, TagBurn:
			data = packAmount(tag, 0)
		}
		ix, err := Unpack(data)
		require.NoError(t, err)
		require.NoError(t, ix.Accept(v))
	}
	require.Len(t, v.visited, 12)
}
