package relayer

import (
	"fmt"

	"github.com/suffix-labs/cardano-mailbox/pkg/ledger"
	"github.com/suffix-labs/cardano-mailbox/pkg/message"
	"github.com/suffix-labs/cardano-mailbox/pkg/plutus"
)

// RecipientDatum is an application recipient's state: an optional
// security-module override, the last processed inbound nonce, and the
// application's own inner state, opaque to the relayer.
type RecipientDatum struct {
	ISMOverride *ledger.AssetID
	Processed   *uint32
	Inner       plutus.Data
}

// Handle returns the continuation datum after delivering msg: the
// processed nonce advances and the delivered body is recorded as the
// inner state.
func (d *RecipientDatum) Handle(msg *message.Message) *RecipientDatum {
	nonce := msg.Nonce
	return &RecipientDatum{
		ISMOverride: d.ISMOverride,
		Processed:   &nonce,
		Inner:       plutus.Bytes(append([]byte(nil), msg.Body...)),
	}
}

// ToData encodes the recipient datum.
func (d *RecipientDatum) ToData() plutus.Data {
	ism := plutus.Data(plutus.NewConstr(1))
	if d.ISMOverride != nil {
		ism = plutus.NewConstr(0, plutus.NewConstr(0,
			plutus.Bytes(d.ISMOverride.Policy[:]), plutus.Bytes(d.ISMOverride.Name)))
	}
	processed := plutus.Data(plutus.NewConstr(1))
	if d.Processed != nil {
		processed = plutus.NewConstr(0, plutus.Int(*d.Processed))
	}
	inner := d.Inner
	if inner == nil {
		inner = plutus.NewConstr(0)
	}
	return plutus.NewConstr(0, ism, processed, inner)
}

// RecipientFromData decodes a recipient datum, failing closed on shape
// mismatch.
func RecipientFromData(data plutus.Data) (*RecipientDatum, error) {
	c, ok := data.(plutus.Constr)
	if !ok || c.Index != 0 || len(c.Fields) != 3 {
		return nil, fmt.Errorf("relayer: recipient datum is not a 3-field record")
	}

	d := &RecipientDatum{Inner: c.Fields[2]}

	ism, ok := c.Fields[0].(plutus.Constr)
	if !ok {
		return nil, fmt.Errorf("relayer: security-module override is not optional-shaped")
	}
	switch {
	case ism.Index == 1 && len(ism.Fields) == 0:
	case ism.Index == 0 && len(ism.Fields) == 1:
		inner, ok := ism.Fields[0].(plutus.Constr)
		if !ok || inner.Index != 0 || len(inner.Fields) != 2 {
			return nil, fmt.Errorf("relayer: security-module locator is not a 2-field record")
		}
		policy, ok := inner.Fields[0].(plutus.Bytes)
		if !ok || len(policy) != 28 {
			return nil, fmt.Errorf("relayer: security-module policy is not 28 bytes")
		}
		name, ok := inner.Fields[1].(plutus.Bytes)
		if !ok {
			return nil, fmt.Errorf("relayer: security-module asset name is not a byte string")
		}
		var a ledger.AssetID
		copy(a.Policy[:], policy)
		a.Name = append([]byte(nil), name...)
		d.ISMOverride = &a
	default:
		return nil, fmt.Errorf("relayer: security-module override has unexpected shape")
	}

	processed, ok := c.Fields[1].(plutus.Constr)
	if !ok {
		return nil, fmt.Errorf("relayer: processed nonce is not optional-shaped")
	}
	switch {
	case processed.Index == 1 && len(processed.Fields) == 0:
	case processed.Index == 0 && len(processed.Fields) == 1:
		n, ok := processed.Fields[0].(plutus.Int)
		if !ok || n < 0 || n > 0xffffffff {
			return nil, fmt.Errorf("relayer: processed nonce out of range")
		}
		nonce := uint32(n)
		d.Processed = &nonce
	default:
		return nil, fmt.Errorf("relayer: processed nonce has unexpected shape")
	}

	return d, nil
}

// HandleMessageRedeemer authorizes the recipient's state update for one
// inbound message.
func HandleMessageRedeemer(msg *message.Message) plutus.Data {
	return plutus.NewConstr(0, msg.ToData())
}
