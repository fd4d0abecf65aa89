// Package paymaster manages the gas paymaster contract: per-destination
// gas pricing and the two flows allowed to move funds through a state
// continuation, paying for gas and claiming the accumulated balance.
package paymaster

import (
	"context"
	"fmt"
	"math/big"

	"github.com/suffix-labs/cardano-mailbox/pkg/ledger"
	"github.com/suffix-labs/cardano-mailbox/pkg/plutus"
	"github.com/suffix-labs/cardano-mailbox/pkg/state"
	"github.com/suffix-labs/cardano-mailbox/pkg/txbuilder"
)

// ExchangeScale divides the gas price times exchange rate product; rates
// are fixed-point with this denominator.
const ExchangeScale = 10_000_000_000

// DomainQuote prices gas for one destination domain.
type DomainQuote struct {
	Domain       uint32
	GasPrice     uint64 // destination wei per gas unit
	ExchangeRate uint64 // destination wei per local coin, scaled by ExchangeScale
}

// Datum is the paymaster contract's state.
type Datum struct {
	Owner           []byte // 28-byte payment key hash
	Beneficiary     []byte // 28-byte payment key hash allowed to claim
	Quotes          []DomainQuote
	DefaultGasLimit uint64
}

// QuoteFor returns the quote for a destination domain.
func (d *Datum) QuoteFor(domain uint32) (*DomainQuote, error) {
	for i := range d.Quotes {
		if d.Quotes[i].Domain == domain {
			return &d.Quotes[i], nil
		}
	}
	return nil, &ledger.NotFoundError{Kind: "gas quote", Subject: fmt.Sprintf("domain %d", domain)}
}

// QuotePayment converts a destination gas amount into the local coin
// payment, rounding up so underpayment is impossible.
func (d *Datum) QuotePayment(domain uint32, gasLimit uint64) (uint64, error) {
	q, err := d.QuoteFor(domain)
	if err != nil {
		return 0, err
	}
	if gasLimit == 0 {
		gasLimit = d.DefaultGasLimit
	}
	if q.ExchangeRate == 0 {
		return 0, fmt.Errorf("paymaster: domain %d has a zero exchange rate", domain)
	}
	// gasLimit*price*scale exceeds 64 bits for realistic prices.
	wei := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), new(big.Int).SetUint64(q.GasPrice))
	num := new(big.Int).Mul(wei, big.NewInt(ExchangeScale))
	rate := new(big.Int).SetUint64(q.ExchangeRate)
	num.Add(num, new(big.Int).Sub(rate, big.NewInt(1)))
	num.Div(num, rate)
	if !num.IsUint64() {
		return 0, fmt.Errorf("paymaster: payment for domain %d overflows", domain)
	}
	return num.Uint64(), nil
}

// SetQuote returns a copy with the domain's quote replaced in place, or
// appended when the domain is new.
func (d *Datum) SetQuote(q DomainQuote) *Datum {
	next := d.clone()
	for i := range next.Quotes {
		if next.Quotes[i].Domain == q.Domain {
			next.Quotes[i] = q
			return next
		}
	}
	next.Quotes = append(next.Quotes, q)
	return next
}

func (d *Datum) clone() *Datum {
	return &Datum{
		Owner:           append([]byte(nil), d.Owner...),
		Beneficiary:     append([]byte(nil), d.Beneficiary...),
		Quotes:          append([]DomainQuote(nil), d.Quotes...),
		DefaultGasLimit: d.DefaultGasLimit,
	}
}

// ToData encodes the paymaster datum. Quote entries are two-element
// lists keyed by domain, the value itself a two-element list of price and
// rate.
func (d *Datum) ToData() plutus.Data {
	quotes := make(plutus.List, 0, len(d.Quotes))
	for _, q := range d.Quotes {
		quotes = append(quotes, plutus.Tuple(
			plutus.Int(q.Domain),
			plutus.Tuple(plutus.Int(q.GasPrice), plutus.Int(q.ExchangeRate)),
		))
	}
	return plutus.NewConstr(0,
		plutus.Bytes(d.Owner),
		plutus.Bytes(d.Beneficiary),
		quotes,
		plutus.Int(d.DefaultGasLimit),
	)
}

// DatumFromData decodes a paymaster datum, failing closed on shape
// mismatch.
func DatumFromData(data plutus.Data) (*Datum, error) {
	c, ok := data.(plutus.Constr)
	if !ok || c.Index != 0 || len(c.Fields) != 4 {
		return nil, fmt.Errorf("paymaster: datum is not a 4-field record")
	}
	owner, ok := c.Fields[0].(plutus.Bytes)
	if !ok || len(owner) != 28 {
		return nil, fmt.Errorf("paymaster: owner is not a 28-byte key hash")
	}
	beneficiary, ok := c.Fields[1].(plutus.Bytes)
	if !ok || len(beneficiary) != 28 {
		return nil, fmt.Errorf("paymaster: beneficiary is not a 28-byte key hash")
	}
	quotes, ok := c.Fields[2].(plutus.List)
	if !ok {
		return nil, fmt.Errorf("paymaster: quote table is not a list")
	}
	limit, ok := c.Fields[3].(plutus.Int)
	if !ok || limit < 0 {
		return nil, fmt.Errorf("paymaster: default gas limit out of range")
	}

	d := &Datum{
		Owner:           append([]byte(nil), owner...),
		Beneficiary:     append([]byte(nil), beneficiary...),
		DefaultGasLimit: uint64(limit),
	}
	for _, entry := range quotes {
		pair, ok := entry.(plutus.List)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("paymaster: quote entry is not a two-element list")
		}
		domain, ok := pair[0].(plutus.Int)
		if !ok || domain < 0 || domain > 0xffffffff {
			return nil, fmt.Errorf("paymaster: quote key is not a domain id")
		}
		value, ok := pair[1].(plutus.List)
		if !ok || len(value) != 2 {
			return nil, fmt.Errorf("paymaster: quote value is not a two-element list")
		}
		price, ok := value[0].(plutus.Int)
		if !ok || price < 0 {
			return nil, fmt.Errorf("paymaster: gas price out of range")
		}
		rate, ok := value[1].(plutus.Int)
		if !ok || rate < 0 {
			return nil, fmt.Errorf("paymaster: exchange rate out of range")
		}
		d.Quotes = append(d.Quotes, DomainQuote{
			Domain:       uint32(domain),
			GasPrice:     uint64(price),
			ExchangeRate: uint64(rate),
		})
	}
	return d, nil
}

// Redeemer constructors for the paymaster validator.
const (
	redeemerPayForGas = 0
	redeemerClaim     = 1
	redeemerSetQuote  = 2
)

// PayForGasRedeemer records which message the deposit funds.
func PayForGasRedeemer(messageID [32]byte, gasLimit uint64) plutus.Data {
	return plutus.NewConstr(redeemerPayForGas, plutus.Bytes(messageID[:]), plutus.Int(gasLimit))
}

// ClaimRedeemer authorizes the beneficiary's withdrawal.
func ClaimRedeemer(amount uint64) plutus.Data {
	return plutus.NewConstr(redeemerClaim, plutus.Int(amount))
}

// SetQuoteRedeemer authorizes a quote-table update.
func SetQuoteRedeemer(q DomainQuote) plutus.Data {
	return plutus.NewConstr(redeemerSetQuote,
		plutus.Int(q.Domain), plutus.Int(q.GasPrice), plutus.Int(q.ExchangeRate))
}

// Manager drives paymaster state transitions.
type Manager struct {
	Exec      *state.Executor
	Marker    ledger.AssetID
	Script    []byte
	ScriptRef *ledger.UtxoRef
	ExUnits   txbuilder.ExUnits
}

// Current locates and decodes the live paymaster state.
func (m *Manager) Current(ctx context.Context) (*ledger.Utxo, *Datum, error) {
	subject, err := state.Locate(ctx, m.Exec.Client, m.Marker)
	if err != nil {
		return nil, nil, err
	}
	var datum *Datum
	err = state.ParseDatum(subject, func(d plutus.Data) error {
		parsed, err := DatumFromData(d)
		if err != nil {
			return err
		}
		datum = parsed
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return subject, datum, nil
}

// PayForGas quotes the payment for a message and deposits it into the
// paymaster's continuation. The datum is unchanged; only the value moves.
func (m *Manager) PayForGas(ctx context.Context, messageID [32]byte, destination uint32, gasLimit uint64) ([32]byte, uint64, error) {
	subject, datum, err := m.Current(ctx)
	if err != nil {
		return [32]byte{}, 0, err
	}
	payment, err := datum.QuotePayment(destination, gasLimit)
	if err != nil {
		return [32]byte{}, 0, err
	}
	if gasLimit == 0 {
		gasLimit = datum.DefaultGasLimit
	}
	txID, err := m.Exec.Execute(ctx, &state.Transition{
		Subject:   subject,
		Marker:    m.Marker,
		Redeemer:  PayForGasRedeemer(messageID, gasLimit),
		NewDatum:  datum.ToData(),
		ExUnits:   m.ExUnits,
		Script:    m.Script,
		ScriptRef: m.ScriptRef,
		Deposit:   payment,
	})
	if err != nil {
		return [32]byte{}, 0, err
	}
	return txID, payment, nil
}

// Claim withdraws the accumulated balance above the contract's minimum
// reserve to the beneficiary's wallet. Beneficiary only.
func (m *Manager) Claim(ctx context.Context, amount uint64) ([32]byte, error) {
	subject, datum, err := m.Current(ctx)
	if err != nil {
		return [32]byte{}, err
	}
	if err := state.CheckOwner(datum.Beneficiary, m.Exec.Keys.IdentityHash(), "beneficiary"); err != nil {
		return [32]byte{}, err
	}
	return m.Exec.Execute(ctx, &state.Transition{
		Subject:   subject,
		Marker:    m.Marker,
		Redeemer:  ClaimRedeemer(amount),
		NewDatum:  datum.ToData(),
		ExUnits:   m.ExUnits,
		Script:    m.Script,
		ScriptRef: m.ScriptRef,
		Withdraw:  amount,
	})
}

// SetQuote updates the price table for one destination. Owner only.
func (m *Manager) SetQuote(ctx context.Context, q DomainQuote) ([32]byte, error) {
	subject, datum, err := m.Current(ctx)
	if err != nil {
		return [32]byte{}, err
	}
	if err := state.CheckOwner(datum.Owner, m.Exec.Keys.IdentityHash(), "owner"); err != nil {
		return [32]byte{}, err
	}
	return m.Exec.Execute(ctx, &state.Transition{
		Subject:   subject,
		Marker:    m.Marker,
		Redeemer:  SetQuoteRedeemer(q),
		NewDatum:  datum.SetQuote(q).ToData(),
		ExUnits:   m.ExUnits,
		Script:    m.Script,
		ScriptRef: m.ScriptRef,
	})
}
