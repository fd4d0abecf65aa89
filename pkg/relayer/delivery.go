// Package relayer assembles and submits message delivery transactions.
//
// A delivery is one transaction that spends the mailbox state and the
// recipient state, references the security module, and produces a
// delivery marker output whose existence is the on-chain proof of
// delivery. Each delivery steps through a fixed state machine; the
// terminal state is either finalized or not-yet-confirmed, never a
// silent retry, because a submitted transaction may land after the last
// confirmation poll.
package relayer

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"github.com/suffix-labs/cardano-mailbox/pkg/keystore"
	"github.com/suffix-labs/cardano-mailbox/pkg/ledger"
	"github.com/suffix-labs/cardano-mailbox/pkg/mailbox"
	"github.com/suffix-labs/cardano-mailbox/pkg/message"
	"github.com/suffix-labs/cardano-mailbox/pkg/plutus"
	"github.com/suffix-labs/cardano-mailbox/pkg/registry"
	"github.com/suffix-labs/cardano-mailbox/pkg/state"
	"github.com/suffix-labs/cardano-mailbox/pkg/txbuilder"
)

// Delivery states.
const (
	StateDiscovered      = "discovered"
	StateComponentsBuilt = "components_built"
	StateAssembled       = "assembled"
	StateSigned          = "signed"
	StateSubmitted       = "submitted"
	StateFinalized       = "finalized"
	StateNotYetConfirmed = "not_yet_confirmed"
)

// Delivery events.
const (
	eventBuild    = "build"
	eventAssemble = "assemble"
	eventSign     = "sign"
	eventSubmit   = "submit"
	eventFinalize = "finalize"
	eventStall    = "stall"
)

func newDeliveryFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateDiscovered,
		fsm.Events{
			{Name: eventBuild, Src: []string{StateDiscovered}, Dst: StateComponentsBuilt},
			{Name: eventAssemble, Src: []string{StateComponentsBuilt}, Dst: StateAssembled},
			{Name: eventSign, Src: []string{StateAssembled}, Dst: StateSigned},
			{Name: eventSubmit, Src: []string{StateSigned}, Dst: StateSubmitted},
			{Name: eventFinalize, Src: []string{StateSubmitted}, Dst: StateFinalized},
			{Name: eventStall, Src: []string{StateSubmitted}, Dst: StateNotYetConfirmed},
		},
		fsm.Callbacks{},
	)
}

// Delivery tracks one message through the delivery state machine.
type Delivery struct {
	Message *message.Message
	TxID    [32]byte
	machine *fsm.FSM
}

// State returns the delivery's current state.
func (d *Delivery) State() string {
	return d.machine.Current()
}

// Assembler builds delivery transactions.
type Assembler struct {
	Client ledger.Client
	Keys   *keystore.KeyStore
	Log    zerolog.Logger

	Mailbox  *mailbox.Manager
	Registry *registry.Manager

	// DefaultISM locates the protocol security module when neither the
	// registration nor the recipient datum overrides it.
	DefaultISM ledger.AssetID

	// MarkerAddress is the script address delivery markers live at.
	MarkerAddress string

	// RecipientScript is attached when a registration declares no
	// reference-script locator.
	RecipientScript []byte

	RecipientExUnits txbuilder.ExUnits

	ConfirmAttempts int
	ConfirmBackoff  time.Duration
}

// components is everything the build step resolves before assembly.
type components struct {
	mailboxUtxo    *ledger.Utxo
	mailboxDatum   plutus.Data
	mailboxState   *mailbox.Datum
	reg            *registry.Registration
	recipientUtxo  *ledger.Utxo
	recipientDatum *RecipientDatum
	ismRef         ledger.UtxoRef
	scriptRefs     []ledger.UtxoRef
	extraSpend     []ledger.Utxo
	extraRef       []ledger.UtxoRef
}

// CheckDelivered looks for the message's delivery marker. The returned
// ref points at the marker output when the message has been delivered.
func (a *Assembler) CheckDelivered(ctx context.Context, messageID [32]byte) (*ledger.UtxoRef, error) {
	utxos, err := a.Client.GetUtxos(ctx, a.MarkerAddress)
	if err != nil {
		return nil, err
	}
	// The indexer may return either byte-string framing and may wrap the
	// datum in an extra constructor, so the comparison goes through the
	// codec rather than raw bytes.
	want := plutus.Bytes(messageID[:])
	for i := range utxos {
		if len(utxos[i].InlineDatum) == 0 {
			continue
		}
		d, err := plutus.Decode(utxos[i].InlineDatum)
		if err != nil {
			continue
		}
		if inner, ok := plutus.Unwrapped(d); ok && plutus.Equal(inner, want) {
			return &utxos[i].Ref, nil
		}
		if plutus.Equal(d, want) {
			return &utxos[i].Ref, nil
		}
	}
	return nil, nil
}

func (a *Assembler) buildComponents(ctx context.Context, msg *message.Message) (*components, error) {
	c := &components{}

	mailboxUtxo, err := a.Mailbox.Locate(ctx)
	if err != nil {
		return nil, &ComponentError{Component: "mailbox state", Cause: err}
	}
	c.mailboxUtxo = mailboxUtxo
	// Process does not mutate mailbox state: the continuation carries the
	// consumed datum unchanged.
	c.mailboxDatum, err = state.Read(mailboxUtxo)
	if err != nil {
		return nil, &ComponentError{Component: "mailbox datum", Cause: err}
	}
	err = state.ParseDatum(mailboxUtxo, func(d plutus.Data) error {
		parsed, err := mailbox.DatumFromData(d)
		if err != nil {
			return err
		}
		c.mailboxState = parsed
		return nil
	})
	if err != nil {
		return nil, &ComponentError{Component: "mailbox datum", Cause: err}
	}

	reg, err := a.Registry.Lookup(ctx, msg.Recipient)
	if err != nil {
		return nil, &ComponentError{Component: "recipient registration", Cause: err}
	}
	c.reg = reg

	recipientUtxo, err := state.Locate(ctx, a.Client, reg.State)
	if err != nil {
		return nil, &ComponentError{Component: "recipient state", Cause: err}
	}
	c.recipientUtxo = recipientUtxo
	err = state.ParseDatum(recipientUtxo, func(d plutus.Data) error {
		parsed, err := RecipientFromData(d)
		if err != nil {
			return err
		}
		c.recipientDatum = parsed
		return nil
	})
	if err != nil {
		return nil, &ComponentError{Component: "recipient datum", Cause: err}
	}

	if reg.ScriptRef != nil {
		refUtxo, err := state.Locate(ctx, a.Client, *reg.ScriptRef)
		if err != nil {
			return nil, &ComponentError{Component: "recipient reference script", Cause: err}
		}
		c.scriptRefs = append(c.scriptRefs, refUtxo.Ref)
	}

	// The mailbox datum names the default security module on chain; the
	// configured marker supplies the asset name and the fallback when the
	// field is unset.
	ismMarker := a.DefaultISM
	if c.mailboxState.DefaultISM != ([28]byte{}) {
		ismMarker = ledger.AssetID{Policy: c.mailboxState.DefaultISM, Name: a.DefaultISM.Name}
	}
	if c.recipientDatum.ISMOverride != nil {
		ismMarker = *c.recipientDatum.ISMOverride
	}
	if reg.CustomISM != nil {
		ismMarker = *reg.CustomISM
	}
	ismUtxo, err := state.Locate(ctx, a.Client, ismMarker)
	if err != nil {
		return nil, &ComponentError{Component: "security module", Cause: err}
	}
	c.ismRef = ismUtxo.Ref

	for _, extra := range reg.Extra {
		u, err := state.Locate(ctx, a.Client, extra.Locator)
		if err != nil {
			return nil, &ComponentError{Component: "registered extra input", Cause: err}
		}
		if extra.MustSpend {
			c.extraSpend = append(c.extraSpend, *u)
		} else {
			c.extraRef = append(c.extraRef, u.Ref)
		}
	}
	return c, nil
}

// Deliver runs one message through the full delivery flow. The returned
// Delivery reports the terminal state; StateNotYetConfirmed with a nil
// error means the transaction is in flight and a later marker check must
// decide whether to try again.
func (a *Assembler) Deliver(ctx context.Context, msg *message.Message, metadata []byte) (*Delivery, error) {
	d := &Delivery{Message: msg, machine: newDeliveryFSM()}
	msgID := msg.ID()

	if marker, err := a.CheckDelivered(ctx, msgID); err != nil {
		return d, err
	} else if marker != nil {
		return d, &AlreadyDeliveredError{MessageID: msgID, Marker: marker.String()}
	}

	comp, err := a.buildComponents(ctx, msg)
	if err != nil {
		return d, err
	}
	if err := d.machine.Event(ctx, eventBuild); err != nil {
		return d, err
	}

	tx, err := a.assemble(ctx, comp, msg, metadata, msgID)
	if err != nil {
		return d, err
	}
	if err := d.machine.Event(ctx, eventAssemble); err != nil {
		return d, err
	}

	tx.Sign(a.Keys)
	if err := d.machine.Event(ctx, eventSign); err != nil {
		return d, err
	}

	if _, err := a.Client.Submit(ctx, tx.Bytes()); err != nil {
		return d, err
	}
	d.TxID = tx.ID()
	if err := d.machine.Event(ctx, eventSubmit); err != nil {
		return d, err
	}
	a.Log.Info().
		Str("message", hex.EncodeToString(msgID[:])).
		Str("tx", hex.EncodeToString(d.TxID[:])).
		Msg("delivery submitted")

	attempts := a.ConfirmAttempts
	if attempts == 0 {
		attempts = 10
	}
	backoff := a.ConfirmBackoff
	if backoff == 0 {
		backoff = 5 * time.Second
	}
	confirmed, err := ledger.AwaitConfirmation(ctx, a.Client, d.TxID, attempts, backoff)
	if err != nil {
		return d, err
	}
	if confirmed {
		return d, d.machine.Event(ctx, eventFinalize)
	}
	return d, d.machine.Event(ctx, eventStall)
}

func (a *Assembler) assemble(ctx context.Context, comp *components, msg *message.Message, metadata []byte, msgID [32]byte) (*txbuilder.Tx, error) {
	params, err := a.Client.GetCostModel(ctx)
	if err != nil {
		return nil, err
	}
	tip, err := a.Client.GetLatestSlot(ctx)
	if err != nil {
		return nil, err
	}
	walletAddr, err := a.Keys.Address()
	if err != nil {
		return nil, err
	}
	wallet, err := a.Client.GetUtxos(ctx, walletAddr)
	if err != nil {
		return nil, err
	}

	markerCoin := params.MinOutputCoin(96)
	fee := txbuilder.EstimateFee(params, 8192, true)
	floor := fee + markerCoin + params.MinOutputCoin(128)

	// The mailbox script derives the message sender from the first input
	// under canonical ordering, so the fee input must sort before it.
	sel, err := txbuilder.SelectOrderedBefore(wallet, comp.mailboxUtxo.Ref, floor)
	if err != nil {
		return nil, err
	}
	if need := txbuilder.CollateralFloor(params, fee); sel.Collateral.Value.Coin < need {
		return nil, &txbuilder.NoCollateralError{Address: walletAddr, Required: need}
	}

	b := txbuilder.NewBuilder()
	b.AddScriptInput(comp.mailboxUtxo.Ref, mailbox.ProcessRedeemer(msg, metadata), a.Mailbox.ExUnits)
	b.AddScriptInput(comp.recipientUtxo.Ref, HandleMessageRedeemer(msg), a.RecipientExUnits)
	for _, u := range comp.extraSpend {
		b.AddInput(u.Ref)
	}
	for _, u := range sel.Inputs {
		b.AddInput(u.Ref)
	}
	b.AddCollateral(sel.Collateral.Ref)

	b.AddReferenceInput(comp.ismRef)
	for _, ref := range comp.scriptRefs {
		b.AddReferenceInput(ref)
	}
	for _, ref := range comp.extraRef {
		b.AddReferenceInput(ref)
	}
	if a.Mailbox.ScriptRef != nil {
		b.AddReferenceInput(*a.Mailbox.ScriptRef)
	} else if len(a.Mailbox.Script) > 0 {
		b.AttachScript(a.Mailbox.Script)
	}
	if comp.reg.ScriptRef == nil && len(a.RecipientScript) > 0 {
		b.AttachScript(a.RecipientScript)
	}

	// Mailbox continuation, unchanged.
	mailboxOut, err := state.ContinuationOutput(comp.mailboxUtxo, comp.mailboxDatum, 0, 0)
	if err != nil {
		return nil, err
	}
	if err := state.VerifyContinuation(comp.mailboxUtxo, a.Mailbox.Marker, &mailboxOut); err != nil {
		return nil, err
	}
	b.AddOutput(mailboxOut)

	// Recipient continuation with the delivery applied.
	recipientOut, err := state.ContinuationOutput(comp.recipientUtxo, comp.recipientDatum.Handle(msg).ToData(), 0, 0)
	if err != nil {
		return nil, err
	}
	if err := state.VerifyContinuation(comp.recipientUtxo, comp.reg.State, &recipientOut); err != nil {
		return nil, err
	}
	b.AddOutput(recipientOut)

	// Must-spend extras are reproduced unchanged so their tokens and
	// state survive the delivery.
	for i := range comp.extraSpend {
		u := &comp.extraSpend[i]
		out := txbuilder.Output{Address: u.Address, Value: u.Value}
		if u.HasInlineDatum() {
			datum, err := state.Read(u)
			if err != nil {
				return nil, err
			}
			out.InlineDatum = datum
		}
		b.AddOutput(out)
	}

	// The delivery marker: its existence at the marker address is the
	// proof of delivery.
	b.AddOutput(txbuilder.Output{
		Address:     a.MarkerAddress,
		Value:       ledger.Value{Coin: markerCoin},
		InlineDatum: plutus.Bytes(msgID[:]),
	})

	spent := fee + markerCoin
	if sel.Total < spent {
		return nil, &txbuilder.InsufficientFundsError{Required: spent, Available: sel.Total}
	}
	if change := sel.Total - spent; change > 0 {
		b.AddOutput(txbuilder.Output{Address: walletAddr, Value: ledger.Value{Coin: change}})
	}

	b.SetFee(fee)
	b.SetValidity(0, tip+600)
	b.AddRequiredSigner(a.Keys.IdentityHash())
	return b.Build(params)
}
