// cardano-mailbox CLI - operator tooling for the cross-chain mailbox
//
// Drives the on-chain messaging contracts: dispatch outbound messages,
// deliver inbound ones, and manage the security module, registry and gas
// paymaster state.
//
// Example usage:
//	# Dispatch a message to domain 1
//	cardano-mailbox dispatch --dest 1 --recipient <hex32> --body 68656c6c6f
//
//	# Deliver an inbound message
//	cardano-mailbox deliver --message message.hex --metadata metadata.hex
//
//	# Update the security module
//	cardano-mailbox set-validators --domain 1 --validators <hex20>,<hex20>
//	cardano-mailbox set-threshold --domain 1 --threshold 2
//
//	# Pay for gas on the destination chain
//	cardano-mailbox pay-for-gas --message-id <hex32> --dest 1 --gas 200000
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/suffix-labs/cardano-mailbox/pkg/config"
	"github.com/suffix-labs/cardano-mailbox/pkg/ism"
	"github.com/suffix-labs/cardano-mailbox/pkg/keystore"
	"github.com/suffix-labs/cardano-mailbox/pkg/ledger"
	"github.com/suffix-labs/cardano-mailbox/pkg/mailbox"
	"github.com/suffix-labs/cardano-mailbox/pkg/message"
	"github.com/suffix-labs/cardano-mailbox/pkg/paymaster"
	"github.com/suffix-labs/cardano-mailbox/pkg/plutus"
	"github.com/suffix-labs/cardano-mailbox/pkg/registry"
	"github.com/suffix-labs/cardano-mailbox/pkg/relayer"
	"github.com/suffix-labs/cardano-mailbox/pkg/state"
)

const version = "v0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "init":
		cmdInit()
	case "dispatch":
		cmdDispatch()
	case "deliver":
		cmdDeliver()
	case "set-validators":
		cmdSetValidators()
	case "set-threshold":
		cmdSetThreshold()
	case "register":
		cmdRegister()
	case "pay-for-gas":
		cmdPayForGas()
	case "claim":
		cmdClaim()
	case "version":
		cmdVersion()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`cardano-mailbox - cross-chain mailbox operator tooling

Usage:
  cardano-mailbox <command> [options]

Commands:
  init            Mint the mailbox marker and create the initial state
  dispatch        Dispatch an outbound message through the mailbox
  deliver         Deliver an inbound message to its recipient
  set-validators  Replace a domain's validator set
  set-threshold   Replace a domain's signature threshold
  register        Add or replace a recipient registration
  pay-for-gas     Pay destination gas for a dispatched message
  claim           Claim the paymaster balance (beneficiary only)
  version         Show version information
  help            Show this help message

Options:
  --config <path>   Configuration file (default: mailbox.yaml,
                    or $CARDANO_MAILBOX_CONFIG)

Common flags:
  init:            --policy-file <file> [--address <bech32>]
  dispatch:        --dest <domain> --recipient <hex32> --body <hex>
  deliver:         --message <file> --metadata <file>
  set-validators:  --domain <id> --validators <hex20>[,<hex20>...]
  set-threshold:   --domain <id> --threshold <n>
  register:        --recipient <hex32> --state-policy <hex28> [--kind <n>]
  pay-for-gas:     --message-id <hex32> --dest <domain> [--gas <n>]
  claim:           --amount <lovelace>`)
}

func cmdVersion() {
	fmt.Printf("cardano-mailbox %s\n", version)
	fmt.Println("Transaction builder for the UTXO cross-chain mailbox contracts")
}

// flags is a minimal --name value parser over the arguments after the
// subcommand.
type flags map[string]string

func parseFlags(args []string) flags {
	f := make(flags)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			continue
		}
		name := strings.TrimPrefix(arg, "--")
		if eq := strings.IndexByte(name, '='); eq >= 0 {
			f[name[:eq]] = name[eq+1:]
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
			f[name] = args[i+1]
			i++
		} else {
			f[name] = ""
		}
	}
	return f
}

func (f flags) require(name string) string {
	v, ok := f[name]
	if !ok || v == "" {
		fatalf("missing required flag --%s", name)
	}
	return v
}

func (f flags) uint32Flag(name string) uint32 {
	v, err := strconv.ParseUint(f.require(name), 10, 32)
	if err != nil {
		fatalf("--%s: %v", name, err)
	}
	return uint32(v)
}

func (f flags) uint64Or(name string, fallback uint64) uint64 {
	raw, ok := f[name]
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		fatalf("--%s: %v", name, err)
	}
	return v
}

func (f flags) hex32(name string) [32]byte {
	raw, err := hex.DecodeString(f.require(name))
	if err != nil || len(raw) != 32 {
		fatalf("--%s must be 32 hex-encoded bytes", name)
	}
	var out [32]byte
	copy(out[:], raw)
	return out
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// env bundles everything a subcommand needs against one configuration.
type env struct {
	cfg    *config.Config
	client ledger.Client
	keys   *keystore.KeyStore
	exec   *state.Executor
	log    zerolog.Logger
}

func setup(f flags) *env {
	path := f["config"]
	if path == "" {
		path = os.Getenv("CARDANO_MAILBOX_CONFIG")
	}
	if path == "" {
		path = "mailbox.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		fatalf("%v", err)
	}
	log := cfg.NewLogger()

	keys, err := keystore.Load(cfg.KeyFile, cfg.KeystoreNetwork())
	if err != nil {
		fatalf("%v", err)
	}
	client := ledger.NewBlockfrost(cfg.Ledger.Endpoint, cfg.Ledger.ProjectKey, nil, log)

	return &env{
		cfg:    cfg,
		client: client,
		keys:   keys,
		exec:   &state.Executor{Client: client, Keys: keys, Log: log},
		log:    log,
	}
}

func (e *env) marker(c config.Contract, name string) ledger.AssetID {
	m, err := c.Marker()
	if err != nil {
		fatalf("%s: %v", name, err)
	}
	return m
}

func (e *env) mailboxManager() *mailbox.Manager {
	return &mailbox.Manager{
		Exec:    e.exec,
		Marker:  e.marker(e.cfg.Mailbox, "mailbox"),
		Address: e.cfg.Mailbox.Address,
	}
}

func cmdInit() {
	f := parseFlags(os.Args[2:])
	e := setup(f)

	raw, err := os.ReadFile(f.require("policy-file"))
	if err != nil {
		fatalf("reading policy: %v", err)
	}
	policy, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		fatalf("policy file is not hex: %v", err)
	}

	address := f["address"]
	if address == "" {
		address = e.cfg.Mailbox.Address
	}
	if address == "" {
		fatalf("missing required flag --address")
	}

	id := e.keys.IdentityHash()
	datum := &mailbox.Datum{
		LocalDomain: e.cfg.LocalDomain,
		DefaultISM:  e.marker(e.cfg.ISM, "ism").Policy,
		Owner:       id[:],
	}

	txID, err := e.exec.Initialize(context.Background(), &state.Genesis{
		Marker:       e.marker(e.cfg.Mailbox, "mailbox"),
		Policy:       policy,
		Address:      address,
		InitialDatum: datum.ToData(),
		MintRedeemer: plutus.NewConstr(0),
	})
	if err != nil {
		fatalf("init: %v", err)
	}
	fmt.Printf("Mailbox state initialized: %s\n", hex.EncodeToString(txID[:]))
}

func cmdDispatch() {
	f := parseFlags(os.Args[2:])
	e := setup(f)

	body, err := hex.DecodeString(f.require("body"))
	if err != nil {
		fatalf("--body must be hex: %v", err)
	}
	var sender [32]byte
	id := e.keys.IdentityHash()
	copy(sender[32-len(id):], id[:])

	txID, msg, err := e.mailboxManager().Dispatch(context.Background(),
		sender, f.uint32Flag("dest"), f.hex32("recipient"), body)
	if err != nil {
		fatalf("dispatch: %v", err)
	}
	msgID := msg.ID()
	fmt.Printf("Dispatched message %s\n", hex.EncodeToString(msgID[:]))
	fmt.Printf("  Nonce:       %d\n", msg.Nonce)
	fmt.Printf("  Destination: %d\n", msg.Destination)
	fmt.Printf("  Transaction: %s\n", hex.EncodeToString(txID[:]))
}

func cmdDeliver() {
	f := parseFlags(os.Args[2:])
	e := setup(f)

	msgRaw, err := os.ReadFile(f.require("message"))
	if err != nil {
		fatalf("reading message: %v", err)
	}
	msgBytes, err := hex.DecodeString(strings.TrimSpace(string(msgRaw)))
	if err != nil {
		fatalf("message file is not hex: %v", err)
	}
	msg, err := message.FromWire(msgBytes)
	if err != nil {
		fatalf("parsing message: %v", err)
	}

	var metadata []byte
	if path, ok := f["metadata"]; ok && path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			fatalf("reading metadata: %v", err)
		}
		metadata, err = hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			fatalf("metadata file is not hex: %v", err)
		}
	}

	a := &relayer.Assembler{
		Client:          e.client,
		Keys:            e.keys,
		Log:             e.log,
		Mailbox:         e.mailboxManager(),
		Registry:        &registry.Manager{Exec: e.exec, Marker: e.marker(e.cfg.Registry, "registry")},
		DefaultISM:      e.marker(e.cfg.ISM, "ism"),
		MarkerAddress:   e.cfg.MarkerAddress,
		ConfirmAttempts: e.cfg.Confirm.Attempts,
		ConfirmBackoff:  e.cfg.Confirm.Backoff,
	}

	d, err := a.Deliver(context.Background(), msg, metadata)
	if err != nil {
		fatalf("deliver: %v", err)
	}
	fmt.Printf("Delivery state: %s\n", d.State())
	fmt.Printf("  Transaction: %s\n", hex.EncodeToString(d.TxID[:]))
	if d.State() == relayer.StateNotYetConfirmed {
		fmt.Println("  The transaction may still confirm; check the delivery marker before retrying.")
	}
}

func cmdSetValidators() {
	f := parseFlags(os.Args[2:])
	e := setup(f)

	var validators [][ism.ValidatorSize]byte
	for _, part := range strings.Split(f.require("validators"), ",") {
		raw, err := hex.DecodeString(strings.TrimSpace(part))
		if err != nil || len(raw) != ism.ValidatorSize {
			fatalf("validator %q must be %d hex-encoded bytes", part, ism.ValidatorSize)
		}
		var v [ism.ValidatorSize]byte
		copy(v[:], raw)
		validators = append(validators, v)
	}

	m := &ism.Manager{Exec: e.exec, Marker: e.marker(e.cfg.ISM, "ism")}
	txID, err := m.SetValidators(context.Background(), f.uint32Flag("domain"), validators)
	if err != nil {
		fatalf("set-validators: %v", err)
	}
	fmt.Printf("Validator set updated: %s\n", hex.EncodeToString(txID[:]))
}

func cmdSetThreshold() {
	f := parseFlags(os.Args[2:])
	e := setup(f)

	m := &ism.Manager{Exec: e.exec, Marker: e.marker(e.cfg.ISM, "ism")}
	txID, err := m.SetThreshold(context.Background(), f.uint32Flag("domain"), f.uint32Flag("threshold"))
	if err != nil {
		fatalf("set-threshold: %v", err)
	}
	fmt.Printf("Threshold updated: %s\n", hex.EncodeToString(txID[:]))
}

func cmdRegister() {
	f := parseFlags(os.Args[2:])
	e := setup(f)

	policyRaw, err := hex.DecodeString(f.require("state-policy"))
	if err != nil || len(policyRaw) != 28 {
		fatalf("--state-policy must be 28 hex-encoded bytes")
	}
	var stateAsset ledger.AssetID
	copy(stateAsset.Policy[:], policyRaw)
	if name, ok := f["state-name"]; ok && name != "" {
		raw, err := hex.DecodeString(name)
		if err != nil {
			fatalf("--state-name must be hex: %v", err)
		}
		stateAsset.Name = raw
	}

	id := e.keys.IdentityHash()
	reg := registry.Registration{
		Recipient: f.hex32("recipient"),
		Owner:     id[:],
		State:     stateAsset,
		Kind:      uint32(f.uint64Or("kind", 0)),
	}

	m := &registry.Manager{Exec: e.exec, Marker: e.marker(e.cfg.Registry, "registry")}
	txID, err := m.Register(context.Background(), reg)
	if err != nil {
		fatalf("register: %v", err)
	}
	fmt.Printf("Registration submitted: %s\n", hex.EncodeToString(txID[:]))
}

func cmdPayForGas() {
	f := parseFlags(os.Args[2:])
	e := setup(f)

	m := &paymaster.Manager{Exec: e.exec, Marker: e.marker(e.cfg.Paymaster, "paymaster")}
	txID, payment, err := m.PayForGas(context.Background(),
		f.hex32("message-id"), f.uint32Flag("dest"), f.uint64Or("gas", 0))
	if err != nil {
		fatalf("pay-for-gas: %v", err)
	}
	fmt.Printf("Gas payment of %d lovelace submitted: %s\n", payment, hex.EncodeToString(txID[:]))
}

func cmdClaim() {
	f := parseFlags(os.Args[2:])
	e := setup(f)

	amount := f.uint64Or("amount", 0)
	if amount == 0 {
		fatalf("missing required flag --amount")
	}

	m := &paymaster.Manager{Exec: e.exec, Marker: e.marker(e.cfg.Paymaster, "paymaster")}
	txID, err := m.Claim(context.Background(), amount)
	if err != nil {
		fatalf("claim: %v", err)
	}
	fmt.Printf("Claimed %d lovelace: %s\n", amount, hex.EncodeToString(txID[:]))
}
