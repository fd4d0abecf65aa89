// Blockfrost-style HTTP implementation of the Client interface.
//
// The indexer speaks plain REST with a project-key header. Amounts come back
// as decimal strings and script data as hex, so every response is decoded
// into the typed forms the builders use and validation errors surface as
// QueryErrors rather than partial values.
package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/rs/zerolog"
)

const lovelaceUnit = "lovelace"

// Blockfrost talks to a Blockfrost-compatible query service.
type Blockfrost struct {
	baseURL    string
	projectKey string
	http       *http.Client
	log        zerolog.Logger
}

// NewBlockfrost returns a client for the given endpoint. A nil httpClient
// uses http.DefaultClient.
func NewBlockfrost(baseURL, projectKey string, httpClient *http.Client, log zerolog.Logger) *Blockfrost {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Blockfrost{
		baseURL:    baseURL,
		projectKey: projectKey,
		http:       httpClient,
		log:        log,
	}
}

type jsonAmount struct {
	Unit     string `json:"unit"`
	Quantity string `json:"quantity"`
}

type jsonUtxo struct {
	TxHash      string       `json:"tx_hash"`
	OutputIndex uint32       `json:"output_index"`
	Address     string       `json:"address"`
	Amount      []jsonAmount `json:"amount"`
	InlineDatum *string      `json:"inline_datum"`
	ScriptRef   *string      `json:"reference_script"`
}

type jsonAssetAddress struct {
	Address  string `json:"address"`
	Quantity string `json:"quantity"`
}

type jsonBlock struct {
	Slot uint64 `json:"slot"`
}

type jsonTxUtxos struct {
	Hash    string     `json:"hash"`
	Outputs []jsonUtxo `json:"outputs"`
}

type jsonAddressTx struct {
	TxHash string `json:"tx_hash"`
}

type jsonParams struct {
	MinFeeA          uint64                      `json:"min_fee_a"`
	MinFeeB          uint64                      `json:"min_fee_b"`
	CoinsPerUtxoSize string                      `json:"coins_per_utxo_size"`
	CollateralPct    uint64                      `json:"collateral_percent"`
	MaxTxExMem       string                      `json:"max_tx_ex_mem"`
	MaxTxExSteps     string                      `json:"max_tx_ex_steps"`
	CostModels       map[string]map[string]int64 `json:"cost_models"`
}

// get issues a GET and decodes the JSON body into out. When notFoundEmpty
// is true a 404 returns (false, nil) with out untouched.
func (b *Blockfrost) get(ctx context.Context, path string, out interface{}, notFoundEmpty bool) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return false, &QueryError{Endpoint: path, Message: "building request", Cause: err}
	}
	req.Header.Set("project_id", b.projectKey)

	resp, err := b.http.Do(req)
	if err != nil {
		return false, &QueryError{Endpoint: path, Message: "transport failure", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && notFoundEmpty {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, &QueryError{Endpoint: path, Status: resp.StatusCode,
			Message: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, &QueryError{Endpoint: path, Status: resp.StatusCode,
			Message: "decoding response", Cause: err}
	}
	return true, nil
}

func (b *Blockfrost) GetUtxos(ctx context.Context, address string) ([]Utxo, error) {
	path := "/addresses/" + url.PathEscape(address) + "/utxos"
	var raw []jsonUtxo
	found, err := b.get(ctx, path, &raw, true)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	utxos := make([]Utxo, 0, len(raw))
	for _, ju := range raw {
		u, err := decodeUtxo(ju, address)
		if err != nil {
			return nil, &QueryError{Endpoint: path, Message: "malformed utxo", Cause: err}
		}
		utxos = append(utxos, u)
	}
	return utxos, nil
}

func (b *Blockfrost) FindUtxoByToken(ctx context.Context, asset AssetID) (*Utxo, error) {
	unit := asset.Unit()
	path := "/assets/" + unit + "/addresses"
	var holders []jsonAssetAddress
	found, err := b.get(ctx, path, &holders, true)
	if err != nil {
		return nil, err
	}
	if !found || len(holders) == 0 {
		return nil, &NotFoundError{Kind: "marker token", Subject: unit}
	}

	// A marker token has exactly one live holder; scan its outputs for the unit.
	utxos, err := b.GetUtxos(ctx, holders[0].Address)
	if err != nil {
		return nil, err
	}
	for i := range utxos {
		if utxos[i].Value.QuantityOf(asset) > 0 {
			b.log.Debug().Str("unit", unit).Str("utxo", utxos[i].Ref.String()).
				Msg("located marker utxo")
			return &utxos[i], nil
		}
	}
	return nil, &NotFoundError{Kind: "marker token", Subject: unit}
}

func (b *Blockfrost) GetTransactionUtxos(ctx context.Context, txID [32]byte) ([]Utxo, error) {
	id := hex.EncodeToString(txID[:])
	path := "/txs/" + id + "/utxos"
	var raw jsonTxUtxos
	found, err := b.get(ctx, path, &raw, true)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &NotFoundError{Kind: "transaction", Subject: id}
	}
	utxos := make([]Utxo, 0, len(raw.Outputs))
	for _, ju := range raw.Outputs {
		if ju.TxHash == "" {
			ju.TxHash = raw.Hash
		}
		u, err := decodeUtxo(ju, ju.Address)
		if err != nil {
			return nil, &QueryError{Endpoint: path, Message: "malformed output", Cause: err}
		}
		utxos = append(utxos, u)
	}
	return utxos, nil
}

func (b *Blockfrost) GetLatestSlot(ctx context.Context) (uint64, error) {
	var blk jsonBlock
	if _, err := b.get(ctx, "/blocks/latest", &blk, false); err != nil {
		return 0, err
	}
	return blk.Slot, nil
}

func (b *Blockfrost) GetCostModel(ctx context.Context) (*ProtocolParams, error) {
	var raw jsonParams
	if _, err := b.get(ctx, "/epochs/latest/parameters", &raw, false); err != nil {
		return nil, err
	}

	coins, err := strconv.ParseUint(raw.CoinsPerUtxoSize, 10, 64)
	if err != nil {
		return nil, &QueryError{Endpoint: "/epochs/latest/parameters",
			Message: "invalid coins_per_utxo_size", Cause: err}
	}
	mem, _ := strconv.ParseUint(raw.MaxTxExMem, 10, 64)
	steps, _ := strconv.ParseUint(raw.MaxTxExSteps, 10, 64)

	params := &ProtocolParams{
		MinFeeA:          raw.MinFeeA,
		MinFeeB:          raw.MinFeeB,
		CoinsPerUtxoByte: coins,
		CollateralPct:    raw.CollateralPct,
		MaxExUnitsMem:    mem,
		MaxExUnitsSteps:  steps,
	}

	// The language view orders cost-model operations alphabetically; the
	// indexer returns them keyed by name.
	if ops, ok := raw.CostModels["PlutusV2"]; ok {
		names := make([]string, 0, len(ops))
		for name := range ops {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			params.CostModel = append(params.CostModel, ops[name])
		}
	}
	return params, nil
}

func (b *Blockfrost) Submit(ctx context.Context, signedTx []byte) ([32]byte, error) {
	var txID [32]byte
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+"/tx/submit", bytes.NewReader(signedTx))
	if err != nil {
		return txID, &SubmitError{Message: "building request", Cause: err}
	}
	req.Header.Set("project_id", b.projectKey)
	req.Header.Set("Content-Type", "application/cbor")

	resp, err := b.http.Do(req)
	if err != nil {
		return txID, &SubmitError{Message: "transport failure", Cause: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return txID, &SubmitError{Message: fmt.Sprintf("status %d: %s", resp.StatusCode, body)}
	}

	var idHex string
	if err := json.Unmarshal(body, &idHex); err != nil {
		return txID, &SubmitError{Message: "decoding response", Cause: err}
	}
	raw, err := hex.DecodeString(idHex)
	if err != nil || len(raw) != 32 {
		return txID, &SubmitError{Message: fmt.Sprintf("malformed tx id %q", idHex)}
	}
	copy(txID[:], raw)
	b.log.Info().Str("tx", idHex).Msg("submitted transaction")
	return txID, nil
}

func (b *Blockfrost) GetAddressTransactions(ctx context.Context, address string, fromSlot, toSlot uint64) ([][32]byte, error) {
	path := fmt.Sprintf("/addresses/%s/transactions?from=%d&to=%d",
		url.PathEscape(address), fromSlot, toSlot)
	var raw []jsonAddressTx
	found, err := b.get(ctx, path, &raw, true)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	ids := make([][32]byte, 0, len(raw))
	for _, tx := range raw {
		decoded, err := hex.DecodeString(tx.TxHash)
		if err != nil || len(decoded) != 32 {
			return nil, &QueryError{Endpoint: path,
				Message: fmt.Sprintf("malformed tx hash %q", tx.TxHash)}
		}
		var id [32]byte
		copy(id[:], decoded)
		ids = append(ids, id)
	}
	return ids, nil
}

func decodeUtxo(ju jsonUtxo, address string) (Utxo, error) {
	var u Utxo
	txid, err := hex.DecodeString(ju.TxHash)
	if err != nil || len(txid) != 32 {
		return u, fmt.Errorf("malformed tx hash %q", ju.TxHash)
	}
	copy(u.Ref.TxID[:], txid)
	u.Ref.Index = ju.OutputIndex
	u.Address = address
	if ju.Address != "" {
		u.Address = ju.Address
	}

	for _, amt := range ju.Amount {
		qty, err := strconv.ParseUint(amt.Quantity, 10, 64)
		if err != nil {
			return u, fmt.Errorf("malformed quantity %q", amt.Quantity)
		}
		if amt.Unit == lovelaceUnit {
			u.Value.Coin = qty
			continue
		}
		id, err := parseUnit(amt.Unit)
		if err != nil {
			return u, err
		}
		u.Value.Assets = append(u.Value.Assets, AssetQuantity{ID: id, Quantity: qty})
	}

	if ju.InlineDatum != nil && *ju.InlineDatum != "" {
		datum, err := hex.DecodeString(*ju.InlineDatum)
		if err != nil {
			return u, fmt.Errorf("malformed inline datum")
		}
		u.InlineDatum = datum
	}
	if ju.ScriptRef != nil && *ju.ScriptRef != "" {
		ref, err := hex.DecodeString(*ju.ScriptRef)
		if err != nil {
			return u, fmt.Errorf("malformed reference script")
		}
		u.ScriptRef = ref
	}
	return u, nil
}

func parseUnit(unit string) (AssetID, error) {
	var id AssetID
	raw, err := hex.DecodeString(unit)
	if err != nil || len(raw) < PolicyIDSize {
		return id, fmt.Errorf("malformed asset unit %q", unit)
	}
	copy(id.Policy[:], raw[:PolicyIDSize])
	id.Name = raw[PolicyIDSize:]
	return id, nil
}
