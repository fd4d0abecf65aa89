// Package ism manages the multisig security module's on-chain
// configuration: per-origin-domain validator sets and signature
// thresholds.
//
// Both tables are ordered association lists. The on-chain script compares
// produced datums by strict structural equality, so updates preserve
// insertion order exactly: first match is replaced in place, a new key is
// appended, and nothing is ever reordered or deduplicated.
package ism

import (
	"fmt"

	"github.com/suffix-labs/cardano-mailbox/pkg/plutus"
)

// ValidatorSize is the width of a validator identity, a foreign-chain
// address.
const ValidatorSize = 20

// DomainValidators pairs an origin domain with its validator set.
type DomainValidators struct {
	Domain     uint32
	Validators [][ValidatorSize]byte
}

// DomainThreshold pairs an origin domain with its signature threshold.
type DomainThreshold struct {
	Domain    uint32
	Threshold uint32
}

// MultisigConfig is the security module's state datum.
type MultisigConfig struct {
	Validators []DomainValidators
	Thresholds []DomainThreshold
	Owner      []byte // 28-byte payment key hash
}

// ValidatorsFor returns the validator set for a domain, nil when the
// domain is unconfigured.
func (c *MultisigConfig) ValidatorsFor(domain uint32) [][ValidatorSize]byte {
	for _, dv := range c.Validators {
		if dv.Domain == domain {
			return dv.Validators
		}
	}
	return nil
}

// ThresholdFor returns the threshold for a domain, zero when unset.
func (c *MultisigConfig) ThresholdFor(domain uint32) uint32 {
	for _, dt := range c.Thresholds {
		if dt.Domain == domain {
			return dt.Threshold
		}
	}
	return 0
}

// SetValidators returns a copy of the config with the domain's validator
// set replaced, or appended when the domain is new. Thresholds are never
// touched here; a replacement that would leave the domain's current
// threshold above the new validator count is rejected so a threshold
// change is never implied.
func (c *MultisigConfig) SetValidators(domain uint32, validators [][ValidatorSize]byte) (*MultisigConfig, error) {
	if len(validators) == 0 {
		return nil, &InvariantError{
			Message: fmt.Sprintf("validator set for domain %d must not be empty", domain),
		}
	}
	if t := c.ThresholdFor(domain); t > uint32(len(validators)) {
		return nil, &InvariantError{
			Message: fmt.Sprintf("domain %d threshold %d exceeds new validator count %d, lower the threshold first", domain, t, len(validators)),
		}
	}
	next := c.clone()
	next.Validators = updateValidators(next.Validators, domain, validators)
	return next, nil
}

// SetThreshold returns a copy of the config with the domain's threshold
// replaced or appended. Rejected when zero or above the domain's current
// validator count.
func (c *MultisigConfig) SetThreshold(domain uint32, threshold uint32) (*MultisigConfig, error) {
	n := uint32(len(c.ValidatorsFor(domain)))
	if threshold == 0 || threshold > n {
		return nil, &InvariantError{
			Message: fmt.Sprintf("threshold %d for domain %d must be in 1..%d", threshold, domain, n),
		}
	}
	next := c.clone()
	next.Thresholds = updateThresholds(next.Thresholds, domain, threshold)
	return next, nil
}

func (c *MultisigConfig) clone() *MultisigConfig {
	next := &MultisigConfig{
		Validators: make([]DomainValidators, len(c.Validators)),
		Thresholds: append([]DomainThreshold(nil), c.Thresholds...),
		Owner:      append([]byte(nil), c.Owner...),
	}
	for i, dv := range c.Validators {
		next.Validators[i] = DomainValidators{
			Domain:     dv.Domain,
			Validators: append([][ValidatorSize]byte(nil), dv.Validators...),
		}
	}
	return next
}

func updateValidators(list []DomainValidators, domain uint32, validators [][ValidatorSize]byte) []DomainValidators {
	for i := range list {
		if list[i].Domain == domain {
			list[i].Validators = validators
			return list
		}
	}
	return append(list, DomainValidators{Domain: domain, Validators: validators})
}

func updateThresholds(list []DomainThreshold, domain uint32, threshold uint32) []DomainThreshold {
	for i := range list {
		if list[i].Domain == domain {
			list[i].Threshold = threshold
			return list
		}
	}
	return append(list, DomainThreshold{Domain: domain, Threshold: threshold})
}

// ToData encodes the config. Domain pairs are two-element lists, never
// constructors; the script rejects the constructor framing.
func (c *MultisigConfig) ToData() plutus.Data {
	validators := make(plutus.List, 0, len(c.Validators))
	for _, dv := range c.Validators {
		set := make(plutus.List, 0, len(dv.Validators))
		for _, v := range dv.Validators {
			set = append(set, plutus.Bytes(v[:]))
		}
		validators = append(validators, plutus.Tuple(plutus.Int(dv.Domain), set))
	}
	thresholds := make(plutus.List, 0, len(c.Thresholds))
	for _, dt := range c.Thresholds {
		thresholds = append(thresholds, plutus.Tuple(plutus.Int(dt.Domain), plutus.Int(dt.Threshold)))
	}
	return plutus.NewConstr(0, validators, thresholds, plutus.Bytes(c.Owner))
}

// ConfigFromData decodes a multisig config datum, failing closed on any
// shape mismatch.
func ConfigFromData(d plutus.Data) (*MultisigConfig, error) {
	c, ok := d.(plutus.Constr)
	if !ok || c.Index != 0 || len(c.Fields) != 3 {
		return nil, fmt.Errorf("ism: config datum is not a 3-field record")
	}
	validators, ok := c.Fields[0].(plutus.List)
	if !ok {
		return nil, fmt.Errorf("ism: validator table is not a list")
	}
	thresholds, ok := c.Fields[1].(plutus.List)
	if !ok {
		return nil, fmt.Errorf("ism: threshold table is not a list")
	}
	owner, ok := c.Fields[2].(plutus.Bytes)
	if !ok || len(owner) != 28 {
		return nil, fmt.Errorf("ism: owner is not a 28-byte key hash")
	}

	cfg := &MultisigConfig{Owner: append([]byte(nil), owner...)}
	for _, entry := range validators {
		domain, value, err := assocEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("ism: validator table: %w", err)
		}
		set, ok := value.(plutus.List)
		if !ok {
			return nil, fmt.Errorf("ism: validator set for domain %d is not a list", domain)
		}
		dv := DomainValidators{Domain: domain}
		for _, raw := range set {
			b, ok := raw.(plutus.Bytes)
			if !ok || len(b) != ValidatorSize {
				return nil, fmt.Errorf("ism: validator identity for domain %d is not %d bytes", domain, ValidatorSize)
			}
			var v [ValidatorSize]byte
			copy(v[:], b)
			dv.Validators = append(dv.Validators, v)
		}
		cfg.Validators = append(cfg.Validators, dv)
	}
	for _, entry := range thresholds {
		domain, value, err := assocEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("ism: threshold table: %w", err)
		}
		n, ok := value.(plutus.Int)
		if !ok || n < 0 {
			return nil, fmt.Errorf("ism: threshold for domain %d is not an unsigned integer", domain)
		}
		cfg.Thresholds = append(cfg.Thresholds, DomainThreshold{Domain: domain, Threshold: uint32(n)})
	}
	return cfg, nil
}

// assocEntry splits one association-list element into its uint32 key and
// value.
func assocEntry(d plutus.Data) (uint32, plutus.Data, error) {
	pair, ok := d.(plutus.List)
	if !ok || len(pair) != 2 {
		return 0, nil, fmt.Errorf("entry is not a two-element list")
	}
	key, ok := pair[0].(plutus.Int)
	if !ok || key < 0 || key > 0xffffffff {
		return 0, nil, fmt.Errorf("entry key is not a domain id")
	}
	return uint32(key), pair[1], nil
}

// Redeemer constructors for the security module's validator.
const (
	redeemerSetValidators = 0
	redeemerSetThreshold  = 1
)

// SetValidatorsRedeemer builds the redeemer authorizing a validator-set
// replacement.
func SetValidatorsRedeemer(domain uint32, validators [][ValidatorSize]byte) plutus.Data {
	set := make(plutus.List, 0, len(validators))
	for _, v := range validators {
		set = append(set, plutus.Bytes(v[:]))
	}
	return plutus.NewConstr(redeemerSetValidators, plutus.Int(domain), set)
}

// SetThresholdRedeemer builds the redeemer authorizing a threshold change.
func SetThresholdRedeemer(domain uint32, threshold uint32) plutus.Data {
	return plutus.NewConstr(redeemerSetThreshold, plutus.Int(domain), plutus.Int(threshold))
}
