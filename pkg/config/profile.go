package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/tokenledger/pkg/builder"
	"github.com/Mindburn-Labs/tokenledger/pkg/contracts"
)

//go:embed profile.schema.json
var profileSchemaJSON string

const profileSchemaURL = "https://tokenledger.schemas.local/profile.schema.json"

// Profile describes an in-process ledger network: its parties, their
// acceptance policies, the notary and exchange rates.
type Profile struct {
	Version string         `yaml:"version" json:"version"`
	Notary  string         `yaml:"notary" json:"notary"`
	Parties []PartyProfile `yaml:"parties" json:"parties"`
	Rates   []RateProfile  `yaml:"rates,omitempty" json:"rates,omitempty"`
}

// PartyProfile configures one party.
type PartyProfile struct {
	Name              string  `yaml:"name" json:"name"`
	Policy            string  `yaml:"policy,omitempty" json:"policy,omitempty"` // CEL
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty" json:"requests_per_second,omitempty"`
	Burst             int     `yaml:"burst,omitempty" json:"burst,omitempty"`
}

// RateProfile is one exchange rate: 1 Base = Rate Quote.
type RateProfile struct {
	Base  string  `yaml:"base" json:"base"`
	Quote string  `yaml:"quote" json:"quote"`
	Rate  float64 `yaml:"rate" json:"rate"`
}

func compileProfileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(profileSchemaURL, bytes.NewReader([]byte(profileSchemaJSON))); err != nil {
		return nil, fmt.Errorf("profile schema load failed: %w", err)
	}
	return c.Compile(profileSchemaURL)
}

// LoadProfile reads and validates the profile at path.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}
	p, err := ParseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", path, err)
	}
	return p, nil
}

// ParseProfile decodes YAML, checks it against the profile schema and then
// against the rules the schema cannot express.
func ParseProfile(data []byte) (*Profile, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	// Round-trip through JSON so the validator sees JSON types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	schema, err := compileProfileSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Profile) validate() error {
	seen := map[string]bool{p.Notary: true}
	for _, party := range p.Parties {
		if seen[party.Name] {
			return fmt.Errorf("duplicate party %q (party names and the notary must be distinct)", party.Name)
		}
		seen[party.Name] = true
	}
	_, err := p.RateTable()
	return err
}

// RateTable builds the exchange rates, falling back to the defaults when
// the profile lists none.
func (p *Profile) RateTable() (*builder.RateTable, error) {
	if len(p.Rates) == 0 {
		return builder.DefaultRates(), nil
	}
	rates := builder.NewRateTable()
	for _, r := range p.Rates {
		base, err := contracts.ParseCurrency(r.Base)
		if err != nil {
			return nil, err
		}
		quote, err := contracts.ParseCurrency(r.Quote)
		if err != nil {
			return nil, err
		}
		if err := rates.Set(base, quote, r.Rate); err != nil {
			return nil, err
		}
	}
	return rates, nil
}

// Party returns the named party's profile.
func (p *Profile) Party(name string) (PartyProfile, bool) {
	for _, party := range p.Parties {
		if party.Name == name {
			return party, true
		}
	}
	return PartyProfile{}, false
}
