// Package plans maps Whop plan identifiers to local billing tiers and their
// credit allotments.
package plans

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wolfeidau/whopvoice/internal/models"
)

//go:embed plans.yaml
var defaultCatalog []byte

var (
	ErrUnknownTier    = errors.New("unknown plan tier")
	ErrMissingFree    = errors.New("plan catalog must define the free tier")
	ErrDuplicateTier  = errors.New("duplicate plan tier")
	ErrDuplicatePlan  = errors.New("whop plan id mapped to more than one tier")
	ErrInvalidCredits = errors.New("metered plans need a positive credit allotment")
)

// Plan describes one billing tier.
type Plan struct {
	Tier        models.PlanType `yaml:"tier" json:"planType"`
	Name        string          `yaml:"name" json:"planName"`
	Credits     int             `yaml:"credits" json:"planLimit"`
	Unlimited   bool            `yaml:"unlimited" json:"isUnlimited"`
	Price       string          `yaml:"price" json:"planPrice"`
	WhopPlanIDs []string        `yaml:"whop_plan_ids" json:"-"`
}

// Limit returns the credit allotment, or nil for unlimited plans.
func (p Plan) Limit() *int {
	if p.Unlimited {
		return nil
	}
	n := p.Credits
	return &n
}

type file struct {
	Plans []Plan `yaml:"plans"`
}

// Catalog is an immutable set of plans indexed by tier and Whop plan id.
type Catalog struct {
	plans  []Plan
	byTier map[models.PlanType]Plan
	byWhop map[string]Plan
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded plan catalog is invalid: %v", err))
	}
	return c
}

// LoadFile reads a catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan catalog: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// Load reads a catalog from r.
func Load(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode plan catalog: %w", err)
	}

	c := &Catalog{
		byTier: make(map[models.PlanType]Plan),
		byWhop: make(map[string]Plan),
	}

	for _, p := range f.Plans {
		if !p.Tier.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTier, p.Tier)
		}
		if _, dup := c.byTier[p.Tier]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTier, p.Tier)
		}
		if !p.Unlimited && p.Credits <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCredits, p.Tier)
		}
		for _, id := range p.WhopPlanIDs {
			if _, dup := c.byWhop[id]; dup {
				return nil, fmt.Errorf("%w: %s", ErrDuplicatePlan, id)
			}
			c.byWhop[id] = p
		}
		c.byTier[p.Tier] = p
		c.plans = append(c.plans, p)
	}

	if _, ok := c.byTier[models.PlanFree]; !ok {
		return nil, ErrMissingFree
	}

	return c, nil
}

// Free returns the free tier.
func (c *Catalog) Free() Plan {
	return c.byTier[models.PlanFree]
}

// Get returns the plan for a tier.
func (c *Catalog) Get(tier models.PlanType) (Plan, bool) {
	p, ok := c.byTier[tier]
	return p, ok
}

// ForWhopPlan returns the tier a Whop plan id grants.
func (c *Catalog) ForWhopPlan(whopPlanID string) (Plan, bool) {
	p, ok := c.byWhop[whopPlanID]
	return p, ok
}

// WhopPlanIDs returns every Whop plan id the catalog knows, in catalog order.
func (c *Catalog) WhopPlanIDs() []string {
	var ids []string
	for _, p := range c.plans {
		ids = append(ids, p.WhopPlanIDs...)
	}
	return ids
}

// Plans returns all plans in catalog order.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}
