package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"propmarket-payments/internal/domain"
)

// Role is the marketplace role a plan is sold to. It doubles as the plan category.
type Role string

const (
	RoleBuyer Role = "buyer"
	RoleOwner Role = "owner"
	RoleAgent Role = "agent"
)

func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleOwner, RoleAgent:
		return true
	}
	return false
}

const DefaultCurrency = "INR"

// minorUnitExponent lists currencies whose minor unit is not 1/100.
var minorUnitExponent = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"BHD": 3,
	"KWD": 3,
	"OMR": 3,
}

// Plan is a purchasable listing plan. Price is in major currency units; zero means free.
type Plan struct {
	ID           string
	Category     Role
	Name         string
	Price        decimal.Decimal
	Currency     string
	DurationDays int
	Features     map[string]any
	Active       bool
	CreatedAt    time.Time
}

func (p *Plan) IsZero() bool { return p == nil || p.ID == "" }

// IsFree reports whether the plan needs no gateway order.
func (p *Plan) IsFree() bool { return p.Price.IsZero() }

// MinorUnits converts the major unit price into the gateway's integer amount (499 INR -> 49900).
func (p *Plan) MinorUnits() int64 {
	exp, ok := minorUnitExponent[strings.ToUpper(p.Currency)]
	if !ok {
		exp = 2
	}
	return p.Price.Shift(exp).Round(0).IntPart()
}

// Chargeable reports whether a paid plan's price survives conversion to
// minor units. A price such as 0.001 INR is neither free nor chargeable.
func (p *Plan) Chargeable() bool { return p.MinorUnits() > 0 }

// Clone returns a copy that shares no maps with p.
func (p *Plan) Clone() *Plan {
	cp := *p
	if p.Features != nil {
		cp.Features = make(map[string]any, len(p.Features))
		for k, v := range p.Features {
			cp.Features[k] = v
		}
	}
	return &cp
}

// Period returns the coverage window for this plan starting at start.
func (p *Plan) Period(start time.Time) (time.Time, time.Time) {
	return start, start.AddDate(0, 0, p.DurationDays)
}

// NewPlan validates and constructs a plan.
func NewPlan(id string, category Role, name string, price decimal.Decimal, currency string, durationDays int, features map[string]any) (*Plan, error) {
	if id == "" || name == "" || !category.Valid() || durationDays <= 0 || price.IsNegative() {
		return nil, domain.ErrInvalidArgument
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	if !price.IsZero() {
		candidate := Plan{Price: price, Currency: currency}
		if !candidate.Chargeable() {
			return nil, domain.NewError("price rounds to zero minor units").
				WithHintf("price %s %s is below the smallest chargeable amount", price.String(), currency).
				Mark(domain.ErrInvalidArgument)
		}
	}
	if features == nil {
		features = map[string]any{}
	}
	return &Plan{
		ID:           id,
		Category:     category,
		Name:         name,
		Price:        price,
		Currency:     strings.ToUpper(currency),
		DurationDays: durationDays,
		Features:     features,
		Active:       true,
		CreatedAt:    time.Now(),
	}, nil
}
