// Package rules holds the static flight environment tables used by record
// validation: fare-class canonicalization and baggage allowance constants.
package rules

import "github.com/BearBump/PaxBox/internal/models"

// Tables is an immutable rule set injected into the validator.
type Tables struct {
	subToMain map[string]string
	bagWeight map[string]int

	foreignGoldBagWeight int
	infantBagWeight      int
	standbyFBAPieces     int
}

// Default returns the production rule set.
func Default() Tables {
	return Tables{
		subToMain: map[string]string{
			"F": models.MainClassFirst,
			"A": models.MainClassFirst,
			"O": models.MainClassFirst,
			"J": models.MainClassBusiness,
			"C": models.MainClassBusiness,
			"D": models.MainClassBusiness,
			"R": models.MainClassBusiness,
			"Z": models.MainClassBusiness,
			"I": models.MainClassBusiness,
		},
		bagWeight: map[string]int{
			models.MainClassFirst:    32,
			models.MainClassBusiness: 32,
			models.MainClassEconomy:  23,
		},
		foreignGoldBagWeight: 23,
		infantBagWeight:      23,
		standbyFBAPieces:     2,
	}
}

// MainClass canonicalizes a sub-class code. It is total: codes outside the
// table fall back to economy. known is false for those fallbacks.
func (t Tables) MainClass(sub string) (main string, known bool) {
	if m, ok := t.subToMain[sub]; ok {
		return m, true
	}
	return models.MainClassEconomy, false
}

// ClassBagWeight returns the per-piece allowance weight in KG for a main
// class, economy weight for anything unrecognized.
func (t Tables) ClassBagWeight(main string) int {
	if w, ok := t.bagWeight[main]; ok {
		return w
	}
	return t.bagWeight[models.MainClassEconomy]
}

// ForeignGoldBagWeight is the per-piece KG limit for gold-tier flyers of
// other carriers.
func (t Tables) ForeignGoldBagWeight() int { return t.foreignGoldBagWeight }

// InfantBagWeight is the extra KG granted when an infant travels.
func (t Tables) InfantBagWeight() int { return t.infantBagWeight }

// StandbyFBAPieces is the free-baggage piece count forced for standby
// staff tickets (PAD-SA).
func (t Tables) StandbyFBAPieces() int { return t.standbyFBAPieces }
