package models

// Unit names a participant resource counter.
type Unit string

const (
	UnitCurrency Unit = "currency"
	UnitInbound  Unit = "inbound"
	UnitOutbound Unit = "outbound"
)

// Units lists the counters in their canonical order.
var Units = []Unit{UnitCurrency, UnitInbound, UnitOutbound}

// Field returns the stored field name backing the counter.
func (u Unit) Field() string {
	switch u {
	case UnitCurrency:
		return "money"
	case UnitInbound:
		return "inbound"
	case UnitOutbound:
		return "outbound"
	default:
		return ""
	}
}

// Valid reports whether u is a known unit.
func (u Unit) Valid() bool {
	return u.Field() != ""
}
