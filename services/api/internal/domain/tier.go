package domain

type AccessLevel string

const (
	AccessGeneral AccessLevel = "general"
	AccessVIP     AccessLevel = "vip"
	AccessCrew    AccessLevel = "crew"
)

func (a AccessLevel) Valid() bool {
	switch a {
	case AccessGeneral, AccessVIP, AccessCrew:
		return true
	}
	return false
}

// TicketTier is a purchasable ticket category with a fixed capacity.
// Prices are in minor currency units.
type TicketTier struct {
	ID            string
	EventID       string
	Name          string
	Price         int64
	Currency      string
	TotalQuantity int
	SoldQuantity  int
	HeldQuantity  int
	AccessLevel   AccessLevel
}

// Available reports the units that are neither sold nor held.
func (t TicketTier) Available() int {
	return t.TotalQuantity - t.SoldQuantity - t.HeldQuantity
}
