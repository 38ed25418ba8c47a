package sales

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusPaid      PaymentStatus = "paid"
	StatusCancelled PaymentStatus = "cancelled"
)

var validNext = map[PaymentStatus]map[PaymentStatus]bool{
	StatusPending:   {StatusPaid: true, StatusCancelled: true},
	StatusPaid:      {StatusCancelled: true},
	StatusCancelled: {},
}

func (s PaymentStatus) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func CanTransition(from, to PaymentStatus) bool {
	return validNext[from][to]
}
