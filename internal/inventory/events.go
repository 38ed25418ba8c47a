package inventory

const (
	TopicRestock          = "inventory.restock"
	EventRestockRequested = "RestockRequested"
)

type RestockRequestedPayload struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}
