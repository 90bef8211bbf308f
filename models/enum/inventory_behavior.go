package enum

type InventoryBehavior string

const (
	// InventoryBehaviorCombined tracks a single pooled count for the form.
	InventoryBehaviorCombined InventoryBehavior = "combined"
	// InventoryBehaviorIndividual tracks each price instance independently.
	InventoryBehaviorIndividual InventoryBehavior = "individual"
)
