package billing

import "github.com/xraph/billing/types"

// Re-export common types so callers don't have to import the types package.

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export Money constructors
var (
	ILS  = types.ILS
	USD  = types.USD
	EUR  = types.EUR
	Zero = types.Zero
)
