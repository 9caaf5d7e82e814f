package sandbox

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/artpar/justpaid/domain/billing"
)

// Fixtures is the catalog a sandbox serves.
type Fixtures struct {
	Customers []billing.BillableItemCustomer `json:"customers"`
	Invoices  []billing.Invoice              `json:"invoices"`
}

// LoadFixtures reads fixtures from a JSON file. An empty path returns
// DemoFixtures.
func LoadFixtures(path string) (Fixtures, error) {
	if path == "" {
		return DemoFixtures(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixtures{}, fmt.Errorf("read fixtures: %w", err)
	}
	var f Fixtures
	if err := json.Unmarshal(data, &f); err != nil {
		return Fixtures{}, fmt.Errorf("parse fixtures %s: %w", path, err)
	}
	return f, nil
}

// DemoFixtures returns a small catalog: two customers and one invoice.
func DemoFixtures() Fixtures {
	return Fixtures{
		Customers: []billing.BillableItemCustomer{
			{
				CustomerID:         "8b0d9c3e-3f4a-4f52-9a51-0d4c1e2b7a10",
				ExternalCustomerID: "acme",
				CustomerName:       "Acme Corp",
				CustomerEmail:      "billing@acme.test",
				Items: []billing.BillableItem{
					{ItemID: "item_api_calls", ItemName: "API Calls", BillingAlias: "api_call"},
					{ItemID: "item_storage", ItemName: "Storage GB", BillingAlias: "storage_gb"},
				},
			},
			{
				CustomerID:         "2f6e1a7b-90c4-4d1e-8e3b-5a7c9d0f1b22",
				ExternalCustomerID: "globex",
				CustomerName:       "Globex",
				Items: []billing.BillableItem{
					{ItemID: "item_api_calls", ItemName: "API Calls", BillingAlias: "api_call"},
				},
			},
		},
		Invoices: []billing.Invoice{
			{
				UUID:          "c1d2e3f4-0000-4000-8000-000000000001",
				InvoiceStatus: billing.InvoiceStatusOpen,
				Amount:        1234.5,
				Currency:      "USD",
				InvoiceNumber: "INV-0001",
				InvoiceDate:   "2024-03-01",
				DueDate:       "2024-03-31",
				CreatedAt:     "2024-03-01T00:00:00Z",
				IsRecurring:   true,
				LineItems: []billing.InvoiceLineItem{
					{Name: "API Calls", UnitPrice: 0.002, Quantity: 500000, Amount: 1000, Currency: "USD"},
					{Name: "Storage GB", UnitPrice: 0.5, Quantity: 469, Amount: 234.5, Currency: "USD"},
				},
				Customer: &billing.InvoiceCustomer{
					ExternalID: "acme",
					UUID:       "8b0d9c3e-3f4a-4f52-9a51-0d4c1e2b7a10",
					Name:       "Acme Corp",
					Email:      "billing@acme.test",
					Currency:   "USD",
				},
			},
		},
	}
}
