// Package billing provides the billable item and invoice wire types and the
// pure functions that work on them.
package billing

import "github.com/artpar/justpaid/core/schema"

// BillableItem is a product or service a customer can be charged for.
type BillableItem struct {
	ItemID   string `json:"item_id"`
	ItemName string `json:"item_name"`
	// BillingAlias is the name used when computing the billing amount.
	BillingAlias string `json:"billing_alias,omitempty"`
}

// BillableItemCustomer lists the billable items of one customer.
type BillableItemCustomer struct {
	CustomerID         string         `json:"customer_id"`
	ExternalCustomerID string         `json:"external_customer_id,omitempty"`
	CustomerName       string         `json:"customer_name,omitempty"`
	CustomerEmail      string         `json:"customer_email,omitempty"`
	Items              []BillableItem `json:"items"`
}

// Item returns the item with the given id.
func (c BillableItemCustomer) Item(itemID string) (BillableItem, bool) {
	for _, item := range c.Items {
		if item.ItemID == itemID {
			return item, true
		}
	}
	return BillableItem{}, false
}

// BillableItemsResponse is the result of a billable items query.
type BillableItemsResponse struct {
	Customers []BillableItemCustomer `json:"customers"`
}

// Customer finds a customer by JustPaid id or external id.
func (r BillableItemsResponse) Customer(id string) (BillableItemCustomer, bool) {
	for _, c := range r.Customers {
		if c.CustomerID == id || (c.ExternalCustomerID != "" && c.ExternalCustomerID == id) {
			return c, true
		}
	}
	return BillableItemCustomer{}, false
}

// ParseBillableItemsResponse decodes a billable items response. Customers is
// never nil on success.
func ParseBillableItemsResponse(data []byte) (BillableItemsResponse, error) {
	obj, errs := schema.Decode("BillableItemsResponse", data)

	items := obj.Array("customers")
	resp := BillableItemsResponse{Customers: make([]BillableItemCustomer, 0, len(items))}
	for _, c := range items {
		resp.Customers = append(resp.Customers, billableItemCustomerFrom(c))
	}

	if err := errs.Err(); err != nil {
		return BillableItemsResponse{}, err
	}
	return resp, nil
}

func billableItemCustomerFrom(o *schema.Object) BillableItemCustomer {
	c := BillableItemCustomer{
		CustomerID:         o.String("customer_id"),
		ExternalCustomerID: o.OptString("external_customer_id"),
		CustomerName:       o.OptString("customer_name"),
		CustomerEmail:      o.OptString("customer_email"),
	}
	items := o.Array("items")
	c.Items = make([]BillableItem, 0, len(items))
	for _, item := range items {
		c.Items = append(c.Items, BillableItem{
			ItemID:       item.String("item_id"),
			ItemName:     item.String("item_name"),
			BillingAlias: item.OptString("billing_alias"),
		})
	}
	return c
}
