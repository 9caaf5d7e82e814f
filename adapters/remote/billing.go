package remote

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/artpar/justpaid/domain/billing"
	"github.com/artpar/justpaid/ports"
)

// BillingAPI reads billable items and invoices.
//
// API Contract:
//
//	GET /usage/items?customer_id=...&external_customer_id=...
//	Response: {"customers": [{"customer_id": "...", "items": [...]}]}
//
//	GET /invoice?limit=10&offset=0
//	Response: {"items": [...], "count": 42}
type BillingAPI struct {
	client *Client
}

// NewBillingAPI creates the billing API adapter.
func NewBillingAPI(client *Client) *BillingAPI {
	return &BillingAPI{client: client}
}

// BillableItems lists billable items, optionally for one customer. An unknown
// customer yields an empty Customers list, not an error.
func (b *BillingAPI) BillableItems(ctx context.Context, q ports.BillableItemsQuery) (billing.BillableItemsResponse, error) {
	query := url.Values{}
	if q.CustomerID != "" {
		query.Set("customer_id", q.CustomerID)
	}
	if q.ExternalCustomerID != "" {
		query.Set("external_customer_id", q.ExternalCustomerID)
	}

	body, err := b.client.Request(ctx, OpBillableItems, http.MethodGet, "/usage/items", query, nil)
	if err != nil {
		return billing.BillableItemsResponse{}, err
	}
	return decode(b.client, OpBillableItems, body, billing.ParseBillableItemsResponse)
}

// Invoices lists one page of invoices.
func (b *BillingAPI) Invoices(ctx context.Context, p ports.InvoiceListParams) (billing.InvoiceListResponse, error) {
	query := url.Values{}
	if p.Limit > 0 {
		query.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Offset > 0 {
		query.Set("offset", strconv.Itoa(p.Offset))
	}

	body, err := b.client.Request(ctx, OpInvoices, http.MethodGet, "/invoice", query, nil)
	if err != nil {
		return billing.InvoiceListResponse{}, err
	}
	return decode(b.client, OpInvoices, body, billing.ParseInvoiceListResponse)
}

var _ ports.BillingReader = (*BillingAPI)(nil)
