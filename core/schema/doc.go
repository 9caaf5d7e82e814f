/*
Package schema provides field-level validation and path-aware decoding of JSON
wire shapes.

Every request and response entity of the client is built through this
package, so a failure always names the offending field.

# Decoding

Decode parses a document into an Object. Accessors read fields and record a
FieldError for each one that is missing, null or of the wrong type, instead of
failing on the first problem:

	obj, errs := schema.Decode("BillableItemsResponse", data)
	for _, c := range obj.Array("customers") {
		id := c.String("customer_id")      // required
		name := c.OptString("customer_name") // may be absent or null
		...
	}
	if err := errs.Err(); err != nil {
		return BillableItemsResponse{}, err
	}

Accessors on a nil or failed Object return zero values, so a whole entity can
be read before the collected errors are checked.

# Paths

Field paths are dotted with array indexes, e.g. "customers[0].items[1].item_id".
Join and Index build them for validation done outside Decode.

# Errors

ValidationError collects every FieldError of one entity. Err returns nil when
nothing was recorded, so callers can always finish with

	return errs.Err()
*/
package schema
