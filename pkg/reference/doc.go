// Package reference implements lazily resolved references between mapped
// entities.
//
// A reference field holds one of three handles: Ref for a single entity, List
// for an ordered list and Map for a string-keyed map. Decoding a document only
// captures the stored ids and groups them by destination collection. The
// first Get fetches every collection touched by the handle with a single
// id-membership query, rebuilds the value in stored order and caches it;
// later calls return the cache. Ids whose document no longer exists are left
// out of the result rather than reported as errors.
//
// Handles are single-owner values and do no locking. A Source is passed to
// each Get rather than stored in the handle.
//
// Stored ids are either bare values, resolved against the element type's
// collection, or {"$ref": collection, "$id": value} pointers, which WrapID
// emits whenever a value's concrete type differs from the declared element
// type.
package reference
