// Package model defines the record types of the six ledger stores: audit
// events, traceability links, lineage edges, requirements with their
// evidence links, custody events and snapshots.
//
// The stores never reference each other. EntityRef (type, id) is the only
// correlation key that crosses store boundaries.
//
// model imports only canon. All JSON tags use snake_case.
package model
