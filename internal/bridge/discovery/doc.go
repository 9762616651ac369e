// Package discovery builds Home Assistant MQTT discovery documents.
//
// Each entity type is a plain struct whose JSON field order is fixed by
// declaration order, so repeated publishes of unchanged hardware are
// byte-identical and the broker's retained compare suppresses churn.
//
// Builder owns the discovery topic layout
// ({prefix}/{component}/{node_id}/{entity_id}/config) and the shared
// device/availability blocks; plugins fill in the per-entity fields.
package discovery
