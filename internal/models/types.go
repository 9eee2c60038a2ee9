// Package models holds the wire types shared between the firehose
// consumer, the subscription manager and the HTTP API: filter criteria,
// decoded-record events, and API request/response envelopes.
package models

import "time"

// FilterOptions selects which decoded records a subscription receives.
// Repository, if set, must exactly match the commit's repository DID.
// Collection, if set, must exactly match the record's MST collection
// (e.g. "app.bsky.feed.post"). At least one of the two must be set; an
// empty FilterOptions would otherwise forward the entire firehose.
type FilterOptions struct {
	Repository string `json:"repository"`
	Collection string `json:"collection"`
}

// APIResponse is the standard envelope returned by every HTTP endpoint.
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// FilterUpdateRequest updates the firehose client's global filter; nil
// fields are left unchanged.
type FilterUpdateRequest struct {
	Repository *string `json:"repository,omitempty"`
	Collection *string `json:"collection,omitempty"`
}

// CreateFilterRequest creates a new keyed subscription.
type CreateFilterRequest struct {
	Options FilterOptions `json:"options"`
}

// CreateFilterResponse is returned after a subscription is created.
type CreateFilterResponse struct {
	FilterKey string        `json:"filterKey"`
	Options   FilterOptions `json:"options"`
	CreatedAt time.Time     `json:"createdAt"`
}

// FilterSubscription is the externally-visible view of a subscription,
// omitting the live connection set.
type FilterSubscription struct {
	FilterKey   string        `json:"filterKey"`
	Options     FilterOptions `json:"options"`
	CreatedAt   time.Time     `json:"createdAt"`
	Connections int           `json:"connections"`
}

// ATEvent is one repository commit, carrying every record it yielded
// after path reconciliation.
type ATEvent struct {
	Did     string     `json:"did"`
	Rev     string     `json:"rev"`
	Time    string     `json:"time"`
	Records []ATRecord `json:"records"`
}

// ATRecord is one decoded, $type-bearing block, already joined against
// its MST path.
type ATRecord struct {
	Type       string `json:"type"`
	Collection string `json:"collection"`
	Rkey       string `json:"rkey"`
	CID        string `json:"cid"`
}

// EventTimestamps records when an event moved through the pipeline, for
// observability of forwarding latency.
type EventTimestamps struct {
	Original  string `json:"original"`
	Received  string `json:"received"`
	Forwarded string `json:"forwarded"`
	FilterKey string `json:"filterKey"`
}

// EnrichedATEvent is an ATEvent with forwarding timestamps attached,
// the shape actually written to WebSocket clients.
type EnrichedATEvent struct {
	Did        string          `json:"did"`
	Rev        string          `json:"rev"`
	Time       string          `json:"time"`
	Records    []ATRecord      `json:"records"`
	Timestamps EventTimestamps `json:"timestamps"`
}

// WSMessage is the envelope for every message sent over a subscription's
// WebSocket connection, keyed by Type ("connected", "event", "error",
// "pong", "echo", "filter_info").
type WSMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}
