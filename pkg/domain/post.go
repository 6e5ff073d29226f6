package domain

import "time"

// Post is one normalized unit of content from a monitored account.
// It is rebuilt from scratch on every fetch cycle and never mutated after
// construction; only the ID is ever persisted (by the ledger).
type Post struct {
	ID        string     // stable identifier, unique within the account's stream
	Account   string     // handle the post belongs to
	Link      string     // canonical URL of the post
	Text      string     // plain text body, markup stripped, may be empty
	Media     string     // resolved image or video URL, empty when none
	MediaKind MediaKind  // what Media points at, MediaNone when Media is empty
	Published *time.Time // publication time, nil when absent or unparseable
}

// MediaKind tells the notifier how to present the resolved media URL
type MediaKind string

const (
	MediaNone  MediaKind = ""
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Destination binds a named webhook to the list of account handles relayed to it
type Destination struct {
	Name     string
	Webhook  string
	Accounts []string
}

// DeliveryStatus is the outcome class of one notification attempt
type DeliveryStatus string

const (
	// Delivered means the destination confirmed acceptance; this is the only
	// status that permits recording the post id in the ledger
	Delivered DeliveryStatus = "delivered"
	// Rejected means the destination refused the payload; retrying the same
	// payload is pointless but the post stays out of the ledger
	Rejected DeliveryStatus = "rejected"
	// TransientFailure covers rate limits, 5xx and transport errors; the post
	// stays out of the ledger and is re-offered on the next sweep
	TransientFailure DeliveryStatus = "transient"
)

// DeliveryOutcome reports what happened to a single notification
type DeliveryOutcome struct {
	Status DeliveryStatus
	Reason string
}

// Ok is true only for a confirmed delivery
func (o DeliveryOutcome) Ok() bool { return o.Status == Delivered }
