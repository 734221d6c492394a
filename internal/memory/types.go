package memory

import (
	"time"
)

// Type represents the media type of a vault item
type Type string

const (
	Text  Type = "text"
	Image Type = "image"
	Audio Type = "audio"
	Video Type = "video"
	PDF   Type = "pdf"
	Other Type = "other"
)

// AllTypes lists every vault item type.
var AllTypes = []Type{Text, Image, Audio, Video, PDF, Other}

func (t Type) IsValid() bool {
	switch t {
	case Text, Image, Audio, Video, PDF, Other:
		return true
	default:
		return false
	}
}

// UserSignal is the explicit like/dislike state of an item.
type UserSignal string

const (
	SignalNone     UserSignal = ""
	SignalLiked    UserSignal = "liked"
	SignalDisliked UserSignal = "disliked"
)

// FeedbackKind is the polarity of retrieval feedback.
type FeedbackKind string

const (
	FeedbackPositive FeedbackKind = "positive"
	FeedbackNegative FeedbackKind = "negative"
)

// VaultItem is a content-addressed memory artifact with retrieval metadata.
type VaultItem struct {
	ID             string     `json:"id"`
	Type           Type       `json:"type"`
	Filename       string     `json:"filename"`
	Source         string     `json:"source"`
	FilePath       string     `json:"filePath,omitempty"`
	SizeBytes      int64      `json:"sizeBytes"`
	Tags           []string   `json:"tags"`
	SummaryText    string     `json:"summaryText"`
	Score          float64    `json:"score"`
	ReferenceCount int        `json:"referenceCount"`
	Pinned         bool       `json:"pinned"`
	Hidden         bool       `json:"hidden"`
	Forget         bool       `json:"forget,omitempty"`
	UserSignal     UserSignal `json:"userSignal"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Clone returns a copy that shares no slices with the receiver.
func (v VaultItem) Clone() VaultItem {
	out := v
	if v.Tags != nil {
		out.Tags = append([]string(nil), v.Tags...)
	}
	return out
}

// lastTouched is the timestamp recency is measured from.
func (v VaultItem) lastTouched() time.Time {
	if !v.UpdatedAt.IsZero() {
		return v.UpdatedAt
	}
	return v.CreatedAt
}
