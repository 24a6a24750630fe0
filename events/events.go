// Package events defines the normalized stream events produced by the chat and
// EventSub clients, and the dispatcher that fans them out to listeners.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind names a normalized event variant.
type Kind string

const (
	KindFollow       Kind = "follow"
	KindSubscription Kind = "subscription"
	KindDonation     Kind = "donation"
	KindRaid         Kind = "raid"
	KindRedemption   Kind = "redemption"
	KindChatMessage  Kind = "chat_message"
)

// Source identifies which feed produced an event.
type Source string

const (
	SourceChat     Source = "chat"
	SourceEventSub Source = "eventsub"
)

// Meta is attached to every event when it is created.
type Meta struct {
	ID         string
	Source     Source
	ReceivedAt time.Time
}

// NewMeta stamps a fresh event id.
func NewMeta(src Source) Meta {
	return Meta{ID: uuid.NewString(), Source: src, ReceivedAt: time.Now().UTC()}
}

// Event is the closed set of normalized events. Values are immutable once
// published; listeners must not modify slices they receive.
type Event interface {
	Kind() Kind
	Metadata() Meta
	isEvent()
}

// Badges is a bitmask of chat badges relevant to downstream consumers.
type Badges uint8

const (
	BadgeBroadcaster Badges = 1 << iota
	BadgeModerator
	BadgeSubscriber
	BadgeVIP
)

// Has reports whether all bits of b are set.
func (bs Badges) Has(b Badges) bool { return bs&b == b }

// DecorationType classifies a Decoration.
type DecorationType string

const (
	DecorationText         DecorationType = "text"
	DecorationEmote        DecorationType = "emote"
	DecorationCheermote    DecorationType = "cheermote"
	DecorationBadge        DecorationType = "badge"
	DecorationDonationType DecorationType = "donation_type"
)

// Decoration annotates a range of message text (emotes, cheermotes) or the
// message as a whole (badges, donation type). Begin and End are rune offsets,
// End inclusive; they are zero for whole-message decorations.
type Decoration struct {
	Type  DecorationType
	Begin int
	End   int
	ID    string
	Text  string
	SetID string
	Value int
}

type Follow struct {
	Meta
	UserName string
}

type Subscription struct {
	Meta
	UserName    string
	IsGift      bool
	Message     string
	Months      int
	Decorations []Decoration
}

// Donation covers cheers and gifted subscriptions. Type is DonationCheer or
// DonationSubscription; Total is bits or number of gifted subs.
type Donation struct {
	Meta
	Type        string
	UserName    string
	Message     string
	Total       int
	IsAnonymous bool
	Decorations []Decoration
}

const (
	DonationCheer        = "cheer"
	DonationSubscription = "subscription"
)

type Raid struct {
	Meta
	UserLogin string
	UserName  string
	Viewers   int
}

type Redemption struct {
	Meta
	UserName string
	Title    string
	Input    string
}

type ChatMessage struct {
	Meta
	UserLogin   string
	UserName    string
	Text        string
	Bits        int
	Badges      Badges
	Decorations []Decoration
}

func (Follow) Kind() Kind       { return KindFollow }
func (Subscription) Kind() Kind { return KindSubscription }
func (Donation) Kind() Kind     { return KindDonation }
func (Raid) Kind() Kind         { return KindRaid }
func (Redemption) Kind() Kind   { return KindRedemption }
func (ChatMessage) Kind() Kind  { return KindChatMessage }

func (m Meta) Metadata() Meta { return m }

func (Follow) isEvent()       {}
func (Subscription) isEvent() {}
func (Donation) isEvent()     {}
func (Raid) isEvent()         {}
func (Redemption) isEvent()   {}
func (ChatMessage) isEvent()  {}
