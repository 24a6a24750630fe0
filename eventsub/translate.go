package eventsub

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/onnwee/stream-bridge/events"
)

// AnonymousName is reported for anonymous cheers.
const AnonymousName = "Anonymous"

type followEvent struct {
	UserLogin string `json:"user_login"`
	UserName  string `json:"user_name"`
}

type subscribeEvent struct {
	UserName string `json:"user_name"`
	Tier     string `json:"tier"`
	IsGift   bool   `json:"is_gift"`
}

type subscriptionMessageEvent struct {
	UserName         string `json:"user_name"`
	Tier             string `json:"tier"`
	CumulativeMonths int    `json:"cumulative_months"`
	Message          struct {
		Text   string `json:"text"`
		Emotes []struct {
			Begin int    `json:"begin"`
			End   int    `json:"end"`
			ID    string `json:"id"`
		} `json:"emotes"`
	} `json:"message"`
}

type subscriptionGiftEvent struct {
	UserName    string `json:"user_name"`
	Total       int    `json:"total"`
	Tier        string `json:"tier"`
	IsAnonymous bool   `json:"is_anonymous"`
}

type cheerEvent struct {
	UserName    string `json:"user_name"`
	IsAnonymous bool   `json:"is_anonymous"`
	Message     string `json:"message"`
	Bits        int    `json:"bits"`
}

type redemptionEvent struct {
	UserName  string `json:"user_name"`
	UserInput string `json:"user_input"`
	Reward    struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Cost  int    `json:"cost"`
	} `json:"reward"`
}

type raidEvent struct {
	FromBroadcasterUserLogin string `json:"from_broadcaster_user_login"`
	FromBroadcasterUserName  string `json:"from_broadcaster_user_name"`
	Viewers                  int    `json:"viewers"`
}

type chatFragment struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Cheermote *struct {
		Prefix string `json:"prefix"`
		Bits   int    `json:"bits"`
		Tier   int    `json:"tier"`
	} `json:"cheermote"`
	Emote *struct {
		ID         string `json:"id"`
		EmoteSetID string `json:"emote_set_id"`
	} `json:"emote"`
}

type chatBadge struct {
	SetID string `json:"set_id"`
	ID    string `json:"id"`
	Info  string `json:"info"`
}

type chatMessageEvent struct {
	ChatterUserLogin string `json:"chatter_user_login"`
	ChatterUserName  string `json:"chatter_user_name"`
	Message          struct {
		Text      string         `json:"text"`
		Fragments []chatFragment `json:"fragments"`
	} `json:"message"`
	Cheer *struct {
		Bits int `json:"bits"`
	} `json:"cheer"`
	Badges []chatBadge `json:"badges"`
}

// Translate decodes a notification event for subType into a normalized event.
// Unknown types return nil without error.
func Translate(subType string, raw json.RawMessage) (events.Event, error) {
	meta := events.NewMeta(events.SourceEventSub)
	switch subType {
	case TypeFollow:
		var e followEvent
		if err := decode(raw, &e); err != nil {
			return nil, err
		}
		return events.Follow{Meta: meta, UserName: e.UserName}, nil

	case TypeSubscribe:
		var e subscribeEvent
		if err := decode(raw, &e); err != nil {
			return nil, err
		}
		return events.Subscription{Meta: meta, UserName: e.UserName, IsGift: e.IsGift}, nil

	case TypeSubscriptionMessage:
		var e subscriptionMessageEvent
		if err := decode(raw, &e); err != nil {
			return nil, err
		}
		runes := []rune(e.Message.Text)
		var decs []events.Decoration
		if len(runes) > 0 {
			decs = append(decs, events.Decoration{Type: events.DecorationText, End: len(runes) - 1, Text: e.Message.Text})
		}
		for _, em := range e.Message.Emotes {
			d := events.Decoration{Type: events.DecorationEmote, Begin: em.Begin, End: em.End, ID: em.ID}
			if em.Begin >= 0 && em.End < len(runes) && em.Begin <= em.End {
				d.Text = string(runes[em.Begin : em.End+1])
			}
			decs = append(decs, d)
		}
		return events.Subscription{
			Meta:        meta,
			UserName:    e.UserName,
			Message:     e.Message.Text,
			Months:      e.CumulativeMonths,
			Decorations: decs,
		}, nil

	case TypeSubscriptionGift:
		var e subscriptionGiftEvent
		if err := decode(raw, &e); err != nil {
			return nil, err
		}
		name := e.UserName
		if e.IsAnonymous && name == "" {
			name = AnonymousName
		}
		return events.Donation{
			Meta:        meta,
			Type:        events.DonationSubscription,
			UserName:    name,
			Total:       e.Total,
			IsAnonymous: e.IsAnonymous,
			Decorations: []events.Decoration{{Type: events.DecorationDonationType, Text: "gift_sub", ID: e.Tier, Value: e.Total}},
		}, nil

	case TypeCheer:
		var e cheerEvent
		if err := decode(raw, &e); err != nil {
			return nil, err
		}
		name := e.UserName
		if e.IsAnonymous {
			name = AnonymousName
		}
		return events.Donation{
			Meta:        meta,
			Type:        events.DonationCheer,
			UserName:    name,
			Message:     e.Message,
			Total:       e.Bits,
			IsAnonymous: e.IsAnonymous,
			Decorations: []events.Decoration{{Type: events.DecorationDonationType, Text: "bits", Value: e.Bits}},
		}, nil

	case TypeRedemptionAdd:
		var e redemptionEvent
		if err := decode(raw, &e); err != nil {
			return nil, err
		}
		return events.Redemption{Meta: meta, UserName: e.UserName, Title: e.Reward.Title, Input: e.UserInput}, nil

	case TypeRaid:
		var e raidEvent
		if err := decode(raw, &e); err != nil {
			return nil, err
		}
		return events.Raid{
			Meta:      meta,
			UserLogin: e.FromBroadcasterUserLogin,
			UserName:  e.FromBroadcasterUserName,
			Viewers:   e.Viewers,
		}, nil

	case TypeChatMessage:
		var e chatMessageEvent
		if err := decode(raw, &e); err != nil {
			return nil, err
		}
		ev := events.ChatMessage{
			Meta:        meta,
			UserLogin:   e.ChatterUserLogin,
			UserName:    e.ChatterUserName,
			Text:        e.Message.Text,
			Decorations: fragmentDecorations(e.Message.Fragments),
		}
		if e.Cheer != nil {
			ev.Bits = e.Cheer.Bits
		}
		for _, b := range e.Badges {
			ev.Badges |= badgeFromSet(b.SetID)
			ev.Decorations = append(ev.Decorations, events.Decoration{Type: events.DecorationBadge, SetID: b.SetID, ID: b.ID, Text: b.Info})
		}
		return ev, nil
	}
	return nil, nil
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty event payload", ErrMalformedEnvelope)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return nil
}

// fragmentDecorations walks message fragments keeping a rune cursor so emote
// and cheermote ranges index into the full message text.
func fragmentDecorations(frags []chatFragment) []events.Decoration {
	var out []events.Decoration
	cursor := 0
	for _, f := range frags {
		n := utf8.RuneCountInString(f.Text)
		switch f.Type {
		case "emote":
			d := events.Decoration{Type: events.DecorationEmote, Begin: cursor, End: cursor + n - 1, Text: f.Text}
			if f.Emote != nil {
				d.ID = f.Emote.ID
				d.SetID = f.Emote.EmoteSetID
			}
			out = append(out, d)
		case "cheermote":
			d := events.Decoration{Type: events.DecorationCheermote, Begin: cursor, End: cursor + n - 1, Text: f.Text}
			if f.Cheermote != nil {
				d.Text = f.Cheermote.Prefix
				d.Value = f.Cheermote.Bits
				d.ID = fmt.Sprint(f.Cheermote.Tier)
			}
			out = append(out, d)
		}
		cursor += n
	}
	return out
}

func badgeFromSet(setID string) events.Badges {
	switch setID {
	case "broadcaster":
		return events.BadgeBroadcaster
	case "moderator":
		return events.BadgeModerator
	case "subscriber", "founder":
		return events.BadgeSubscriber
	case "vip":
		return events.BadgeVIP
	}
	return 0
}
