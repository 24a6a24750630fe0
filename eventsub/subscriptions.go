package eventsub

import "github.com/onnwee/stream-bridge/twitchapi"

// Subscription types registered for every session.
const (
	TypeFollow              = "channel.follow"
	TypeRaid                = "channel.raid"
	TypeSubscribe           = "channel.subscribe"
	TypeSubscriptionMessage = "channel.subscription.message"
	TypeSubscriptionGift    = "channel.subscription.gift"
	TypeCheer               = "channel.cheer"
	TypeRedemptionAdd       = "channel.channel_points_custom_reward_redemption.add"
	TypeChatMessage         = "channel.chat.message"
)

type subscriptionSpec struct {
	Type      string
	Version   string
	condition func(accountID string) map[string]string
}

func broadcaster(id string) map[string]string {
	return map[string]string{"broadcaster_user_id": id}
}

var subscriptionSpecs = []subscriptionSpec{
	{TypeFollow, "2", func(id string) map[string]string {
		return map[string]string{"broadcaster_user_id": id, "moderator_user_id": id}
	}},
	{TypeRaid, "1", func(id string) map[string]string {
		return map[string]string{"to_broadcaster_user_id": id}
	}},
	{TypeSubscribe, "1", broadcaster},
	{TypeSubscriptionMessage, "1", broadcaster},
	{TypeSubscriptionGift, "1", broadcaster},
	{TypeCheer, "1", broadcaster},
	{TypeRedemptionAdd, "1", broadcaster},
	{TypeChatMessage, "1", func(id string) map[string]string {
		return map[string]string{"broadcaster_user_id": id, "user_id": id}
	}},
}

// Requests builds one websocket-transport registration per subscription type.
func Requests(accountID, sessionID string) []twitchapi.SubscriptionRequest {
	out := make([]twitchapi.SubscriptionRequest, 0, len(subscriptionSpecs))
	for _, s := range subscriptionSpecs {
		out = append(out, twitchapi.SubscriptionRequest{
			Type:      s.Type,
			Version:   s.Version,
			Condition: s.condition(accountID),
			Transport: twitchapi.SubscriptionTransport{Method: "websocket", SessionID: sessionID},
		})
	}
	return out
}
