package http

import (
	"encoding/json"

	"github.com/ostrovskym/relaygate-server/internal/gateway"
	"github.com/ostrovskym/relaygate-server/internal/proto"
)

func chatRefFromProto(r proto.ChatRef) gateway.ChatRef {
	return gateway.ChatRef{ID: r.ID, Provisional: r.Provisional}
}

func chatRefToProto(r gateway.ChatRef) proto.ChatRef {
	return proto.ChatRef{ID: r.ID, Provisional: r.Provisional}
}

func messageRefsFromProto(refs []proto.MessageRefPayload) []gateway.MessageRef {
	out := make([]gateway.MessageRef, 0, len(refs))
	for _, r := range refs {
		out = append(out, gateway.MessageRef{ID: r.ID, Provisional: r.Provisional, Sender: r.Sender})
	}
	return out
}

func messageRefsToProto(refs []gateway.MessageRef) []proto.MessageRefPayload {
	out := make([]proto.MessageRefPayload, 0, len(refs))
	for _, r := range refs {
		out = append(out, proto.MessageRefPayload{ID: r.ID, Provisional: r.Provisional, Sender: r.Sender})
	}
	return out
}

// inboundToGateway maps a wire frame to the closed inbound variant. A false
// result means the frame is malformed or of unknown type and must be
// ignored without reply.
func inboundToGateway(in proto.Inbound) (*gateway.Inbound, bool) {
	switch in.Type {
	case proto.InboundTypeChatMessage:
		var data proto.ChatMessageData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			return nil, false
		}
		if data.Message.Content == "" {
			return nil, false
		}
		return &gateway.Inbound{
			Kind: gateway.InboundChatMessage,
			Chat: &gateway.ChatMessage{
				Chat:   chatRefFromProto(data.Chat),
				Target: data.Target,
				Message: gateway.MessageBody{
					ProvisionalID: data.Message.ProvisionalID,
					Content:       data.Message.Content,
					SentAt:        data.Message.SentAt,
				},
			},
		}, true
	case proto.InboundTypeMessagesSeen:
		var data proto.MessagesSeenData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			return nil, false
		}
		return &gateway.Inbound{
			Kind: gateway.InboundMessagesSeen,
			Seen: &gateway.SeenReceipt{
				Chat:     chatRefFromProto(data.Chat),
				Messages: messageRefsFromProto(data.Messages),
			},
		}, true
	case proto.InboundTypeTyping:
		var data proto.TypingData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			return nil, false
		}
		return &gateway.Inbound{
			Kind:   gateway.InboundTyping,
			Typing: &gateway.Typing{Chat: chatRefFromProto(data.Chat)},
		}, true
	case proto.InboundTypeIsUserOnline:
		var data proto.IsUserOnlineData
		if err := json.Unmarshal(in.Data, &data); err != nil || data.UserID == "" {
			return nil, false
		}
		return &gateway.Inbound{
			Kind:  gateway.InboundPresenceQuery,
			Query: &gateway.PresenceQuery{UserID: data.UserID},
		}, true
	default:
		return nil, false
	}
}

// outboundFromEvent maps a gateway event to its wire representation.
func outboundFromEvent(event *gateway.Event) proto.Outbound {
	switch event.Kind {
	case gateway.EventChatMessage:
		return proto.Outbound{
			Type: proto.OutboundTypeChatMessage,
			Data: proto.EventChatMessage{
				Chat:   chatRefToProto(event.Chat),
				Sender: event.Sender,
				Target: event.Target,
				Message: proto.MessagePayload{
					ProvisionalID: event.Message.ProvisionalID,
					Content:       event.Message.Content,
					SentAt:        event.Message.SentAt,
				},
			},
		}
	case gateway.EventMessageAck:
		return proto.Outbound{
			Type: proto.OutboundTypeMessageAck,
			Data: proto.EventMessageAck{
				Chat:          chatRefToProto(event.Chat),
				ProvisionalID: event.Message.ProvisionalID,
			},
		}
	case gateway.EventReconciliation:
		pairs := make([]proto.MessageIDPair, 0, len(event.Pairs))
		for _, p := range event.Pairs {
			pairs = append(pairs, proto.MessageIDPair{
				Provisional: p.Provisional,
				MessageID:   p.MessageID,
				Sender:      p.Sender,
			})
		}
		data := proto.EventReconciliation{
			ChatID:   event.Chat.ID,
			Messages: pairs,
		}
		if event.ChatPair != nil {
			data.Chat = &proto.ChatIDPair{
				Provisional: event.ChatPair.Provisional,
				ChatID:      event.ChatPair.ChatID,
			}
		}
		return proto.Outbound{Type: proto.OutboundTypeReconciliation, Data: data}
	case gateway.EventSeenBy:
		return proto.Outbound{
			Type: proto.OutboundTypeSeenBy,
			Data: proto.EventSeenBy{
				Chat:     chatRefToProto(event.Chat),
				SeenBy:   event.Marker,
				Messages: messageRefsToProto(event.Seen),
			},
		}
	case gateway.EventTyping:
		return proto.Outbound{
			Type: proto.OutboundTypeTyping,
			Data: proto.EventTyping{
				Chat:   chatRefToProto(event.Chat),
				UserID: event.Sender,
			},
		}
	case gateway.EventUserOnline:
		return proto.Outbound{
			Type: proto.OutboundTypeUserOnline,
			Data: proto.EventUserOnline{UserID: event.UserID},
		}
	case gateway.EventUserOffline:
		return proto.Outbound{
			Type: proto.OutboundTypeUserOffline,
			Data: proto.EventUserOffline{UserID: event.UserID, LastSeenAt: event.LastSeen},
		}
	case gateway.EventUserStatus:
		return proto.Outbound{
			Type: proto.OutboundTypeUserStatus,
			Data: proto.EventUserStatus{
				UserID:     event.UserID,
				Online:     event.Online,
				LastSeenAt: event.LastSeen,
			},
		}
	case gateway.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unmapped event"}}
	}
}
