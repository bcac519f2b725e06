package domain

// Event is one named message on the real-time channel.
type Event struct {
	Name string
	Data interface{}
}

// Outbound event names.
const (
	EventConnectionEstablished = "connection_established"
	EventOnlineUsersList       = "online_users_list"
	EventUsernameUpdated       = "username_updated"

	EventIncomingChatRequest = "incoming_chat_request"
	EventRequestSent         = "request_sent"
	EventRequestFailed       = "request_failed"
	EventRequestError        = "request_error"
	EventRequestExpired      = "request_expired"
	EventChatRequestAccepted = "chat_request_accepted"
	EventChatStarted         = "chat_started"
	EventChatRequestRejected = "chat_request_rejected"
	EventReceivePrivateMsg   = "receive_private_message"
	EventPartnerLeftChat     = "partner_left_chat"
	EventUserLeftRoom        = "user_left_room"

	EventIncomingCall = "incoming_call"
	EventCallRinging  = "call_ringing"
	EventCallFailed   = "call_failed"
	EventCallError    = "call_error"
	EventCallAccepted = "call_accepted"
	EventCallStarted  = "call_started"
	EventCallRejected = "call_rejected"
	EventCallEnded    = "call_ended"

	EventWebRTCOffer        = "webrtc_offer"
	EventWebRTCAnswer       = "webrtc_answer"
	EventWebRTCICECandidate = "webrtc_ice_candidate"
	EventWebRTCCallEnded    = "webrtc_call_ended"

	EventFileReceived = "file_received"
	EventError        = "error"
)

// SignalKind selects what the relay forwards.
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
	SignalCallEnd      SignalKind = "call-end"
)
