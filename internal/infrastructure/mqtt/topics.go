package mqtt

// TopicPrefix is the root of every meshlink topic.
const TopicPrefix = "meshlink"

// Topics provides builders for meshlink MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.AckSend("req-1") // "meshlink/ack/send/req-1"
type Topics struct{}

// SystemStatus carries online/offline announcements and the Last Will.
//
// Example: meshlink/system/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// Health carries retained relay health reports.
//
// Example: meshlink/health/relay
func (Topics) Health() string {
	return TopicPrefix + "/health/relay"
}

// MessageInbound carries messages received from the mesh.
//
// Example: meshlink/message/inbound
func (Topics) MessageInbound() string {
	return TopicPrefix + "/message/inbound"
}

// MessageOutbound carries messages accepted for transmission.
//
// Example: meshlink/message/outbound
func (Topics) MessageOutbound() string {
	return TopicPrefix + "/message/outbound"
}

// CommandSend receives send requests from MQTT clients.
//
// Example: meshlink/command/send
func (Topics) CommandSend() string {
	return TopicPrefix + "/command/send"
}

// AckSend returns the acknowledgement topic for a send request.
//
// Example: meshlink/ack/send/req-abc123
func (Topics) AckSend(requestID string) string {
	return TopicPrefix + "/ack/send/" + requestID
}

// AllMessages matches both message directions.
//
// Pattern: meshlink/message/+
func (Topics) AllMessages() string {
	return TopicPrefix + "/message/+"
}

// AllAcks matches every send acknowledgement.
//
// Pattern: meshlink/ack/send/+
func (Topics) AllAcks() string {
	return TopicPrefix + "/ack/send/+"
}
