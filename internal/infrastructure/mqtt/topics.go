package mqtt

import "fmt"

// Topic prefixes.
//
// Bridge topics use the flat scheme graylogic/{category}/{protocol}/{device_id}
// shared by every gray-logic protocol bridge.
const (
	TopicPrefixBridge = "graylogic"
	TopicPrefixSystem = "graylogic/system"
)

// Topics provides builders for gray-logic MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.BridgeState("cast", "google-home-mini-4f2a")
//	// "graylogic/state/cast/google-home-mini-4f2a"
type Topics struct{}

// BridgeState returns the topic for sparse device state updates.
func (Topics) BridgeState(protocol, deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixBridge, protocol, deviceID)
}

// BridgeMedia returns the topic for media/now-playing events.
func (Topics) BridgeMedia(protocol, deviceID string) string {
	return fmt.Sprintf("%s/media/%s/%s", TopicPrefixBridge, protocol, deviceID)
}

// BridgeCommand returns the topic instructions for a device arrive on.
func (Topics) BridgeCommand(protocol, deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, protocol, deviceID)
}

// BridgeAck returns the topic for instruction acknowledgements.
func (Topics) BridgeAck(protocol, deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixBridge, protocol, deviceID)
}

// BridgeHealth returns the topic for bridge health status.
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// BridgeStatus returns the retained online/offline topic for one MQTT client.
// The Last Will is registered here.
func (Topics) BridgeStatus(clientID string) string {
	return fmt.Sprintf("%s/bridge/%s/status", TopicPrefixSystem, clientID)
}

// AllBridgeCommands subscribes to instructions for every device of a protocol.
func (Topics) AllBridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefixBridge, protocol)
}

// AllBridgeStates subscribes to state updates for every device of a protocol.
func (Topics) AllBridgeStates(protocol string) string {
	return fmt.Sprintf("%s/state/%s/+", TopicPrefixBridge, protocol)
}
