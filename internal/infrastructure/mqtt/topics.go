package mqtt

import "fmt"

// Topic prefixes of the item bus.
//
// Items use graylogic/item/{name}/{command|state}. Protocol bridges report
// state on the flat bridge scheme graylogic/state/{protocol}/{item}.
const (
	// TopicPrefix is the base of every Gray Logic topic.
	TopicPrefix = "graylogic"

	// TopicPrefixItem is the base for item command and state topics.
	TopicPrefixItem = "graylogic/item"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graylogic/system"
)

// Topics provides builders for Gray Logic MQTT topics.
//
//	topic := mqtt.Topics{}.ItemCommand("Kitchen_Light")
//	// Returns: "graylogic/item/Kitchen_Light/command"
type Topics struct{}

// ItemCommand returns the topic commands for an item are published on.
// Bridges subscribe to it and drive the physical device.
func (Topics) ItemCommand(item string) string {
	return fmt.Sprintf("%s/%s/command", TopicPrefixItem, item)
}

// ItemState returns the retained topic carrying an item's current state.
func (Topics) ItemState(item string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefixItem, item)
}

// BridgeState returns the topic a bridge reports an item's state on.
//
// Example: graylogic/state/knx/Kitchen_Light
func (Topics) BridgeState(protocol, item string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, protocol, item)
}

// AllBridgeStates returns a wildcard matching state reports from every bridge.
func (Topics) AllBridgeStates() string {
	return TopicPrefix + "/state/+/+"
}

// AllItemCommands returns a wildcard matching every item command topic.
func (Topics) AllItemCommands() string {
	return TopicPrefixItem + "/+/command"
}

// SystemStatus returns the retained online/offline status topic.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllTopics returns a wildcard matching every Gray Logic topic.
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
