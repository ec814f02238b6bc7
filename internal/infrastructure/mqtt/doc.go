// Package mqtt connects Gray Logic Fluent to the MQTT item bus.
//
// Rules never talk to devices directly. A command sent to an item is
// published on graylogic/item/{name}/command, where the protocol bridge
// owning the item picks it up. Bridges report the resulting state on
// graylogic/state/{protocol}/{name}; the item registry subscribes to those
// reports and turns them into item updates, which in turn fire rules.
// Every accepted state is re-published, retained, on
// graylogic/item/{name}/state.
//
//	rules ─► items.Registry ─► mqtt.Client ─► broker ─► bridges
//	                ▲                                      │
//	                └──────── graylogic/state/+/+ ◄────────┘
//
// The client tracks subscriptions and restores them after a reconnect, and
// keeps a retained online/offline status (with a Last Will) on
// graylogic/system/status.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	registry.SetPublisher(client)
//	err = client.Subscribe(mqtt.Topics{}.AllBridgeStates(), 1,
//	    registry.BridgeStateHandler(ctx))
package mqtt
