// Package items provides the item registry and item event bus for Gray Logic Fluent.
//
// An item is a named, typed point of automation state: a switch, a dimmer,
// a contact, a colour light. Rules read item state and change it by sending
// commands or posting updates.
//
// # Architecture
//
//	Protocol bridge ──MQTT──► BridgeStateHandler ──► Registry.PostUpdate
//	                                                     │
//	Rule / API ──► Registry.SendCommand ──MQTT command──►┤
//	                                                     ▼
//	                                   SQLite (state) + InfluxDB (history)
//	                                                     │
//	                                                     ▼
//	                                         Listeners (rule engine, websocket)
//
// Every item is persisted in SQLite through a Repository and cached in
// memory by the Registry. Items added through AddItem are tagged
// DynamicItemTag so operators can tell them apart from declared ones.
//
// # Events
//
// Three event types are emitted to subscribers:
//   - EventCommand: a command was sent to an item
//   - EventUpdate: an item state was posted, changed or not
//   - EventChange: an item state was posted and differed from the previous state
//
// Listeners run on the caller's goroutine after all locks are released.
//
// # Capabilities
//
// Toggling needs to know whether an item is on/off or has a brightness.
// That is expressed by Type.Capability rather than by inspecting type names.
package items
