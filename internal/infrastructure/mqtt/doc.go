// Package mqtt provides MQTT connectivity for meshlink.
//
// MQTT is an optional outer surface. When enabled, meshlink:
//   - publishes accepted messages to meshlink/message/inbound and meshlink/message/outbound
//   - publishes relay health (retained) to meshlink/health/relay
//   - accepts send commands on meshlink/command/send and acknowledges them
//     on meshlink/ack/send/{request_id}
//   - announces itself on meshlink/system/status with a Last Will for crashes
//
// The client auto-reconnects through paho and restores subscriptions
// after every reconnect.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.CommandSend(), 1,
//	    func(topic string, payload []byte) error {
//	        return bridge.Handle(payload)
//	    })
//
// Credentials belong in MESHLINK_MQTT_USERNAME and MESHLINK_MQTT_PASSWORD,
// not the config file.
package mqtt
