// Package mqtt connects the StudySync auth core to the platform's MQTT bus.
//
// The auth core publishes realtime presence changes and its own retained
// online/offline status, and consumes account deactivation events raised
// by other services:
//
//	studysync/auth/status            retained service status (LWT on crash)
//	studysync/presence/{subject}     PresenceEvent
//	studysync/account/deactivated    AccountDeactivatedEvent
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, logger)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AccountDeactivated(), 1,
//	    func(topic string, payload []byte) error {
//	        ev, err := mqtt.ParseAccountDeactivated(payload)
//	        ...
//	    })
//
// TLS should be enabled in production (cfg.Broker.TLS); anonymous access is
// for local development only.
package mqtt
