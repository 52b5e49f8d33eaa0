package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every StudySync topic.
const TopicPrefix = "studysync"

// Topics provides builders for the auth core's MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.Presence("u-123") // "studysync/presence/u-123"
type Topics struct{}

// ServiceStatus is where the auth core's retained online/offline status lives.
func (Topics) ServiceStatus() string {
	return TopicPrefix + "/auth/status"
}

// Presence returns the topic carrying realtime presence changes for a subject.
func (Topics) Presence(subjectID string) string {
	return fmt.Sprintf("%s/presence/%s", TopicPrefix, subjectID)
}

// AllPresence matches every subject's presence topic.
func (Topics) AllPresence() string {
	return TopicPrefix + "/presence/+"
}

// AccountDeactivated is published by account management when a user is
// deactivated elsewhere in the platform.
func (Topics) AccountDeactivated() string {
	return TopicPrefix + "/account/deactivated"
}

// SubjectFromPresenceTopic extracts the subject ID from a presence topic.
func SubjectFromPresenceTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefix+"/presence/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
