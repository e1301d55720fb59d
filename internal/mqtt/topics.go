package mqtt

import "strings"

// DefaultPrefix is the MQTT topic prefix used when none is configured
// (§4.5, §6).
const DefaultPrefix = "cohorte/herald"

// QoS is the publish/subscribe quality of service used for every topic
// this transport touches (§4.5: "Publish QoS is 1 for all user
// messages").
const QoS = 1

func uidTopic(prefix, appID, uid string) string {
	return prefix + "/" + appID + "/uid/" + uid
}

func groupTopic(prefix, appID, group string) string {
	return prefix + "/" + appID + "/group/" + group
}

func ripTopic(prefix, appID string) string {
	return prefix + "/" + appID + "/rip"
}

// rawTopic is where a raw-subject message is published: the subject is
// folded into the topic itself (see the "Open Question" note in
// DESIGN.md) since a plain-UTF-8 payload carries no subject field of its
// own.
func rawTopic(base, subject string) string {
	return base + "/raw/" + subject
}

// splitRawTopic reports whether topic is a raw-subject topic rooted at
// base, returning the subject it carries.
func splitRawTopic(topic, base string) (subject string, ok bool) {
	prefix := base + "/raw/"
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	return strings.TrimPrefix(topic, prefix), true
}

func toSet(ss []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		m[s] = struct{}{}
	}
	return m
}
