package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "sqlitetool"

// Topics builds the sqlitetool MQTT topic hierarchy under a prefix:
//
//	{prefix}/request/{op}                        callers publish requests
//	{prefix}/response/{client_id}/{request_id}   replies to one caller
//	{prefix}/event/changed                       successful writes
//	{prefix}/system/status                       retained online/offline status
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	p := strings.Trim(t.Prefix, "/")
	if p == "" {
		return DefaultTopicPrefix
	}
	return p
}

// Request returns the topic callers publish op requests to.
//
// Example: sqlitetool/request/insert
func (t Topics) Request(op string) string {
	return fmt.Sprintf("%s/request/%s", t.prefix(), op)
}

// AllRequests returns the wildcard matching every request topic.
func (t Topics) AllRequests() string {
	return t.prefix() + "/request/+"
}

// Response returns the reply topic for one request.
//
// Example: sqlitetool/response/reporting-job/6f1c...
func (t Topics) Response(clientID, requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", t.prefix(), clientID, requestID)
}

// Changed returns the topic successful writes are announced on.
func (t Topics) Changed() string {
	return t.prefix() + "/event/changed"
}

// SystemStatus returns the retained status topic.
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// ParseRequest extracts the op from a request topic.
// It returns false if topic is not a request topic under this prefix.
func (t Topics) ParseRequest(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/request/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

// ValidSegment reports whether s can be used as a single topic level.
// Wildcards and separators are rejected.
func ValidSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#\x00")
}
