// Package introspection implements the introspection protocol over NATS:
// manager discovery, item enumeration, filter management and filtered batch
// delivery. Managers expose a live set of named, typed simulation variables;
// clients create named filters (subsets of those variables) bound to a
// delivery topic and subscribe to it.
package introspection

// Subjects used by the protocol. Discovery is a scatter/gather ping; all
// other RPCs are per-manager request/reply with JSON bodies. Batches for a
// filter are published on the filter's delivery topic.
const (
	// PingSubject is where every manager answers discovery pings.
	PingSubject = "introspection.ping"

	subjectPrefix = "introspection."
	topicPrefix   = "introspection.filter."
)

func itemsSubject(managerID string) string {
	return subjectPrefix + managerID + ".items"
}

func registeredSubject(managerID string) string {
	return subjectPrefix + managerID + ".registered"
}

func newFilterSubject(managerID string) string {
	return subjectPrefix + managerID + ".filter.new"
}

func updateFilterSubject(managerID string) string {
	return subjectPrefix + managerID + ".filter.update"
}

func removeFilterSubject(managerID string) string {
	return subjectPrefix + managerID + ".filter.remove"
}

// DeliveryTopic returns the subject batches for the given filter are
// published on.
func DeliveryTopic(filterID string) string {
	return topicPrefix + filterID
}

type pingResponse struct {
	ManagerID string `json:"manager_id"`
}

type registeredRequest struct {
	Item string `json:"item"`
}

type registeredResponse struct {
	Registered bool `json:"registered"`
}

type itemsResponse struct {
	Items []string `json:"items"`
}

type filterRequest struct {
	FilterID string   `json:"filter_id,omitempty"`
	Items    []string `json:"items,omitempty"`
}

type filterResponse struct {
	OK       bool   `json:"ok"`
	FilterID string `json:"filter_id,omitempty"`
	Topic    string `json:"topic,omitempty"`
	Error    string `json:"error,omitempty"`
}
