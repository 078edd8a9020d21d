package state

import "strings"

// Topic name prefixes form the broadcast scopes of the wire contract.
const (
	riderTopicPrefix = "rider:"
)

func RouteTopic(routeID string) string {
	return "route:" + routeID
}

func VehicleTopic(vehicleID string) string {
	return "vehicle:" + vehicleID
}

func RiderTopic(riderID string) string {
	return riderTopicPrefix + riderID
}

// RiderIDFromTopic reports whether the topic is a rider scope and, if so,
// which rider it addresses. Rider topics resolve through the rider's
// connection set instead of explicit membership.
func RiderIDFromTopic(topic string) (string, bool) {
	return strings.CutPrefix(topic, riderTopicPrefix)
}
