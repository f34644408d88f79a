package kafka

// TopicPrefix namespaces every topic the storefront writes to.
const TopicPrefix = "storefront"

// Topic builds "<prefix>.<domain>.<action>", e.g. storefront.cart.notifications.
func Topic(domain, action string) string {
	return TopicPrefix + "." + domain + "." + action
}
