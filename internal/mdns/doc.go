// Package mdns tracks services announced over multicast DNS.
//
// A Browser runs periodic browse cycles through a zeroconf resolver and
// turns the stream of answers into two events per instance: Added the
// first time a resolvable answer is seen, and Removed when the instance
// sends a goodbye (TTL 0) or has not been seen for ExpireAfter.
package mdns
