// Package queue holds outbound frames between the uplink path and the send scheduler.
//
// There is one bounded FIFO per frame class. Producers never block: a full
// queue rejects the new item and counts the drop. The scheduler drains
// announcements first, then bundles, then relay frames.
package queue
