// Package sender paces outbound traffic.
//
// The Sender wakes on a fixed period and floods at most one frame to every
// known gateway, taking work from the queues in precedence order. Gateways
// whose sub-band duty-cycle budget cannot absorb the frame are skipped; a
// frame skipped everywhere is dropped. Sent frames are marked in the message
// cache so their echoes are ignored.
//
// The Announcer queues this relay's own presence beacon on its own period.
package sender
