// Package lorawan models the EU868 radio constraints the relay must respect.
//
// It covers the LoRa data rate table and payload limits, resolution of
// operator-supplied radio parameters into one canonical form, frame airtime
// and the per-gateway duty-cycle budget of each regulatory sub-band.
package lorawan
