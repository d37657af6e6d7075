// Package beacon is the periodic transmit producer. Each tick it submits one
// TxSend to the radio task manager without waiting for the burst, and never
// fires more often than MinInterval.
package beacon
