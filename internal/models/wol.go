package models

import (
	"net"
	"time"
)

// WakeConfig holds settings for sending magic packets.
type WakeConfig struct {
	MACAddress string
	Address    string        // destination host or IPv4 address, broadcast by default
	Port       int           // destination UDP port, 9 by default
	Count      int           // packets to send, 1 by default
	Interval   time.Duration // pause between packets
}

// WakeResult holds the result of sending magic packets.
type WakeResult struct {
	HWAddr string // canonical form of the address encoded in the packets
	Addr   string // host:port the packets were sent to
	Sent   int
	Error  error
}

// ListenOutcome tells why a listen cycle ended.
type ListenOutcome int

// Listen cycle outcomes.
const (
	OutcomeMatch ListenOutcome = iota
	OutcomeShutdown
	OutcomeRelisten
)

func (o ListenOutcome) String() string {
	switch o {
	case OutcomeMatch:
		return "match"
	case OutcomeShutdown:
		return "shutdown"
	case OutcomeRelisten:
		return "relisten"
	default:
		return "unknown"
	}
}

// ListenResult holds the result of one listen cycle.
type ListenResult struct {
	Outcome  ListenOutcome
	HWAddr   string   // set for OutcomeMatch
	Source   net.Addr // sender of the matching packet
	Received int      // datagrams read during the cycle
}
