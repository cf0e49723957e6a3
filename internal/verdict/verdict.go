// Package verdict defines the per-packet outcome shared by every pipeline
// stage (spec §2, §7 glossary: "Verdict").
package verdict

// Verdict is the result of one pipeline stage.
type Verdict int

const (
	// Continue means processing should proceed to the next stage.
	Continue Verdict = iota
	// Accept means the packet (as translated so far) should be
	// transmitted as-is without further stages.
	Accept
	// Stolen means a stage has taken ownership of the packet (it is held
	// pending fragment reassembly) and the caller must not touch it
	// further. Fragment reassembly is the only stage that returns it; a
	// TCP SYN that opens a V4_INIT session is translated, not held.
	Stolen
	// Drop means the packet must be discarded; no ICMP is generated
	// unless the stage that returned Drop already emitted one.
	Drop
)

func (v Verdict) String() string {
	switch v {
	case Continue:
		return "CONTINUE"
	case Accept:
		return "ACCEPT"
	case Stolen:
		return "STOLEN"
	case Drop:
		return "DROP"
	default:
		return "UNKNOWN"
	}
}
