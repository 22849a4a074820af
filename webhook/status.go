package webhook

import "fmt"

// Status is where a delivery ended up. Only Pending deliveries sit in the
// queue; the other three are written once by the dispatcher and never change.
type Status int

const (
	Pending Status = iota + 1
	Delivered
	Failed
	CircuitOpen
)

var statusNames = map[Status]string{
	Pending:     "pending",
	Delivered:   "delivered",
	Failed:      "failed",
	CircuitOpen: "circuit_open",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus reads back the value String wrote to a store
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown delivery status %q", name)
}
