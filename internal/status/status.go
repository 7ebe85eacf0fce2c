package status

import "fmt"

type Status int32

const (
	Created Status = iota
	Downloading
	Paused
	Cancelled
	Completed
	Error
)

var names = map[Status]string{
	Created:     "Created",
	Downloading: "Downloading",
	Paused:      "Paused",
	Cancelled:   "Cancelled",
	Completed:   "Completed",
	Error:       "Error",
}

// transitions lists, for every non-terminal status, the statuses it may move to.
var transitions = map[Status][]Status{
	Created:     {Downloading, Cancelled},
	Downloading: {Paused, Cancelled, Completed, Error},
	Paused:      {Downloading, Cancelled},
}

func (s Status) String() string {
	if name, ok := names[s]; ok {
		return name
	}

	return fmt.Sprintf("Unknown(%d)", int32(s))
}

// IsTerminal reports whether no transition out of s exists.
func (s Status) IsTerminal() bool {
	return s == Completed || s == Cancelled || s == Error
}

func (s Status) MarshalText() ([]byte, error) {
	if _, ok := names[s]; !ok {
		return nil, fmt.Errorf("unknown status %d", int32(s))
	}

	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}

	*s = parsed

	return nil
}

// Parse returns the status with the given display name.
func Parse(name string) (Status, error) {
	for s, n := range names {
		if n == name {
			return s, nil
		}
	}

	return Created, fmt.Errorf("unknown status %q", name)
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

// All returns every status in declaration order.
func All() []Status {
	return []Status{Created, Downloading, Paused, Cancelled, Completed, Error}
}
