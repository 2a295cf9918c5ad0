package app

import (
	"fmt"

	"github.com/dkeye/meshroom/internal/domain"
)

type BackpressureAction int

const (
	DropFrame BackpressureAction = iota
	Disconnect
)

// Policy decides what happens to a connection whose outbound queue is full.
type Policy interface {
	OnBackPressure(conn domain.ConnectionID) BackpressureAction
}

// SimplePolicy applies one action to every slow consumer.
type SimplePolicy struct {
	Action BackpressureAction
}

func (p SimplePolicy) OnBackPressure(domain.ConnectionID) BackpressureAction {
	return p.Action
}

// ParsePolicy maps the slow_consumer config value to a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "", "drop":
		return SimplePolicy{Action: DropFrame}, nil
	case "disconnect":
		return SimplePolicy{Action: Disconnect}, nil
	default:
		return nil, fmt.Errorf("unknown slow_consumer policy %q", name)
	}
}
