package session

import (
	"fmt"
	"strconv"

	"github.com/acolita/sshx/internal/record"
)

// Action selects what an invocation does.
type Action int

const (
	ActionConnect Action = iota
	ActionConnectByIndex
	ActionList
	ActionRemove
)

func (a Action) String() string {
	switch a {
	case ActionConnect:
		return "connect"
	case ActionConnectByIndex:
		return "connect-by-index"
	case ActionList:
		return "list"
	case ActionRemove:
		return "remove"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Descriptor is a resolved connection request.
type Descriptor struct {
	Action     Action
	Name       string
	User       string
	Host       string
	Port       int
	Credential []byte
	Index      int    // 1-based record index for ActionConnectByIndex and ActionRemove
	Match      string // glob filter for ActionList
	NoSave     bool   // do not upsert the record after resolving
}

// Target renders user@host:port.
func (d Descriptor) Target() string {
	return d.User + "@" + d.Host + ":" + strconv.Itoa(d.Port)
}

// Record converts the descriptor to a connection record.
func (d Descriptor) Record() record.Record {
	return record.Record{
		Name:       d.Name,
		User:       d.User,
		Host:       d.Host,
		Port:       d.Port,
		Credential: string(d.Credential),
	}
}

// FromRecord fills a connect descriptor from a stored record.
func FromRecord(r record.Record) Descriptor {
	return Descriptor{
		Action:     ActionConnect,
		Name:       r.Name,
		User:       r.User,
		Host:       r.Host,
		Port:       r.Port,
		Credential: []byte(r.Credential),
	}
}
