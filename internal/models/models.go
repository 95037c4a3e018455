// Package models holds the domain types of the task-board service: users,
// projects, cards and their status-transition rules.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// UserStatus is the presence state of a registered user.
type UserStatus string

const (
	Online  UserStatus = "ONLINE"
	Offline UserStatus = "OFFLINE"
)

// User is a registered account. Immutable after creation.
type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
	Salt         string `json:"salt"`
}

// CardStatus is one of the four lists a card can sit in.
type CardStatus string

const (
	StatusTodo        CardStatus = "TODO"
	StatusInProgress  CardStatus = "INPROGRESS"
	StatusToBeRevised CardStatus = "TOBEREVISED"
	StatusDone        CardStatus = "DONE"
)

// CardStatuses lists every status in board order.
var CardStatuses = []CardStatus{StatusTodo, StatusInProgress, StatusToBeRevised, StatusDone}

// ParseCardStatus resolves a case-insensitive status name. The boolean is
// false when the string names no known status.
func ParseCardStatus(s string) (CardStatus, bool) {
	for _, status := range CardStatuses {
		if strings.EqualFold(string(status), s) {
			return status, true
		}
	}
	return "", false
}

// CanMoveTo reports whether a card may transition from s to target.
// TODO only advances to INPROGRESS; INPROGRESS and TOBEREVISED may move to
// each other or to DONE; DONE is terminal. A self-move is never allowed.
func (s CardStatus) CanMoveTo(target CardStatus) bool {
	if s == target {
		return false
	}
	switch s {
	case StatusTodo:
		return target == StatusInProgress
	case StatusInProgress:
		return target == StatusToBeRevised || target == StatusDone
	case StatusToBeRevised:
		return target == StatusInProgress || target == StatusDone
	default:
		return false
	}
}

// movementTimeLayout is the timestamp format movements carry on the wire and
// on disk.
const movementTimeLayout = "2006-01-02 15:04:05"

// Movement records one status transition of a card. Immutable once created.
type Movement struct {
	From CardStatus `json:"from"`
	To   CardStatus `json:"to"`
	When time.Time  `json:"when"`
}

type movementJSON struct {
	From CardStatus `json:"from"`
	To   CardStatus `json:"to"`
	When string     `json:"when"`
}

func (m Movement) MarshalJSON() ([]byte, error) {
	return json.Marshal(movementJSON{From: m.From, To: m.To, When: m.When.Format(movementTimeLayout)})
}

func (m *Movement) UnmarshalJSON(data []byte) error {
	var raw movementJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	when, err := time.ParseInLocation(movementTimeLayout, raw.When, time.Local)
	if err != nil {
		return err
	}
	m.From, m.To, m.When = raw.From, raw.To, when
	return nil
}

// Card is a unit of work scoped to one project. Movements is its append-only
// transition history.
type Card struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      CardStatus `json:"status"`
	Movements   []Movement `json:"movements"`
}

// NewCard creates a card in the TODO list with an empty history.
func NewCard(name, description string) *Card {
	return &Card{
		Name:        name,
		Description: description,
		Status:      StatusTodo,
		Movements:   []Movement{},
	}
}

// Move sets the card's status and appends the movement record. Transition
// legality is the caller's responsibility.
func (c *Card) Move(to CardStatus, when time.Time) {
	c.Movements = append(c.Movements, Movement{From: c.Status, To: to, When: when})
	c.Status = to
}

// CardSummary is the redacted projection of a card shown by show_card: the
// movement history is withheld.
type CardSummary struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      CardStatus `json:"status"`
}

// Summary returns the card without its history.
func (c *Card) Summary() CardSummary {
	return CardSummary{Name: c.Name, Description: c.Description, Status: c.Status}
}

// Project is a named workspace. The chat address and port are transient:
// they are reassigned from the allocator on every server start and never
// persisted.
type Project struct {
	Name        string                  `json:"name"`
	Members     []string                `json:"members"`
	CreatedAt   time.Time               `json:"createdAt"`
	StatusLists map[CardStatus][]string `json:"statusLists"`

	ChatAddress string `json:"-"`
	ChatPort    int    `json:"-"`
}

// NewProject creates a project with creator as its sole member and four
// empty status lists.
func NewProject(name, creator string, now time.Time) *Project {
	lists := make(map[CardStatus][]string, len(CardStatuses))
	for _, status := range CardStatuses {
		lists[status] = []string{}
	}
	return &Project{
		Name:        name,
		Members:     []string{creator},
		CreatedAt:   now,
		StatusLists: lists,
	}
}

// Clone returns a deep copy of the project. Callers receiving projects from
// the store get clones, so reading them never races with store mutations.
func (p *Project) Clone() *Project {
	lists := make(map[CardStatus][]string, len(p.StatusLists))
	for status, list := range p.StatusLists {
		lists[status] = append([]string(nil), list...)
	}
	return &Project{
		Name:        p.Name,
		Members:     append([]string(nil), p.Members...),
		CreatedAt:   p.CreatedAt,
		StatusLists: lists,
		ChatAddress: p.ChatAddress,
		ChatPort:    p.ChatPort,
	}
}

// HasMember reports whether username is a member of the project.
func (p *Project) HasMember(username string) bool {
	for _, m := range p.Members {
		if m == username {
			return true
		}
	}
	return false
}

// Cancelable reports whether every card of the project is DONE, which is the
// only state in which the project may be destroyed.
func (p *Project) Cancelable() bool {
	for _, status := range CardStatuses {
		if status == StatusDone {
			continue
		}
		if len(p.StatusLists[status]) > 0 {
			return false
		}
	}
	return true
}

// RemoveFromList drops name from the status list; it reports whether the
// name was present.
func (p *Project) RemoveFromList(status CardStatus, name string) bool {
	list := p.StatusLists[status]
	for i, n := range list {
		if n == name {
			p.StatusLists[status] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}
