// Package store defines the authoritative data interface for users, projects
// and cards, together with the domain errors its operations report.
package store

import (
	"errors"

	"github.com/worthlabs/worth/internal/models"
)

// Domain errors. Each maps to exactly one protocol status code; callers match
// them with errors.Is.
var (
	ErrUsernameTaken        = errors.New("username not available")
	ErrUserNotExist         = errors.New("user does not exist")
	ErrAlreadyLoggedIn      = errors.New("user already logged in")
	ErrWrongPassword        = errors.New("wrong password")
	ErrProjectExists        = errors.New("project already exists")
	ErrProjectNotExist      = errors.New("project does not exist")
	ErrUnauthorized         = errors.New("requester is not a member of the project")
	ErrUserAlreadyMember    = errors.New("user is already a member")
	ErrCardExists           = errors.New("card already exists")
	ErrCardNotExist         = errors.New("card does not exist")
	ErrMoveNotAllowed       = errors.New("card movement not allowed")
	ErrProjectNotCancelable = errors.New("project is not cancelable")
)

// Store is the single owner of user/project/card state. Implementations must
// be safe for concurrent use from the connection handlers and the
// registration endpoint, and must persist every mutation before reporting
// success.
type Store interface {
	// User operations
	RegisterUser(username, passwordHash, salt string) error
	Login(username, password string) error
	Logout(username string) error
	UserStatuses() map[string]models.UserStatus

	// Project operations
	ListProjects(username string) ([]*models.Project, error)
	CreateProject(name, creator string) (*models.Project, error)
	AddMember(project, username, requester string) error
	ShowMembers(project, requester string) ([]string, error)
	CancelProject(project, requester string) error
	ProjectChat(project string) (addr string, port int, err error)

	// Card operations
	AddCard(project, card, description, requester string) error
	MoveCard(project, card string, from, to models.CardStatus, requester string) error
	ShowCards(project, requester string) (map[models.CardStatus][]string, error)
	ShowCard(project, card, requester string) (models.CardSummary, error)
	CardHistory(project, card, requester string) ([]models.Movement, error)
}
