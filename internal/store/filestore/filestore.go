// Package filestore implements store.Store on top of a directory of JSON
// files: one file per user, one directory per project holding the project
// config and one file per card. Every mutation overwrites the affected files
// wholesale before it is acknowledged; a failed write rolls the in-memory
// state back.
package filestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/worthlabs/worth/internal/allocator"
	"github.com/worthlabs/worth/internal/auth"
	"github.com/worthlabs/worth/internal/models"
	"github.com/worthlabs/worth/internal/store"
)

const (
	usersDirName    = "users"
	projectsDirName = "projects"
	projectConfig   = "info.json"
	cardFilePrefix  = "card_"
)

// project couples the persisted record with the in-memory card set.
type project struct {
	*models.Project
	cards map[string]*models.Card
}

// FileStore is the file-backed implementation of store.Store. One mutex
// serializes all mutations; project/card traffic is low-frequency enough that
// coarse locking keeps the invariants easy to reason about. User presence is
// kept in a separate RWMutex-guarded map so status reads never contend with
// persistence writes.
type FileStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	projects map[string]*project

	statusMu sync.RWMutex
	status   map[string]models.UserStatus

	dir   string
	alloc *allocator.Allocator
	log   *zap.SugaredLogger
}

// New opens (or initializes) the data directory, loads every persisted user
// and project, re-derives each project's status lists from its cards, and
// assigns every project a fresh chat address and port from alloc.
func New(dir string, alloc *allocator.Allocator, log *zap.SugaredLogger) (*FileStore, error) {
	s := &FileStore{
		users:    make(map[string]*models.User),
		projects: make(map[string]*project),
		status:   make(map[string]models.UserStatus),
		dir:      dir,
		alloc:    alloc,
		log:      log,
	}
	for _, d := range []string{s.usersDir(), s.projectsDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("filestore: create %s: %w", d, err)
		}
	}
	if err := s.loadUsers(); err != nil {
		return nil, err
	}
	if err := s.loadProjects(); err != nil {
		return nil, err
	}
	log.Infow("store initialized", "dir", dir, "users", len(s.users), "projects", len(s.projects))
	return s, nil
}

func (s *FileStore) usersDir() string    { return filepath.Join(s.dir, usersDirName) }
func (s *FileStore) projectsDir() string { return filepath.Join(s.dir, projectsDirName) }
func (s *FileStore) projectDir(name string) string {
	return filepath.Join(s.projectsDir(), name)
}
func (s *FileStore) userPath(name string) string {
	return filepath.Join(s.usersDir(), name+".json")
}
func (s *FileStore) cardPath(projectName, cardName string) string {
	return filepath.Join(s.projectDir(projectName), cardFilePrefix+cardName+".json")
}

func (s *FileStore) loadUsers() error {
	entries, err := os.ReadDir(s.usersDir())
	if err != nil {
		return fmt.Errorf("filestore: read users dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var user models.User
		if err := readJSON(filepath.Join(s.usersDir(), entry.Name()), &user); err != nil {
			return err
		}
		s.users[user.Username] = &user
		s.status[user.Username] = models.Offline
	}
	return nil
}

func (s *FileStore) loadProjects() error {
	entries, err := os.ReadDir(s.projectsDir())
	if err != nil {
		return fmt.Errorf("filestore: read projects dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		proj, err := s.loadProject(entry.Name())
		if err != nil {
			return err
		}
		s.projects[proj.Name] = proj
	}
	return nil
}

func (s *FileStore) loadProject(name string) (*project, error) {
	dir := s.projectDir(name)
	var meta models.Project
	if err := readJSON(filepath.Join(dir, projectConfig), &meta); err != nil {
		return nil, err
	}

	cards := make(map[string]*models.Card)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("filestore: read project dir %s: %w", name, err)
	}
	for _, entry := range entries {
		fname := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(fname, cardFilePrefix) || !strings.HasSuffix(fname, ".json") {
			continue
		}
		var card models.Card
		if err := readJSON(filepath.Join(dir, fname), &card); err != nil {
			return nil, err
		}
		cards[card.Name] = &card
	}

	rebuildStatusLists(&meta, cards)

	// Chat channels do not survive a restart; every project gets a fresh
	// address and port.
	addr, err := s.alloc.AcquireAddress()
	if err != nil {
		return nil, err
	}
	port, err := s.alloc.AcquirePort()
	if err != nil {
		s.alloc.ReleaseAddress(addr)
		return nil, err
	}
	meta.ChatAddress = addr
	meta.ChatPort = port

	return &project{Project: &meta, cards: cards}, nil
}

// rebuildStatusLists re-derives the four lists from the loaded cards. The
// persisted list order is kept for cards whose status still matches; any card
// missing from its list is appended in name order.
func rebuildStatusLists(meta *models.Project, cards map[string]*models.Card) {
	placed := make(map[string]bool, len(cards))
	lists := make(map[models.CardStatus][]string, len(models.CardStatuses))
	for _, status := range models.CardStatuses {
		lists[status] = []string{}
		for _, name := range meta.StatusLists[status] {
			if card, ok := cards[name]; ok && card.Status == status && !placed[name] {
				lists[status] = append(lists[status], name)
				placed[name] = true
			}
		}
	}
	names := make([]string, 0, len(cards))
	for name := range cards {
		if !placed[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		status := cards[name].Status
		lists[status] = append(lists[status], name)
	}
	meta.StatusLists = lists
}

// RegisterUser inserts the user atomically and persists it before reporting
// success. A failed write rolls the insert back.
func (s *FileStore) RegisterUser(username, passwordHash, salt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return store.ErrUsernameTaken
	}
	user := &models.User{Username: username, PasswordHash: passwordHash, Salt: salt}
	s.users[username] = user
	if err := writeJSON(s.userPath(username), user); err != nil {
		delete(s.users, username)
		return fmt.Errorf("filestore: persist user %s: %w", username, err)
	}
	s.statusMu.Lock()
	s.status[username] = models.Offline
	s.statusMu.Unlock()
	return nil
}

// Login verifies the password and flips the user online. The status check
// and flip are atomic, so a concurrent second login observes AlreadyLoggedIn.
func (s *FileStore) Login(username, password string) error {
	s.mu.Lock()
	user, ok := s.users[username]
	s.mu.Unlock()
	if !ok {
		return store.ErrUserNotExist
	}
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if s.status[username] == models.Online {
		return store.ErrAlreadyLoggedIn
	}
	if !auth.VerifyPassword(password, user.Salt, user.PasswordHash) {
		return store.ErrWrongPassword
	}
	s.status[username] = models.Online
	return nil
}

// Logout flips the user offline. Safe to call repeatedly from disconnect
// handling.
func (s *FileStore) Logout(username string) error {
	s.mu.Lock()
	_, ok := s.users[username]
	s.mu.Unlock()
	if !ok {
		return store.ErrUserNotExist
	}
	s.statusMu.Lock()
	s.status[username] = models.Offline
	s.statusMu.Unlock()
	return nil
}

// UserStatuses returns a point-in-time copy of the presence map.
func (s *FileStore) UserStatuses() map[string]models.UserStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	out := make(map[string]models.UserStatus, len(s.status))
	for name, status := range s.status {
		out[name] = status
	}
	return out
}

// ListProjects returns the projects username is a member of, sorted by name.
// The returned projects are deep copies: callers marshal them outside the
// store lock while other sessions keep mutating members and status lists.
func (s *FileStore) ListProjects(username string) ([]*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; !ok {
		return nil, store.ErrUserNotExist
	}
	var out []*models.Project
	for _, proj := range s.projects {
		if proj.HasMember(username) {
			out = append(out, proj.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateProject allocates a chat channel, creates the project with creator as
// sole member and persists it. Allocator exhaustion propagates to the caller;
// a failed write releases the channel again.
func (s *FileStore) CreateProject(name, creator string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[name]; exists {
		return nil, store.ErrProjectExists
	}
	addr, err := s.alloc.AcquireAddress()
	if err != nil {
		return nil, err
	}
	port, err := s.alloc.AcquirePort()
	if err != nil {
		s.alloc.ReleaseAddress(addr)
		return nil, err
	}
	meta := models.NewProject(name, creator, time.Now())
	meta.ChatAddress = addr
	meta.ChatPort = port
	if err := s.persistProject(meta); err != nil {
		s.alloc.ReleaseAddress(addr)
		s.alloc.ReleasePort(port)
		return nil, err
	}
	s.projects[name] = &project{Project: meta, cards: make(map[string]*models.Card)}
	return meta.Clone(), nil
}

// AddMember appends username to the member list and persists the project.
func (s *FileStore) AddMember(projectName, username, requester string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	proj, err := s.memberProject(projectName, requester)
	if err != nil {
		return err
	}
	if _, ok := s.users[username]; !ok {
		return store.ErrUserNotExist
	}
	if proj.HasMember(username) {
		return store.ErrUserAlreadyMember
	}
	proj.Members = append(proj.Members, username)
	if err := s.persistProject(proj.Project); err != nil {
		proj.Members = proj.Members[:len(proj.Members)-1]
		return err
	}
	return nil
}

// ShowMembers returns the member list of the project.
func (s *FileStore) ShowMembers(projectName, requester string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proj, err := s.memberProject(projectName, requester)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), proj.Members...), nil
}

// AddCard creates a card in TODO and persists both the card and the project.
func (s *FileStore) AddCard(projectName, cardName, description, requester string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	proj, err := s.memberProject(projectName, requester)
	if err != nil {
		return err
	}
	if _, exists := proj.cards[cardName]; exists {
		return store.ErrCardExists
	}
	card := models.NewCard(cardName, description)
	proj.cards[cardName] = card
	proj.StatusLists[models.StatusTodo] = append(proj.StatusLists[models.StatusTodo], cardName)
	if err := s.persistCard(projectName, card); err == nil {
		err = s.persistProject(proj.Project)
	} else {
		err = fmt.Errorf("filestore: persist card %s: %w", cardName, err)
	}
	if err != nil {
		delete(proj.cards, cardName)
		proj.RemoveFromList(models.StatusTodo, cardName)
		return err
	}
	return nil
}

// MoveCard applies a validated status transition, appends the movement record
// and persists both files. The transition must be legal and the card must
// actually sit in the from list.
func (s *FileStore) MoveCard(projectName, cardName string, from, to models.CardStatus, requester string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	proj, err := s.memberProject(projectName, requester)
	if err != nil {
		return err
	}
	card, ok := proj.cards[cardName]
	if !ok {
		return store.ErrCardNotExist
	}
	if !from.CanMoveTo(to) {
		return store.ErrMoveNotAllowed
	}
	if !containsName(proj.StatusLists[from], cardName) {
		return store.ErrMoveNotAllowed
	}

	prevFrom := append([]string(nil), proj.StatusLists[from]...)
	prevTo := append([]string(nil), proj.StatusLists[to]...)
	prevStatus := card.Status
	prevMovements := len(card.Movements)

	proj.RemoveFromList(from, cardName)
	proj.StatusLists[to] = append(proj.StatusLists[to], cardName)
	card.Move(to, time.Now())

	if err := s.persistCard(projectName, card); err == nil {
		err = s.persistProject(proj.Project)
	}
	if err != nil {
		proj.StatusLists[from] = prevFrom
		proj.StatusLists[to] = prevTo
		card.Status = prevStatus
		card.Movements = card.Movements[:prevMovements]
		return fmt.Errorf("filestore: persist move of %s: %w", cardName, err)
	}
	return nil
}

// ShowCards returns a copy of the project's status lists.
func (s *FileStore) ShowCards(projectName, requester string) (map[models.CardStatus][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proj, err := s.memberProject(projectName, requester)
	if err != nil {
		return nil, err
	}
	out := make(map[models.CardStatus][]string, len(proj.StatusLists))
	for status, list := range proj.StatusLists {
		out[status] = append([]string(nil), list...)
	}
	return out, nil
}

// ShowCard returns the redacted card projection (no movement history).
func (s *FileStore) ShowCard(projectName, cardName, requester string) (models.CardSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proj, err := s.memberProject(projectName, requester)
	if err != nil {
		return models.CardSummary{}, err
	}
	card, ok := proj.cards[cardName]
	if !ok {
		return models.CardSummary{}, store.ErrCardNotExist
	}
	return card.Summary(), nil
}

// CardHistory returns the card's movement records.
func (s *FileStore) CardHistory(projectName, cardName, requester string) ([]models.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proj, err := s.memberProject(projectName, requester)
	if err != nil {
		return nil, err
	}
	card, ok := proj.cards[cardName]
	if !ok {
		return nil, store.ErrCardNotExist
	}
	return append([]models.Movement(nil), card.Movements...), nil
}

// CancelProject destroys the project once every card is DONE: its files are
// removed, the chat channel is returned to the allocator and the in-memory
// entry is dropped.
func (s *FileStore) CancelProject(projectName, requester string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	proj, err := s.memberProject(projectName, requester)
	if err != nil {
		return err
	}
	if !proj.Cancelable() {
		return store.ErrProjectNotCancelable
	}
	if err := os.RemoveAll(s.projectDir(projectName)); err != nil {
		return fmt.Errorf("filestore: remove project %s: %w", projectName, err)
	}
	s.alloc.ReleaseAddress(proj.ChatAddress)
	s.alloc.ReleasePort(proj.ChatPort)
	delete(s.projects, projectName)
	return nil
}

// ProjectChat returns the multicast address and port of the project's chat
// channel.
func (s *FileStore) ProjectChat(projectName string) (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proj, ok := s.projects[projectName]
	if !ok {
		return "", 0, store.ErrProjectNotExist
	}
	return proj.ChatAddress, proj.ChatPort, nil
}

// memberProject resolves a project and checks requester membership. Callers
// must hold s.mu.
func (s *FileStore) memberProject(projectName, requester string) (*project, error) {
	proj, ok := s.projects[projectName]
	if !ok {
		return nil, store.ErrProjectNotExist
	}
	if !proj.HasMember(requester) {
		return nil, store.ErrUnauthorized
	}
	return proj, nil
}

func (s *FileStore) persistProject(meta *models.Project) error {
	dir := s.projectDir(meta.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("filestore: create project dir %s: %w", meta.Name, err)
	}
	if err := writeJSON(filepath.Join(dir, projectConfig), meta); err != nil {
		return fmt.Errorf("filestore: persist project %s: %w", meta.Name, err)
	}
	return nil
}

func (s *FileStore) persistCard(projectName string, card *models.Card) error {
	return writeJSON(s.cardPath(projectName, card.Name), card)
}

func containsName(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("filestore: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("filestore: decode %s: %w", path, err)
	}
	return nil
}

// writeJSON overwrites path wholesale with an indented, human-inspectable
// document.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
