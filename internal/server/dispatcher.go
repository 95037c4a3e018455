package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"

	"go.uber.org/zap"

	"github.com/worthlabs/worth/internal/allocator"
	"github.com/worthlabs/worth/internal/hub"
	"github.com/worthlabs/worth/internal/models"
	"github.com/worthlabs/worth/internal/protocol"
	"github.com/worthlabs/worth/internal/store"
)

// Dispatcher maps a decoded command and its arguments to a store operation,
// given the session's bound identity, and translates results into response
// codes. Validation failures (bad arity, unknown enum, unknown command) are
// rejected before the store is touched.
type Dispatcher struct {
	store store.Store
	hub   *hub.Hub
	log   *zap.SugaredLogger
}

// NewDispatcher wires the dispatcher to its collaborators.
func NewDispatcher(st store.Store, h *hub.Hub, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{store: st, hub: h, log: log}
}

// Dispatch executes one request. The second return value is true when the
// connection must be closed without writing a response (the exit command).
func (d *Dispatcher) Dispatch(sess *Session, req protocol.Request) (protocol.Response, bool) {
	args := req.Arguments
	switch req.Command {
	case protocol.CmdLogin:
		return d.login(sess, args), false
	case protocol.CmdLogout:
		return d.logout(sess), false
	case protocol.CmdListProjects:
		return d.listProjects(sess), false
	case protocol.CmdCreateProject:
		return d.createProject(sess, args), false
	case protocol.CmdAddMember:
		return d.addMember(sess, args), false
	case protocol.CmdShowMembers:
		return d.showMembers(sess, args), false
	case protocol.CmdShowCards:
		return d.showCards(sess, args), false
	case protocol.CmdShowCard:
		return d.showCard(sess, args), false
	case protocol.CmdAddCard:
		return d.addCard(sess, args), false
	case protocol.CmdMoveCard:
		return d.moveCard(sess, args), false
	case protocol.CmdCardHistory:
		return d.cardHistory(sess, args), false
	case protocol.CmdReadChat:
		return d.readChat(sess, args), false
	case protocol.CmdSendChat:
		return d.sendChat(sess, args), false
	case protocol.CmdCancelProject:
		return d.cancelProject(sess, args), false
	case protocol.CmdExit:
		d.ImplicitLogout(sess)
		return protocol.Response{}, true
	default:
		return errorResponse(protocol.StatusCommunicationError), false
	}
}

// ImplicitLogout flips the session's user offline and drops its notification
// registration. Called on the exit command, end-of-stream, and protocol
// errors so presence state stays consistent.
func (d *Dispatcher) ImplicitLogout(sess *Session) {
	if !sess.Bound() {
		return
	}
	username := sess.Username
	sess.Username = ""
	if err := d.store.Logout(username); err != nil {
		d.log.Warnw("implicit logout failed", "session", sess.ID, "user", username, "err", err)
		return
	}
	d.hub.Unregister(username)
	d.hub.NotifyPresence(username, models.Offline)
}

func (d *Dispatcher) login(sess *Session, args []string) protocol.Response {
	if len(args) != 2 {
		return errorResponse(protocol.StatusCommunicationError)
	}
	username, password := args[0], args[1]

	if err := d.store.Login(username, password); err != nil {
		return errorResponse(statusFor(err))
	}

	// A rebinding login releases the previous identity only once the new
	// credentials have verified, so a failed attempt changes no state and no
	// user is left stranded online.
	d.ImplicitLogout(sess)

	statuses := d.store.UserStatuses()
	projects, err := d.store.ListProjects(username)
	if err != nil {
		return errorResponse(statusFor(err))
	}
	chats := make(map[string]string, len(projects))
	for _, p := range projects {
		chats[p.Name] = chatEndpoint(p.ChatAddress, p.ChatPort)
	}

	sess.Username = username
	d.hub.NotifyPresence(username, models.Online)

	return protocol.Response{
		StatusCode:    protocol.StatusSuccess,
		ResponseBody:  jsonBody(statuses),
		ResponseBody2: jsonBody(chats),
	}
}

func (d *Dispatcher) logout(sess *Session) protocol.Response {
	if !sess.Bound() {
		return errorResponse(protocol.StatusUserNotLogged)
	}
	username := sess.Username
	if err := d.store.Logout(username); err != nil {
		return errorResponse(statusFor(err))
	}
	sess.Username = ""
	d.hub.Unregister(username)
	d.hub.NotifyPresence(username, models.Offline)
	return okResponse(nil)
}

func (d *Dispatcher) listProjects(sess *Session) protocol.Response {
	if !sess.Bound() {
		return errorResponse(protocol.StatusUserNotLogged)
	}
	projects, err := d.store.ListProjects(sess.Username)
	if err != nil {
		return errorResponse(statusFor(err))
	}
	return okResponse(jsonBody(projects))
}

func (d *Dispatcher) createProject(sess *Session, args []string) protocol.Response {
	if len(args) != 1 {
		return errorResponse(protocol.StatusCommunicationError)
	}
	if !sess.Bound() {
		return errorResponse(protocol.StatusUserNotLogged)
	}
	name := args[0]
	if !protocol.ValidName(name) {
		return errorResponse(protocol.StatusCharsNotAllowed)
	}
	proj, err := d.store.CreateProject(name, sess.Username)
	if err != nil {
		return errorResponse(statusFor(err))
	}
	return okResponse(jsonBody(chatEndpoint(proj.ChatAddress, proj.ChatPort)))
}

func (d *Dispatcher) addMember(sess *Session, args []string) protocol.Response {
	if len(args) != 2 {
		return errorResponse(protocol.StatusCommunicationError)
	}
	if !sess.Bound() {
		return errorResponse(protocol.StatusUserNotLogged)
	}
	projectName, userToAdd := args[0], args[1]
	if err := d.store.AddMember(projectName, userToAdd, sess.Username); err != nil {
		return errorResponse(statusFor(err))
	}
	if addr, port, err := d.store.ProjectChat(projectName); err == nil {
		d.hub.NotifyProjectAdded(userToAdd, projectName, chatEndpoint(addr, port))
	}
	return okResponse(nil)
}

func (d *Dispatcher) showMembers(sess *Session, args []string) protocol.Response {
	if len(args) != 1 {
		return errorResponse(protocol.StatusCommunicationError)
	}
	if !sess.Bound() {
		return errorResponse(protocol.StatusUserNotLogged)
	}
	members, err := d.store.ShowMembers(args[0], sess.Username)
	if err != nil {
		return errorResponse(statusFor(err))
	}
	return okResponse(jsonBody(members))
}

func (d *Dispatcher) showCards(sess *Session, args []string) protocol.Response {
	if len(args) != 1 {
		return errorResponse(protocol.StatusCommunicationError)
	}
	if !sess.Bound() {
		return errorResponse(protocol.StatusUserNotLogged)
	}
	cards, err := d.store.ShowCards(args[0], sess.Username)
	if err != nil {
		return errorResponse(statusFor(err))
	}
	return okResponse(jsonBody(cards))
}

func (d *Dispatcher) showCard(sess *Session, args []string) protocol.Response {
	if len(args) != 2 {
		return errorResponse(protocol.StatusCommunicationError)
	}
	if !sess.Bound() {
		return errorResponse(protocol.StatusUserNotLogged)
	}
	card, err := d.store.ShowCard(args[0], args[1], sess.Username)
	if err != nil {
		return errorResponse(statusFor(err))
	}
	return okResponse(jsonBody(card))
}

func (d *Dispatcher) addCard(sess *Session, args []string) protocol.Response {
	if len(args) != 3 {
		return errorResponse(protocol.StatusCommunicationError)
	}
	if !sess.Bound() {
		return errorResponse(protocol.StatusUserNotLogged)
	}
	projectName, cardName, description := args[0], args[1], args[2]
	if !protocol.ValidName(cardName) {
		return errorResponse(protocol.StatusCharsNotAllowed)
	}
	if err := d.store.AddCard(projectName, cardName, description, sess.Username); err != nil {
		return errorResponse(statusFor(err))
	}
	return okResponse(nil)
}

func (d *Dispatcher) moveCard(sess *Session, args []string) protocol.Response {
	if len(args) != 4 {
		return errorResponse(protocol.StatusCommunicationError)
	}
	if !sess.Bound() {
		return errorResponse(protocol.StatusUserNotLogged)
	}
	projectName, cardName := args[0], args[1]
	from, okFrom := models.ParseCardStatus(args[2])
	to, okTo := models.ParseCardStatus(args[3])
	if !okFrom || !okTo {
		return errorResponse(protocol.StatusCommunicationError)
	}
	if err := d.store.MoveCard(projectName, cardName, from, to, sess.Username); err != nil {
		return errorResponse(statusFor(err))
	}
	d.systemBroadcast(projectName, fmt.Sprintf("%s moved card '%s' from %s to %s",
		sess.Username, cardName, from, to))
	return okResponse(nil)
}

func (d *Dispatcher) cardHistory(sess *Session, args []string) protocol.Response {
	if len(args) != 2 {
		return errorResponse(protocol.StatusCommunicationError)
	}
	if !sess.Bound() {
		return errorResponse(protocol.StatusUserNotLogged)
	}
	history, err := d.store.CardHistory(args[0], args[1], sess.Username)
	if err != nil {
		return errorResponse(statusFor(err))
	}
	return okResponse(jsonBody(history))
}

func (d *Dispatcher) readChat(sess *Session, args []string) protocol.Response {
	if len(args) != 1 {
		return errorResponse(protocol.StatusCommunicationError)
	}
	if !sess.Bound() {
		return errorResponse(protocol.StatusUserNotLogged)
	}
	projectName := args[0]
	if _, err := d.store.ShowMembers(projectName, sess.Username); err != nil {
		return errorResponse(statusFor(err))
	}
	addr, port, err := d.store.ProjectChat(projectName)
	if err != nil {
		return errorResponse(statusFor(err))
	}
	return okResponse(jsonBody(chatEndpoint(addr, port)))
}

func (d *Dispatcher) sendChat(sess *Session, args []string) protocol.Response {
	if len(args) != 2 {
		return errorResponse(protocol.StatusCommunicationError)
	}
	if !sess.Bound() {
		return errorResponse(protocol.StatusUserNotLogged)
	}
	projectName, message := args[0], args[1]
	if _, err := d.store.ShowMembers(projectName, sess.Username); err != nil {
		return errorResponse(statusFor(err))
	}
	addr, port, err := d.store.ProjectChat(projectName)
	if err != nil {
		return errorResponse(statusFor(err))
	}
	err = d.hub.BroadcastChat(addr, port, protocol.ChatMessage{
		Author:  sess.Username,
		Message: message,
		Project: projectName,
	})
	if err != nil {
		d.log.Warnw("chat broadcast failed", "project", projectName, "err", err)
		return errorResponse(protocol.StatusCommunicationError)
	}
	return okResponse(nil)
}

func (d *Dispatcher) cancelProject(sess *Session, args []string) protocol.Response {
	if len(args) != 1 {
		return errorResponse(protocol.StatusCommunicationError)
	}
	if !sess.Bound() {
		return errorResponse(protocol.StatusUserNotLogged)
	}
	projectName := args[0]
	members, err := d.store.ShowMembers(projectName, sess.Username)
	if err != nil {
		return errorResponse(statusFor(err))
	}
	addr, port, err := d.store.ProjectChat(projectName)
	if err != nil {
		return errorResponse(statusFor(err))
	}
	if err := d.store.CancelProject(projectName, sess.Username); err != nil {
		return errorResponse(statusFor(err))
	}
	// Tell listeners the channel is gone, then have the online members leave
	// the group. Both are best-effort.
	if err := d.hub.BroadcastChat(addr, port, protocol.ChatMessage{
		Author:     protocol.SystemName,
		Message:    protocol.TerminationMessage,
		Project:    projectName,
		FromSystem: true,
	}); err != nil {
		d.log.Warnw("termination broadcast failed", "project", projectName, "err", err)
	}
	d.hub.TerminateChat(projectName, members)
	return okResponse(nil)
}

// systemBroadcast pushes a system message to the project chat. Failures are
// non-fatal: the mutation already succeeded.
func (d *Dispatcher) systemBroadcast(projectName, message string) {
	addr, port, err := d.store.ProjectChat(projectName)
	if err != nil {
		return
	}
	err = d.hub.BroadcastChat(addr, port, protocol.ChatMessage{
		Author:     protocol.SystemName,
		Message:    message,
		Project:    projectName,
		FromSystem: true,
	})
	if err != nil {
		d.log.Warnw("system broadcast failed", "project", projectName, "err", err)
	}
}

// statusFor translates a store/allocator error into its protocol status code.
func statusFor(err error) int {
	switch {
	case err == nil:
		return protocol.StatusSuccess
	case errors.Is(err, store.ErrUserNotExist):
		return protocol.StatusUserNotExists
	case errors.Is(err, store.ErrWrongPassword):
		return protocol.StatusWrongPassword
	case errors.Is(err, store.ErrAlreadyLoggedIn):
		return protocol.StatusAlreadyLogged
	case errors.Is(err, store.ErrProjectNotExist):
		return protocol.StatusProjectNotExists
	case errors.Is(err, store.ErrUnauthorized):
		return protocol.StatusUnauthorized
	case errors.Is(err, store.ErrProjectExists):
		return protocol.StatusProjectAlreadyExists
	case errors.Is(err, allocator.ErrNoMoreAddresses):
		return protocol.StatusNoMoreAddresses
	case errors.Is(err, allocator.ErrNoMorePorts):
		return protocol.StatusNoMorePorts
	case errors.Is(err, store.ErrCardExists):
		return protocol.StatusCardAlreadyExists
	case errors.Is(err, store.ErrCardNotExist):
		return protocol.StatusCardNotExists
	case errors.Is(err, store.ErrUserAlreadyMember):
		return protocol.StatusMemberAlreadyPresent
	case errors.Is(err, store.ErrMoveNotAllowed):
		return protocol.StatusMoveNotAllowed
	case errors.Is(err, store.ErrProjectNotCancelable):
		return protocol.StatusProjectNotCancelable
	default:
		return protocol.StatusUnknown
	}
}

func chatEndpoint(addr string, port int) string {
	return net.JoinHostPort(addr, strconv.Itoa(port))
}

// jsonBody serializes v into the JSON-in-string form response bodies use.
func jsonBody(v any) *string {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}

func okResponse(body *string) protocol.Response {
	return protocol.Response{StatusCode: protocol.StatusSuccess, ResponseBody: body}
}

func errorResponse(code int) protocol.Response {
	return protocol.Response{StatusCode: code}
}
