// Package protocol defines the WORTH client-server wire protocol: the command
// set, status codes, request/response envelopes, the chat datagram format,
// and the length-prefixed framing codec.
package protocol

import "regexp"

// SystemName is the author of server-generated chat messages.
const SystemName = "System"

// TerminationMessage is the reserved chat message that signals to listeners
// that the project chat channel has been torn down.
const TerminationMessage = "project canceled"

// MinPasswordLen is the minimum accepted password length at registration.
const MinPasswordLen = 8

// Commands accepted over the TCP channel.
const (
	CmdLogin         = "login"
	CmdLogout        = "logout"
	CmdListProjects  = "list_projects"
	CmdCreateProject = "create_project"
	CmdAddMember     = "add_member"
	CmdShowMembers   = "show_members"
	CmdShowCards     = "show_cards"
	CmdShowCard      = "show_card"
	CmdAddCard       = "add_card"
	CmdMoveCard      = "move_card"
	CmdCardHistory   = "card_history"
	CmdReadChat      = "read_chat"
	CmdSendChat      = "send_chat"
	CmdCancelProject = "cancel_project"
	CmdExit          = "exit"
)

// Status codes carried in the response envelope.
const (
	StatusSuccess              = 0
	StatusUnknown              = -1
	StatusCommunicationError   = 100
	StatusUserNotExists        = 101
	StatusProjectNotExists     = 102
	StatusCardNotExists        = 103
	StatusUnauthorized         = 104
	StatusCharsNotAllowed      = 105
	StatusWrongPassword        = 106
	StatusAlreadyLogged        = 107
	StatusProjectAlreadyExists = 108
	StatusNoMoreAddresses      = 109
	StatusNoMorePorts          = 110
	StatusCardAlreadyExists    = 111
	StatusMemberAlreadyPresent = 112
	StatusMoveNotAllowed       = 113
	StatusProjectNotCancelable = 114
	StatusUserNotLogged        = 115
)

// namePattern is the charset rule shared by usernames, project names and
// card names.
var namePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// ValidName reports whether s satisfies the service charset rule.
func ValidName(s string) bool {
	return namePattern.MatchString(s)
}

// Request is the envelope a client sends over the TCP channel.
type Request struct {
	Command   string   `json:"command"`
	Arguments []string `json:"arguments"`
}

// Response is the envelope the server replies with. Bodies are JSON-encoded
// strings; ResponseBody2 is used only by login, carrying the caller's
// project chat-address map.
type Response struct {
	StatusCode    int     `json:"statusCode"`
	ResponseBody  *string `json:"responseBody"`
	ResponseBody2 *string `json:"responseBody2"`
}

// ChatMessage is the datagram sent to a project's multicast group.
type ChatMessage struct {
	Author     string `json:"author"`
	Message    string `json:"message"`
	Project    string `json:"project"`
	FromSystem bool   `json:"fromSystem"`
}
