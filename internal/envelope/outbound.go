package envelope

import (
	"github.com/sugawarayuuta/sonnet"

	"github.com/luciancaetano/kollab"
)

type Init struct {
	Type  string `json:"type"`
	Color string `json:"color"`
}

// UserInfo describes one collaborator inside a users_list envelope.
type UserInfo struct {
	Username  string `json:"username"`
	Color     string `json:"color"`
	File      string `json:"file"`
	CursorPos int    `json:"cursor_pos"`
}

type UsersList struct {
	Type  string     `json:"type"`
	Users []UserInfo `json:"users"`
}

// Presence is the body of user_joined and user_left.
type Presence struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type CursorUpdate struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Position int    `json:"position"`
	Color    string `json:"color"`
	File     string `json:"file"`
}

type ContentUpdate struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	File     string `json:"file"`
	Content  string `json:"content"`
}

func NewInit(color string) Init {
	return Init{Type: kollab.TypeInit, Color: color}
}

func NewUsersList(users []UserInfo) UsersList {
	if users == nil {
		users = []UserInfo{}
	}
	return UsersList{Type: kollab.TypeUsersList, Users: users}
}

func NewUserJoined(username string) Presence {
	return Presence{Type: kollab.TypeUserJoined, Username: username}
}

func NewUserLeft(username string) Presence {
	return Presence{Type: kollab.TypeUserLeft, Username: username}
}

func NewCursorUpdate(username string, position int, color, file string) CursorUpdate {
	return CursorUpdate{Type: kollab.TypeCursorUpdate, Username: username, Position: position, Color: color, File: file}
}

// NewContentUpdate re-wraps a content_change in canonical field order.
func NewContentUpdate(c ContentChange) ContentUpdate {
	return ContentUpdate{Type: kollab.TypeContentUpdate, Username: c.Username, File: c.File, Content: c.Content}
}

// Marshal serializes a server envelope.
func Marshal(v any) ([]byte, error) {
	return sonnet.Marshal(v)
}
