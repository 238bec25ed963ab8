package model

import (
	"github.com/hupe1980/agentstep/cache"
	"github.com/hupe1980/agentstep/core"
)

// SessionCache holds the accumulated message history of remote sessions
// keyed by chat id.
type SessionCache = cache.Cache[[]core.Message]

// NewSessionCache creates an empty session history cache.
func NewSessionCache() *SessionCache {
	return cache.New[[]core.Message]()
}

// SessionMessages returns the messages to send for chat. With session
// caching requested the cached history is merged with the chat's messages.
func SessionMessages(sessions *SessionCache, chat *core.Chat, opts SendOptions) []core.Message {
	if !opts.CreateSession || sessions == nil {
		return chat.Messages
	}
	cached, _ := sessions.Get(chat.ID)
	return MergeHistory(cached, chat.Messages)
}

// RememberSession stores sent plus reply as the chat's session history when
// session caching was requested. A SessionContent in opts replaces the
// content of the newest sent message, so a question sent with folded
// context merges against the chat's original text next time.
func RememberSession(sessions *SessionCache, chat *core.Chat, opts SendOptions, sent []core.Message, reply core.Message) {
	if !opts.CreateSession || sessions == nil {
		return
	}
	history := make([]core.Message, 0, len(sent)+1)
	history = append(history, sent...)
	if opts.SessionContent != "" && len(history) > 0 {
		history[len(history)-1].Content = opts.SessionContent
	}
	history = append(history, reply)
	sessions.Put(chat.ID, history)
}
