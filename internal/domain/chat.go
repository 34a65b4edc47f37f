package domain

import "time"

// StoredMessage is a single persisted chat message.
type StoredMessage struct {
	ChatID    string
	Role      Role
	Content   string
	CreatedAt time.Time
}

// ChatSession groups the messages of one conversation thread for a user.
type ChatSession struct {
	UserID       string
	ChatID       string
	Name         string
	CreatedAt    time.Time
	LastActivity time.Time
}

// VocabularyEntry is a word saved to a user's notebook.
type VocabularyEntry struct {
	UserID     string
	Word       string
	Definition string
	Examples   []string
	Notes      string
	CreatedAt  time.Time
}
