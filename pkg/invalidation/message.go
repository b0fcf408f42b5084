package invalidation

import (
	"encoding/json"
	"time"
)

// Message announces that the listed key prefixes were invalidated by the
// process identified by Origin.
type Message struct {
	Origin    string    `json:"origin"`
	Keys      []string  `json:"keys"`
	Timestamp time.Time `json:"timestamp"`
}

func NewMessage(origin string, keys []string) *Message {
	return &Message{
		Origin:    origin,
		Keys:      keys,
		Timestamp: time.Now(),
	}
}

func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func MessageFromJSON(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
