package chatkit

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chatkit/message"
)

// SaveData represents the serializable state of a Session: every
// conversation log plus the owning user. Windows and pending delivery
// chains are derived or transient state and are not saved.
type SaveData struct {
	SelfID        string                        `json:"selfId"`
	Conversations map[string][]*message.Message `json:"conversations"`
	SavedAt       int64                         `json:"savedAt"`
}

// Serialize converts the session's conversation state to a byte slice
// using JSON for simplicity.
func (s *Session) Serialize() ([]byte, error) {
	save := SaveData{
		SelfID:        s.opts.SelfID,
		Conversations: make(map[string][]*message.Message),
		SavedAt:       s.timeProvider.Now().Unix(),
	}
	for _, convID := range s.store.Conversations() {
		save.Conversations[convID] = s.store.All(convID)
	}

	data, err := json.Marshal(&save)
	if err != nil {
		return nil, fmt.Errorf("serializing session: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":      "Serialize",
		"conversations": len(save.Conversations),
		"size":          len(data),
	}).Debug("Session state serialized")

	return data, nil
}

// LoadSaveData deserializes a byte slice into SaveData.
func LoadSaveData(data []byte) (*SaveData, error) {
	var save SaveData
	if err := json.Unmarshal(data, &save); err != nil {
		return nil, fmt.Errorf("parsing savedata: %w", err)
	}
	return &save, nil
}

// Restore replaces the session's conversation state with previously
// serialized state. Self messages still in the outbound stage when the
// snapshot was taken are marked failed; their timers are gone and the
// user can retry. Sent messages left the sender and keep their status.
// Open windows are reset.
func (s *Session) Restore(data []byte) error {
	save, err := LoadSaveData(data)
	if err != nil {
		return err
	}

	var maxSeq uint64
	for convID, msgs := range save.Conversations {
		for _, m := range msgs {
			if m.Sender == s.opts.SelfID && m.Status == message.StatusSending {
				m.Status = message.StatusFailed
			}
			if m.Seq > maxSeq {
				maxSeq = m.Seq
			}
		}
		s.store.Restore(convID, msgs)
		s.dir.Resync(convID)
		s.ResetWindow(convID)
		for _, m := range msgs {
			s.persist(m)
		}
	}
	s.ids.Advance(maxSeq)
	s.emitDirectory()

	logrus.WithFields(logrus.Fields{
		"function":      "Restore",
		"conversations": len(save.Conversations),
	}).Info("Session state restored from savedata")

	return nil
}
