package session

import (
	"github.com/gq3171/piagent/internal/msg"
)

// BuildContext converts entries into the message list for an LLM turn.
// Message entries contribute directly. Compaction and branch-summary entries
// render as user text so the model sees the summarized history. Metadata
// entries (model/thinking changes, labels) and unknown types are skipped.
func BuildContext(entries []Entry) []msg.Message {
	var messages []msg.Message
	for _, entry := range entries {
		switch entry.Type {
		case EntryMessage:
			if len(entry.Message) == 0 {
				continue
			}
			m, err := msg.UnmarshalMessage(entry.Message)
			if err != nil {
				continue
			}
			messages = append(messages, m)
		case EntryCompaction, EntryBranchSummary:
			if entry.Summary == "" {
				continue
			}
			messages = append(messages, &msg.UserMessage{
				Content: msg.UserContent{Text: "[Previous conversation summary]\n\n" + entry.Summary},
				Time:    msg.NowMillis(),
			})
		}
	}
	return messages
}

// MessageEntry wraps a message as a session entry parented to parentID.
func MessageEntry(m msg.Message, parentID string) (Entry, error) {
	raw, err := msg.MarshalMessage(m)
	if err != nil {
		return Entry{}, err
	}
	entry := NewEntry(EntryMessage, parentID)
	entry.Message = raw
	return entry, nil
}

// CompactionEntry records a compaction summary.
func CompactionEntry(summary string, tokensBefore int64, parentID string) Entry {
	entry := NewEntry(EntryCompaction, parentID)
	entry.Summary = summary
	entry.TokensBefore = tokensBefore
	return entry
}

// ModelChangeEntry records a model switch.
func ModelChangeEntry(fromModel, toModel, provider, parentID string) Entry {
	entry := NewEntry(EntryModelChange, parentID)
	entry.FromModel = fromModel
	entry.ToModel = toModel
	entry.Provider = provider
	return entry
}

// ThinkingLevelChangeEntry records a thinking-level switch.
func ThinkingLevelChangeEntry(level msg.AgentThinkingLevel, parentID string) Entry {
	entry := NewEntry(EntryThinkingLevelChange, parentID)
	entry.ThinkingLevel = string(level)
	return entry
}
