package domain

// Topic names a stream of task events.
type Topic string

const (
	TopicTaskAdded   Topic = "TASK_ADDED"
	TopicTaskUpdated Topic = "TASK_UPDATED"
	TopicTaskDeleted Topic = "TASK_DELETED"
)

// Topics lists every topic a subscriber may ask for.
func Topics() []Topic {
	return []Topic{TopicTaskAdded, TopicTaskUpdated, TopicTaskDeleted}
}

// Valid reports whether t is one of the known topics.
func (t Topic) Valid() bool {
	switch t {
	case TopicTaskAdded, TopicTaskUpdated, TopicTaskDeleted:
		return true
	}
	return false
}

// Event is published after a task write has been acknowledged by the store.
// Task holds the stored entity, or the entity as it was before a delete.
type Event struct {
	Topic Topic `json:"topic"`
	Task  Task  `json:"task"`
}
