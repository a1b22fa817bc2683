package chat

// Conversation is the ordered message log of one session.
//
// The first elements are always the seed messages it was built with; everything after
// them is appended turn by turn. Conversation is not safe for concurrent use, callers
// serialise access per session.
type Conversation struct {
	seed     []Message
	messages []Message
}

// NewConversation returns a conversation primed with a copy of seed.
func NewConversation(seed []Message) *Conversation {
	c := &Conversation{seed: append([]Message(nil), seed...)}
	c.Reset()
	return c
}

// Append adds a message at the end of the log.
func (c *Conversation) Append(msg Message) {
	c.messages = append(c.messages, msg)
}

// Messages returns a copy of the full log, seed included.
func (c *Conversation) Messages() []Message {
	copied := make([]Message, len(c.messages))
	copy(copied, c.messages)
	return copied
}

// Seed returns a copy of the seed subsequence.
func (c *Conversation) Seed() []Message {
	return append([]Message(nil), c.seed...)
}

// Len reports the number of messages, seed included.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Reset truncates the log back to exactly the seed messages.
func (c *Conversation) Reset() {
	c.messages = make([]Message, len(c.seed), len(c.seed)+16)
	copy(c.messages, c.seed)
}

// Truncate drops every message at index n and beyond. The seed block is never removed.
func (c *Conversation) Truncate(n int) {
	if n < len(c.seed) {
		n = len(c.seed)
	}
	if n >= len(c.messages) {
		return
	}
	c.messages = c.messages[:n]
}
