package core

// Mailbox is the ordered message store of a Process. It is unbounded and
// delivery never blocks. Access is serialized by the owning System.
type Mailbox struct {
	messages []any
}

// NewMailbox creates an empty Mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Deliver appends msg to the tail of the mailbox and returns it.
func (m *Mailbox) Deliver(msg any) any {
	m.messages = append(m.messages, msg)
	return msg
}

// Snapshot returns the current contents in delivery order.
func (m *Mailbox) Snapshot() []any {
	out := make([]any, len(m.messages))
	copy(out, m.messages)
	return out
}

// RemoveAt deletes the message at scan position i.
func (m *Mailbox) RemoveAt(i int) {
	if i < 0 || i >= len(m.messages) {
		return
	}
	copy(m.messages[i:], m.messages[i+1:])
	m.messages[len(m.messages)-1] = nil
	m.messages = m.messages[:len(m.messages)-1]
}

// IsEmpty reports whether the mailbox holds no messages.
func (m *Mailbox) IsEmpty() bool {
	return len(m.messages) == 0
}

// Len returns the number of queued messages.
func (m *Mailbox) Len() int {
	return len(m.messages)
}

// scan removes and returns the transformed value of the first message
// accepted by match. Errors other than ErrNoMatch abort the scan, and a
// panicking matcher is reported as a *PanicError.
func (m *Mailbox) scan(match Matcher) (value any, found bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, found, err = nil, false, newPanicError(r)
		}
	}()

	for i, msg := range m.messages {
		v, err := match(msg)
		if err != nil {
			if isNoMatch(err) {
				continue
			}
			return nil, false, err
		}
		m.RemoveAt(i)
		return v, true, nil
	}
	return nil, false, nil
}
