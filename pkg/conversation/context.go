package conversation

// BuildContext assembles the messages sent to the engine for one call.
//
// With useHistory the whole snapshot is kept; without it only snapshot[0]
// (the system message) is kept. In both cases a user message holding input is
// appended. The snapshot is not modified and nothing is persisted.
func BuildContext(snapshot []Message, input string, useHistory bool) []Message {
	var head []Message
	switch {
	case useHistory:
		head = snapshot
	case len(snapshot) > 0:
		head = snapshot[:1]
	}

	ret := make([]Message, 0, len(head)+1)
	for _, m := range head {
		ret = append(ret, NewMessage(m.Role, m.Content))
	}
	return append(ret, NewUserMessage(input))
}
