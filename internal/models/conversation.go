package models

// ConversationSeparator joins the two participant ids of a conversation id.
const ConversationSeparator = "_"

// ConversationID returns the canonical id of the thread between a and b.
// The pair is ordered bytewise so ConversationID(a, b) == ConversationID(b, a).
// Equal ids produce a self-conversation id; it is not rejected.
// Identities are assumed not to contain the separator: ("a_b", "c") and
// ("a", "b_c") both map to "a_b_c".
func ConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ConversationSeparator + b
}
