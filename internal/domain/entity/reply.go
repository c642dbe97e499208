package entity

import (
	"regexp"
	"strconv"
	"strings"
)

const maxQuoteRunes = 120

var replyPrefixRe = regexp.MustCompile(`(?s)^> @(-?\d+) ([^\n]*)\n\n(.*)$`)

// QuoteReply prefixes body with a one-line quotation of ref. The quote is
// flattened to a single line and truncated.
func QuoteReply(ref ReplyRef, body string) string {
	quoted := strings.Join(strings.Fields(ref.Content), " ")
	if r := []rune(quoted); len(r) > maxQuoteRunes {
		quoted = string(r[:maxQuoteRunes-1]) + "…"
	}
	return "> @" + strconv.FormatInt(ref.SenderID, 10) + " " + quoted + "\n\n" + body
}

// ParseReply splits content produced by QuoteReply. Content without a quote
// prefix is returned unchanged with a nil ref.
func ParseReply(content string) (string, *ReplyRef) {
	m := replyPrefixRe.FindStringSubmatch(content)
	if m == nil {
		return content, nil
	}
	senderID, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return content, nil
	}
	return m[3], &ReplyRef{SenderID: senderID, Content: m[2]}
}
