package conversation

import (
	"regexp"
	"strings"
)

var markdownLinkRE = regexp.MustCompile(`\[([^\[\]]*)\]\(([^()]*)\)`)

// CleanReply rewrites markdown links into plain text that reads well on chat
// apps: "[https://x.com](https://x.com)" becomes "https://x.com" and
// "[Click here](https://x.com)" becomes "Click here (https://x.com)".
//
// Passes repeat until no link remains so nested brackets also settle, which
// keeps CleanReply(CleanReply(t)) == CleanReply(t).
func CleanReply(text string) string {
	for {
		next := markdownLinkRE.ReplaceAllStringFunc(text, rewriteLink)
		if next == text {
			return next
		}
		text = next
	}
}

func rewriteLink(match string) string {
	parts := markdownLinkRE.FindStringSubmatch(match)
	if len(parts) != 3 {
		return match
	}
	visible, url := parts[1], parts[2]
	if strings.TrimSpace(visible) == "" || visible == url {
		return url
	}
	return visible + " (" + url + ")"
}
