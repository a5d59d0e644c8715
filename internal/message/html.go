package message

import (
	"html"
	"regexp"
	"strings"
)

var (
	reHead   = regexp.MustCompile(`(?is)<head\b[^>]*>.*?</head>`)
	reStyle  = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style>`)
	reScript = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	reImgAlt = regexp.MustCompile(`(?i)<img\b[^>]*\balt=["']([^"']*)["'][^>]*>`)
	reImg    = regexp.MustCompile(`(?i)<img\b[^>]*>`)
	reLink   = regexp.MustCompile(`(?is)<a\b[^>]*\bhref=["']([^"']*)["'][^>]*>(.*?)</a>`)
	reBlock  = regexp.MustCompile(`(?i)</(p|div|tr|table|h[1-6]|li|blockquote)>`)
	reBreak  = regexp.MustCompile(`(?i)<(br|hr)\b[^>]*/?>`)
	reTag    = regexp.MustCompile(`(?s)<[^>]*>`)
	reHSpace = regexp.MustCompile(`[^\S\n]+`)
	reBlank  = regexp.MustCompile(`\n{3,}`)
)

// HTMLToText renders an HTML body as readable plain text for the
// alternative part. It is lossy and regex based, not an HTML parser.
func HTMLToText(s string) string {
	s = reHead.ReplaceAllString(s, "")
	s = reStyle.ReplaceAllString(s, "")
	s = reScript.ReplaceAllString(s, "")

	s = reImgAlt.ReplaceAllString(s, "[$1]")
	s = reImg.ReplaceAllString(s, "")
	s = reLink.ReplaceAllString(s, "$2 ($1)")

	s = reBlock.ReplaceAllString(s, "\n")
	s = reBreak.ReplaceAllString(s, "\n")

	s = reTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)

	s = reHSpace.ReplaceAllString(s, " ")
	s = reBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
