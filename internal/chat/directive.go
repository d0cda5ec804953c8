package chat

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// The closing tag is optional and the model sometimes misspells it.
var directivePattern = regexp.MustCompile(`(?is)<<GENERATE>>(.*?)(?:<</GENERATE>>|<</GENERATOR>>|$)`)

var detailedPromptLabel = regexp.MustCompile(`(?i)^\[Detailed Prompt\][\s:-]*`)

const quoteChars = `"'“”`

var intentKeywords = []string{
	"generate", "create", "make", "draw", "picture", "image", "photo", "portrait",
	"show", "change", "add", "remove", "variant", "version", "look like",
	"lag", "bilde", "vis",
}

var greetings = map[string]bool{"hi": true, "hello": true, "hey": true}

const intentLengthThreshold = 30

// fold lower-cases s. Casers keep state, so each call gets its own.
func fold(s string) string { return cases.Lower(language.Und).String(s) }

// Directive is a generation block found in a model reply.
type Directive struct {
	// Prompt is the cleaned prompt text.
	Prompt string
	// Text is the reply with the block removed.
	Text string
}

// ParseDirective finds the first generation block in reply.
func ParseDirective(reply string) (Directive, bool) {
	loc := directivePattern.FindStringSubmatchIndex(reply)
	if loc == nil {
		return Directive{Text: strings.TrimSpace(reply)}, false
	}
	return Directive{
		Prompt: CleanPrompt(reply[loc[2]:loc[3]]),
		Text:   strings.TrimSpace(reply[:loc[0]] + reply[loc[1]:]),
	}, true
}

// CleanPrompt drops a leading "[Detailed Prompt]" label and one pair of
// surrounding quotes.
func CleanPrompt(p string) string {
	p = strings.TrimSpace(p)
	p = detailedPromptLabel.ReplaceAllString(p, "")
	if r, size := utf8.DecodeRuneInString(p); size > 0 && strings.ContainsRune(quoteChars, r) {
		p = p[size:]
	}
	if r, size := utf8.DecodeLastRuneInString(p); size > 0 && strings.ContainsRune(quoteChars, r) {
		p = p[:len(p)-size]
	}
	return strings.TrimSpace(p)
}

// ValidPrompt rejects prompts too short to render and bare greetings.
func ValidPrompt(p string) bool {
	if utf8.RuneCountInString(p) <= 5 {
		return false
	}
	return !greetings[fold(p)]
}

// HasIntent reports whether the user's message asks for a picture.
func HasIntent(input string) bool {
	folded := fold(input)
	for _, kw := range intentKeywords {
		if strings.Contains(folded, kw) {
			return true
		}
	}
	return utf8.RuneCountInString(input) > intentLengthThreshold
}

// HistoryContent rewrites the first generation block of a past message so the
// model sees what it asked for without re-emitting the directive.
func HistoryContent(content string) string {
	loc := directivePattern.FindStringSubmatchIndex(content)
	if loc == nil {
		return content
	}
	return content[:loc[0]] + " [Previous Prompt: " + content[loc[2]:loc[3]] + "] " + content[loc[1]:]
}
