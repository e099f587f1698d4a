package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ChallengeKind names the defense a page put up.
type ChallengeKind string

const (
	ChallengeNone         ChallengeKind = ""
	ChallengeCaptcha      ChallengeKind = "captcha"
	ChallengeAccessDenied ChallengeKind = "access_denied"
	ChallengeBotManager   ChallengeKind = "bot_manager"
	ChallengeJS           ChallengeKind = "js_challenge"
)

// Where a signature is looked for.
type matchScope int

const (
	inTitle matchScope = iota
	inText
	inMarkup
)

// Signature is a lowercase substring that identifies a challenge page.
type Signature struct {
	Kind    ChallengeKind
	Pattern string
	scope   matchScope
}

// Verdict is the result of inspecting one page.
type Verdict struct {
	Kind      ChallengeKind
	Signature string
}

// Clean reports whether no challenge was detected.
func (v Verdict) Clean() bool { return v.Kind == ChallengeNone }

func (v Verdict) String() string {
	if v.Clean() {
		return "clean"
	}
	return string(v.Kind) + " (" + v.Signature + ")"
}

// Titles are checked first, then visible body text, then raw markup. Markup
// patterns are limited to vendor hosts and ids that never appear on a
// regular results page.
var defaultSignatures = []Signature{
	{ChallengeBotManager, "shieldsquare", inTitle},
	{ChallengeJS, "just a moment", inTitle},
	{ChallengeJS, "attention required", inTitle},
	{ChallengeAccessDenied, "access denied", inTitle},
	{ChallengeCaptcha, "captcha", inTitle},
	{ChallengeCaptcha, "are you a robot", inTitle},

	{ChallengeBotManager, "are you for real", inText},
	{ChallengeCaptcha, "verify you are human", inText},
	{ChallengeCaptcha, "verifying you are human", inText},
	{ChallengeCaptcha, "אנא אשרו שאינכם רובוט", inText},
	{ChallengeCaptcha, "לא רובוט", inText},
	{ChallengeJS, "checking your browser", inText},
	{ChallengeAccessDenied, "you don't have permission to access", inText},
	{ChallengeAccessDenied, "access denied", inText},
	{ChallengeAccessDenied, "the requested url was rejected", inText},

	{ChallengeBotManager, "validate.perfdrive.com", inMarkup},
	{ChallengeBotManager, "perfdrive.com/captcha", inMarkup},
	{ChallengeBotManager, "captcha-delivery.com", inMarkup},
	{ChallengeJS, "cf-chl-", inMarkup},
	{ChallengeJS, "/cdn-cgi/challenge-platform/", inMarkup},
}

// Guard detects bot-challenge pages.
type Guard struct {
	signatures []Signature
}

// NewGuard returns a Guard using the built-in signature set.
func NewGuard() *Guard {
	return &Guard{signatures: defaultSignatures}
}

// Check inspects a rendered page. The first matching signature wins.
func (g *Guard) Check(title, dom string) Verdict {
	title = strings.ToLower(title)
	markup := strings.ToLower(dom)
	text := ""
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(dom)); err == nil {
		doc.Find("script, style, noscript").Remove()
		text = strings.ToLower(doc.Find("body").Text())
	}

	for _, scope := range []matchScope{inTitle, inText, inMarkup} {
		haystack := title
		switch scope {
		case inText:
			haystack = text
		case inMarkup:
			haystack = markup
		}
		for _, sig := range g.signatures {
			if sig.scope == scope && strings.Contains(haystack, sig.Pattern) {
				return Verdict{Kind: sig.Kind, Signature: sig.Pattern}
			}
		}
	}
	return Verdict{}
}
