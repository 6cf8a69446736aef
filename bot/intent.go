package bot

import "strings"

// MessageKind distinguishes regular text messages from everything else the
// transport can deliver. Only KindText is dispatched.
type MessageKind int

const (
	KindText MessageKind = iota
	KindWhisper
	KindNotice
	KindOther
)

// Message is a transport-neutral inbound chat event.
type Message struct {
	Sender string
	Body   string
	Kind   MessageKind
}

// intent is the closed set of commands the bot understands. Classification is
// literal string matching on the message body, not tokenized parsing.
type intent int

const (
	intentNone intent = iota
	intentPing
	intentLinkHelp
	intentLinkClaim
	intentUsername
	intentNowPlaying
)

func (i intent) String() string {
	switch i {
	case intentPing:
		return "ping"
	case intentLinkHelp:
		return "link_help"
	case intentLinkClaim:
		return "link_claim"
	case intentUsername:
		return "username"
	case intentNowPlaying:
		return "now_playing"
	default:
		return "none"
	}
}

const (
	pingPhrase      = "is fm bot online?"
	linkHelpPhrase  = "i want to connect my last.fm account to the bot"
	linkClaimPrefix = "my last.fm bot linking code is"
	usernamePhrase  = "what is my last.fm username?"
	nowPlayingToken = "SONG" // matched case-sensitively on the raw body
)

// classify maps a message body to an intent. All but nowPlayingToken match on
// the lower-cased body; unrecognized bodies map to intentNone.
func classify(body string) intent {
	lower := strings.ToLower(body)
	switch {
	case lower == pingPhrase:
		return intentPing
	case lower == linkHelpPhrase:
		return intentLinkHelp
	case strings.HasPrefix(lower, linkClaimPrefix):
		return intentLinkClaim
	case lower == usernamePhrase:
		return intentUsername
	case body == nowPlayingToken:
		return intentNowPlaying
	}
	return intentNone
}

// claimCode extracts the code from a claim message: the last
// whitespace-delimited token.
func claimCode(body string) string {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
