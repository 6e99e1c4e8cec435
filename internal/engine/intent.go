package engine

import (
	"regexp"
	"strings"
)

// IntentClassifier decides what the caller meant by an utterance. The
// default is keyword matching; implementations backed by a model can be
// swapped in without touching the call state machine.
type IntentClassifier interface {
	// IsConsent reports whether the utterance is an explicit affirmative
	// answer to the recording disclosure.
	IsConsent(message string) bool
	// WantsTransfer reports whether the caller is asking for a human.
	WantsTransfer(message string) bool
	// IsGoodbye reports whether the caller signalled the call is over.
	IsGoodbye(message string) bool
}

// KeywordClassifier is the default IntentClassifier. It matches
// utterances against fixed keyword patterns.
type KeywordClassifier struct{}

// consentPatterns matches an affirmative answer to the recording
// disclosure. Anything else, including silence, counts as a refusal.
var consentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\byes\b`),
	regexp.MustCompile(`(?i)\byeah\b`),
	regexp.MustCompile(`(?i)\byep\b`),
	regexp.MustCompile(`(?i)\bsure\b`),
	regexp.MustCompile(`(?i)\bokay\b`),
	regexp.MustCompile(`(?i)\bok\b`),
	regexp.MustCompile(`(?i)\bagree\b`),
	regexp.MustCompile(`(?i)\bgo ahead\b`),
	regexp.MustCompile(`(?i)\bthat'?s fine\b`),
	regexp.MustCompile(`(?i)\bfine with me\b`),
}

func (KeywordClassifier) IsConsent(message string) bool {
	return matchesAny(message, consentPatterns)
}

// transferPatterns matches caller requests to reach a human.
var transferPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bspeak\s*(to|with)\s*(a\s*)?(human|person|someone|agent|representative)\b`),
	regexp.MustCompile(`(?i)\btalk\s*(to|with)\s*(a\s*)?(human|person|someone|agent|representative)\b`),
	regexp.MustCompile(`(?i)\breal\s*(person|human)\b`),
	regexp.MustCompile(`(?i)\btransfer\s*me\b`),
	regexp.MustCompile(`(?i)\b(a|an)\s*(agent|operator|representative)\b`),
	regexp.MustCompile(`(?i)\bcall\s*me\s*back\b`),
	regexp.MustCompile(`(?i)\bhuman\s*being\b`),
}

func (KeywordClassifier) WantsTransfer(message string) bool {
	return matchesAny(message, transferPatterns)
}

// goodbyePatterns matches the caller wrapping up the conversation.
var goodbyePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bgood\s*bye\b`),
	regexp.MustCompile(`(?i)\bbye\b`),
	regexp.MustCompile(`(?i)\bthat'?s\s*all\b`),
	regexp.MustCompile(`(?i)\bnothing\s*else\b`),
	regexp.MustCompile(`(?i)\bhang\s*up\b`),
	regexp.MustCompile(`(?i)\bi'?m\s*done\b`),
}

func (KeywordClassifier) IsGoodbye(message string) bool {
	return matchesAny(message, goodbyePatterns)
}

func matchesAny(message string, patterns []*regexp.Regexp) bool {
	message = strings.TrimSpace(message)
	if message == "" {
		return false
	}
	for _, pat := range patterns {
		if pat.MatchString(message) {
			return true
		}
	}
	return false
}
