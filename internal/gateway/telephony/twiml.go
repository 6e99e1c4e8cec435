package telephony

import (
	"encoding/xml"
	"fmt"
)

// TwiML is the instruction document returned to the vendor from webhook
// handlers. Verbs execute in order.
type TwiML struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type sayVerb struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type playVerb struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

type gatherVerb struct {
	XMLName xml.Name `xml:"Gather"`
	Input   string   `xml:"input,attr"`
	Action  string   `xml:"action,attr"`
	Method  string   `xml:"method,attr"`
	Timeout int      `xml:"speechTimeout,attr"`
	Verbs   []any
}

type hangupVerb struct {
	XMLName xml.Name `xml:"Hangup"`
}

type pauseVerb struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

// Say appends a text-to-speech verb using the vendor's built-in voices.
func (t *TwiML) Say(text string) *TwiML {
	t.Verbs = append(t.Verbs, sayVerb{Text: text})
	return t
}

// Play appends playback of synthesized audio served by this service.
func (t *TwiML) Play(audioURL string) *TwiML {
	t.Verbs = append(t.Verbs, playVerb{URL: audioURL})
	return t
}

// GatherSpeech appends a speech-capture verb that posts the caller's
// words to actionURL, speaking or playing the nested prompt first.
func (t *TwiML) GatherSpeech(actionURL string, prompt any) *TwiML {
	g := gatherVerb{
		Input:   "speech",
		Action:  actionURL,
		Method:  "POST",
		Timeout: 3,
	}
	if prompt != nil {
		g.Verbs = append(g.Verbs, prompt)
	}
	t.Verbs = append(t.Verbs, g)
	return t
}

// SayPrompt builds a Say verb for nesting inside Gather.
func SayPrompt(text string) any {
	return sayVerb{Text: text}
}

// PlayPrompt builds a Play verb for nesting inside Gather.
func PlayPrompt(audioURL string) any {
	return playVerb{URL: audioURL}
}

// Pause appends a silence of the given seconds.
func (t *TwiML) Pause(seconds int) *TwiML {
	t.Verbs = append(t.Verbs, pauseVerb{Length: seconds})
	return t
}

// Hangup appends a hangup verb, ending the call.
func (t *TwiML) Hangup() *TwiML {
	t.Verbs = append(t.Verbs, hangupVerb{})
	return t
}

// Render serializes the document with the XML header the vendor expects.
func (t *TwiML) Render() ([]byte, error) {
	body, err := xml.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("telephony: render twiml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
