package engine

import "fmt"

func consentPrompt(personaName string) string {
	return fmt.Sprintf(
		"Hello, this is %s, an automated assistant. This call may be recorded for quality purposes. Is it okay to continue?",
		personaName,
	)
}

func greeting(personaName string) string {
	return fmt.Sprintf("Great, thank you! This is %s. How can I help you today?", personaName)
}

const (
	consentDeclined = "No problem at all. Have a good day. Goodbye."

	apologyReprompt = "I'm sorry, I didn't catch that. Could you say it again?"

	apologyFinal = "I'm sorry, I'm having trouble continuing this call. Someone will follow up with you shortly. Goodbye."

	stillProcessing = "One moment please, I'm still working on your last request."

	transferAck = "Of course. I'll have someone call you back. When is a good time to reach you?"

	transferConfirm = "Got it, I've passed that along. Someone will be in touch soon. Goodbye."

	callGoodbye = "Thanks for calling. Goodbye."
)
