package telephony

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		AccountSID: "AC123",
		AuthToken:  "token",
		FromNumber: "+15550001111",
		BaseURL:    baseURL,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestPlaceCall(t *testing.T) {
	var gotPath string
	var gotForm url.Values
	var gotUser, gotPass string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		r.ParseForm()
		gotForm = r.PostForm
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"sid": "CA999", "status": "queued"})
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	resp, err := client.PlaceCall(context.Background(), PlaceCallRequest{
		To:                "+15552223333",
		AnswerURL:         "https://svc.example.com/voice/acme/calls/c1",
		StatusCallbackURL: "https://svc.example.com/voice/acme/calls/c1/status",
		DetectVoicemail:   true,
	})
	if err != nil {
		t.Fatalf("place call: %v", err)
	}
	if resp.SID != "CA999" {
		t.Errorf("SID: got %q", resp.SID)
	}
	if gotPath != "/2010-04-01/Accounts/AC123/Calls.json" {
		t.Errorf("path: got %q", gotPath)
	}
	if gotUser != "AC123" || gotPass != "token" {
		t.Errorf("basic auth: got %q/%q", gotUser, gotPass)
	}
	if gotForm.Get("From") != "+15550001111" {
		t.Errorf("From: got %q", gotForm.Get("From"))
	}
	if gotForm.Get("MachineDetection") != "Enable" {
		t.Errorf("MachineDetection: got %q", gotForm.Get("MachineDetection"))
	}
	if gotForm.Get("StatusCallback") == "" {
		t.Error("StatusCallback not forwarded")
	}
}

func TestPlaceCallErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid number"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	if _, err := client.PlaceCall(context.Background(), PlaceCallRequest{To: "+1555", AnswerURL: "https://x"}); err == nil {
		t.Error("expected error on 400")
	}
	if _, err := client.PlaceCall(context.Background(), PlaceCallRequest{AnswerURL: "https://x"}); err == nil {
		t.Error("expected error for missing To")
	}
	if _, err := client.PlaceCall(context.Background(), PlaceCallRequest{To: "+1555"}); err == nil {
		t.Error("expected error for missing answer url")
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(ClientConfig{AuthToken: "t", FromNumber: "+1"}); err == nil {
		t.Error("expected error for missing account sid")
	}
	if _, err := NewClient(ClientConfig{AccountSID: "AC", FromNumber: "+1"}); err == nil {
		t.Error("expected error for missing auth token")
	}
	if _, err := NewClient(ClientConfig{AccountSID: "AC", AuthToken: "t"}); err == nil {
		t.Error("expected error for missing from number")
	}
}

func TestValidateSignature(t *testing.T) {
	authToken := "test_token"
	webhookURL := "https://example.com/voice/acme/calls/c1"

	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("From", "+15551234567")
	form.Set("SpeechResult", "yes")

	req := httptest.NewRequest(http.MethodPost, webhookURL, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", computeSignature(buildSignaturePayload(webhookURL, form), authToken))

	if !ValidateSignature(req, authToken, webhookURL) {
		t.Error("expected signature validation to pass")
	}
}

func TestValidateSignatureRejects(t *testing.T) {
	authToken := "test_token"
	webhookURL := "https://example.com/voice/acme/calls/c1"

	form := url.Values{}
	form.Set("CallSid", "CA123")

	// Wrong signature.
	req := httptest.NewRequest(http.MethodPost, webhookURL, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", "bogus")
	if ValidateSignature(req, authToken, webhookURL) {
		t.Error("expected invalid signature to fail")
	}

	// Missing signature.
	req = httptest.NewRequest(http.MethodPost, webhookURL, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if ValidateSignature(req, authToken, webhookURL) {
		t.Error("expected missing signature to fail")
	}

	// Signed with a different token.
	req = httptest.NewRequest(http.MethodPost, webhookURL, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", computeSignature(buildSignaturePayload(webhookURL, form), "other_token"))
	if ValidateSignature(req, authToken, webhookURL) {
		t.Error("expected signature from wrong token to fail")
	}
}

func TestTwiMLRender(t *testing.T) {
	var doc TwiML
	doc.Say("Hello.").
		GatherSpeech("/voice/acme/calls/c1/turn", SayPrompt("How can I help?")).
		Hangup()

	out, err := doc.Render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	s := string(out)

	if !strings.HasPrefix(s, xmlHeader) {
		t.Errorf("missing xml header: %q", s[:40])
	}
	for _, want := range []string{
		"<Response>",
		"<Say>Hello.</Say>",
		`<Gather input="speech" action="/voice/acme/calls/c1/turn" method="POST"`,
		"<Say>How can I help?</Say>",
		"<Hangup></Hangup>",
		"</Response>",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("rendered twiml missing %q:\n%s", want, s)
		}
	}
}

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>`

func TestTwiMLPlay(t *testing.T) {
	var doc TwiML
	doc.Play("https://svc.example.com/voice/acme/calls/c1/audio")

	out, err := doc.Render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(string(out), "<Play>https://svc.example.com/voice/acme/calls/c1/audio</Play>") {
		t.Errorf("rendered twiml: %s", out)
	}
}

func TestMaskPhone(t *testing.T) {
	if got := maskPhone("+15551234567"); got != "****4567" {
		t.Errorf("maskPhone: got %q", got)
	}
	if got := maskPhone("123"); got != "****" {
		t.Errorf("maskPhone short: got %q", got)
	}
}
