package twilio

import (
	"bytes"
	"encoding/xml"
)

// DefaultVoice is the text-to-speech voice used when none is configured.
const DefaultVoice = "Polly.Joanna-Neural"

type response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type say struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type gather struct {
	XMLName   xml.Name `xml:"Gather"`
	Input     string   `xml:"input,attr"`
	NumDigits int      `xml:"numDigits,attr"`
	Action    string   `xml:"action,attr"`
	Method    string   `xml:"method,attr"`
	Timeout   int      `xml:"timeout,attr"`
	Say       say
}

type hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Say renders a response that speaks message and hangs up.
func Say(message, voice string) ([]byte, error) {
	return render(response{Verbs: []any{
		say{Voice: voice, Text: message},
		hangup{},
	}})
}

// Gather renders a single-digit DTMF prompt posting to action. If no digit
// arrives within the gather timeout the caller hears a goodbye and the
// call ends.
func Gather(prompt, action, voice string) ([]byte, error) {
	return render(response{Verbs: []any{
		gather{
			Input:     "dtmf",
			NumDigits: 1,
			Action:    action,
			Method:    "POST",
			Timeout:   5,
			Say:       say{Voice: voice, Text: prompt},
		},
		say{Voice: voice, Text: "No input received. Goodbye."},
		hangup{},
	}})
}

func render(r response) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
