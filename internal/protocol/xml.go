package protocol

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
)

// DefaultApology is spoken when a call cannot be bridged
const DefaultApology = "Sorry, there was a technical issue. Please try calling again later."

// StreamElement is the <Stream> verb of the answer document
type StreamElement struct {
	XMLName       xml.Name `xml:"Stream"`
	Bidirectional bool     `xml:"bidirectional,attr"`
	KeepCallAlive bool     `xml:"keepCallAlive,attr"`
	ContentType   string   `xml:"contentType,attr"`
	AudioTrack    string   `xml:"audioTrack,attr"`
	StreamTimeout int      `xml:"streamTimeout,attr"`
	URL           string   `xml:",chardata"`
}

// SpeakElement is the <Speak> verb
type SpeakElement struct {
	XMLName xml.Name `xml:"Speak"`
	Text    string   `xml:",chardata"`
}

// HangupElement is the <Hangup/> verb
type HangupElement struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Response is a call-control document
type Response struct {
	XMLName xml.Name       `xml:"Response"`
	Speak   *SpeakElement  `xml:"Speak,omitempty"`
	Stream  *StreamElement `xml:"Stream,omitempty"`
	Hangup  *HangupElement `xml:"Hangup,omitempty"`
}

// AnswerXML returns the document that connects a call to its media stream
func AnswerXML(streamURL string, streamTimeout int) ([]byte, error) {
	if streamURL == "" {
		return nil, fmt.Errorf("stream url cannot be empty")
	}

	return marshal(Response{
		Stream: &StreamElement{
			Bidirectional: true,
			KeepCallAlive: true,
			ContentType:   fmt.Sprintf("%s;rate=%d", ContentTypeMuLaw, SampleRate),
			AudioTrack:    TrackInbound,
			StreamTimeout: streamTimeout,
			URL:           streamURL,
		},
	})
}

// ErrorXML returns a document that apologises and hangs up
func ErrorXML(message string) []byte {
	if message == "" {
		message = DefaultApology
	}

	data, err := marshal(Response{
		Speak:  &SpeakElement{Text: message},
		Hangup: &HangupElement{},
	})
	if err != nil {
		// the document has no user-controlled structure; marshalling cannot fail
		return []byte(xml.Header + "<Response><Hangup></Hangup></Response>")
	}
	return data
}

func marshal(r Response) ([]byte, error) {
	body, err := xml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// StreamURL builds the websocket URL for a call. base is the configured
// public websocket origin; when empty the request host is used over ws.
func StreamURL(base, host, callID string) string {
	if base == "" {
		base = "ws://" + host
	}
	return strings.TrimRight(base, "/") + "/media-stream/" + url.PathEscape(callID)
}
