package signaling

import "github.com/pion/webrtc/v4"

// Fixed descriptions for scenarios that only check relaying and must not
// depend on pion's output changing between versions.
const (
	fixtureOfferSDP = "v=0\r\n" +
		"o=- 4611731400430051336 2 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"a=group:BUNDLE 0\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=mid:0\r\n" +
		"a=recvonly\r\n" +
		"a=rtpmap:96 VP8/90000\r\n"

	fixtureAnswerSDP = "v=0\r\n" +
		"o=- 1992034718335104562 2 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"a=group:BUNDLE 0\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=mid:0\r\n" +
		"a=sendonly\r\n" +
		"a=rtpmap:96 VP8/90000\r\n"
)

// FixtureOffer is a minimal, parseable video offer
func FixtureOffer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fixtureOfferSDP}
}

// FixtureAnswer is the matching answer to FixtureOffer
func FixtureAnswer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fixtureAnswerSDP}
}
