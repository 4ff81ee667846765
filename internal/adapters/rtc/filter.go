package rtc

import (
	"net"
	"strings"

	"github.com/pion/webrtc/v4"
)

// FilterHostCandidates drops candidates the remote signalling peer can never
// reach: loopback, link-local, private-LAN addresses and mDNS .local names.
// Everything else passes through in order.
func FilterHostCandidates(candidates []webrtc.ICECandidateInit) []webrtc.ICECandidateInit {
	out := make([]webrtc.ICECandidateInit, 0, len(candidates))
	for _, c := range candidates {
		if isUnroutableCandidate(c.Candidate) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func isUnroutableCandidate(candidate string) bool {
	addr := candidateAddress(candidate)
	if addr == "" {
		return false
	}
	if strings.Contains(addr, ".local") {
		return true
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

// candidateAddress extracts the connection address from an SDP candidate
// line: "candidate:<foundation> <component> <proto> <priority> <address> <port> typ ...".
func candidateAddress(candidate string) string {
	fields := strings.Fields(candidate)
	if len(fields) < 5 {
		return ""
	}
	return fields[4]
}
