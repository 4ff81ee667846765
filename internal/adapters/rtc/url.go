package rtc

import (
	"net/url"
	"regexp"
	"strings"
)

var signallingPathRe = regexp.MustCompile(`/websocket/media/proxy/api/signalling/([^?]+)`)

// SignallingTarget is the HTTP form of a stream subscription URL. The
// upstream hands out bus-style paths; HTTP POST signalling wants them
// rewritten with transport-only parameters stripped. The signature parameter
// only means something to the WebSocket transport, but the authoritative
// placement is unconfirmed, so it is carried separately and sent in a header
// as well.
type SignallingTarget struct {
	Path      string
	Signature string
}

// TransformStreamURL converts a stream subscription URL into its HTTP
// signalling endpoint form:
//
//	/websocket/media/proxy/api/signalling/{id}?signature=...&server=...
//	  -> /api/rs/media/proxy/media/{id}_callParticipant?server=...
//
// URLs already in HTTP form pass through untouched; anything else falls back
// to dropping the /websocket/ prefix.
func TransformStreamURL(streamURL string) SignallingTarget {
	if strings.Contains(streamURL, "/api/rs/media/proxy/media/") {
		return SignallingTarget{Path: pathAndQuery(streamURL)}
	}

	m := signallingPathRe.FindStringSubmatch(streamURL)
	if m == nil {
		return SignallingTarget{Path: strings.Replace(pathAndQuery(streamURL), "/websocket/", "/", 1)}
	}
	streamID := m[1]

	var signature string
	params := url.Values{}
	if i := strings.Index(streamURL, "?"); i >= 0 {
		if q, err := url.ParseQuery(streamURL[i+1:]); err == nil {
			for key, vals := range q {
				if key == "signature" {
					if len(vals) > 0 {
						signature = vals[0]
					}
					continue
				}
				for _, v := range vals {
					params.Add(key, v)
				}
			}
		}
	}

	path := "/api/rs/media/proxy/media/" + streamID + "_callParticipant"
	if enc := params.Encode(); enc != "" {
		path += "?" + enc
	}
	return SignallingTarget{Path: path, Signature: signature}
}

func pathAndQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Host == "" {
		return raw
	}
	p := u.Path
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}
