package rtc

import (
	"github.com/dkeye/meshroom/internal/config"
	"github.com/pion/webrtc/v4"
)

var defaultICEServers = []webrtc.ICEServer{
	{
		URLs: []string{"stun:stun.l.google.com:19302"},
	},
}

// ICEServers converts configured servers. An empty list yields the public
// STUN default.
func ICEServers(servers []config.ICEServer) []webrtc.ICEServer {
	if len(servers) == 0 {
		return append([]webrtc.ICEServer(nil), defaultICEServers...)
	}
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		if len(s.URLs) == 0 {
			continue
		}
		srv := webrtc.ICEServer{URLs: append([]string(nil), s.URLs...), Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{ICEServers: ICEServers(nil)}
}

func WebRTCConfig(servers []config.ICEServer) webrtc.Configuration {
	return webrtc.Configuration{ICEServers: ICEServers(servers)}
}

// ClientICEServer is the RTCIceServer shape browsers accept.
type ClientICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ClientICEServers is what clients are told to use for their own peer
// connections.
func ClientICEServers(servers []config.ICEServer) []ClientICEServer {
	if len(servers) == 0 {
		servers = []config.ICEServer{{URLs: defaultICEServers[0].URLs}}
	}
	out := make([]ClientICEServer, 0, len(servers))
	for _, s := range servers {
		if len(s.URLs) == 0 {
			continue
		}
		out = append(out, ClientICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return out
}
